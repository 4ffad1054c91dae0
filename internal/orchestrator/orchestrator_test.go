package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velarr/internal/cascade"
	"velarr/internal/clock"
	"velarr/internal/lifecycle"
	"velarr/internal/models"
	"velarr/internal/store"
	"velarr/internal/sync"
)

type fakeMedia struct {
	deleted []string
}

func (f *fakeMedia) Name() string                         { return "fake" }
func (f *fakeMedia) TestConnection(context.Context) error { return nil }
func (f *fakeMedia) ListLibraries(context.Context) ([]models.Library, error) {
	return nil, nil
}
func (f *fakeMedia) ListLibraryContents(context.Context, string) ([]models.LibraryItem, error) {
	return nil, nil
}
func (f *fakeMedia) ListRecentlyAdded(context.Context, string, time.Time) ([]models.LibraryItem, error) {
	return nil, nil
}
func (f *fakeMedia) GetItem(context.Context, string) (models.LibraryItem, error) {
	return models.LibraryItem{}, models.ErrNotFound
}
func (f *fakeMedia) ListChildren(context.Context, string) ([]models.LibraryItem, error) {
	return nil, nil
}
func (f *fakeMedia) ListWatchHistory(context.Context, time.Time, int) ([]models.HistoryEvent, error) {
	return nil, nil
}
func (f *fakeMedia) DeleteItem(_ context.Context, ratingKey string) error {
	f.deleted = append(f.deleted, ratingKey)
	return nil
}
func (f *fakeMedia) ListUsers(context.Context) ([]models.MediaUser, error) {
	return nil, nil
}

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *fakeMedia) {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate("../store/migrations"))

	media := &fakeMedia{}
	fixed := clock.Fixed{At: testNow}
	syncer := sync.New(st, media, sync.WithClock(fixed))
	analyzer := lifecycle.NewService(st, lifecycle.WithClock(fixed))
	deleter := cascade.NewDeleter(st, media)

	o := New(st, syncer, analyzer, deleter, DefaultConfig(), WithClock(fixed))
	return o, st, media
}

func TestLockMutualExclusion(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	require.True(t, o.tryLock("first"))
	assert.False(t, o.tryLock("second"), "only one pass may hold isRunning")
	o.unlock()
	assert.True(t, o.tryLock("third"))
	o.unlock()
}

func TestResetLockClearsStuckFlag(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	require.True(t, o.tryLock("stuck"))
	o.ResetLock()
	assert.True(t, o.tryLock("after-reset"))
	o.unlock()
}

func TestSkippedPassRecordsResult(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	require.True(t, o.tryLock("holder"))
	o.RunVelocityCleanupNow(context.Background(), true)
	o.unlock()

	result, ok := o.GetVelocityCleanupStatus()
	require.True(t, ok)
	assert.True(t, result.Skipped)
}

func TestRunNowAnalyzesAndDeletes(t *testing.T) {
	o, st, media := newTestOrchestrator(t)

	watched := testNow.Add(-20 * 24 * time.Hour)
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "100", Title: "Severed", Type: models.MediaTypeShow, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
	}))
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "101", Title: "Good News", Type: models.MediaTypeEpisode, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
		ShowRatingKey: "100", SeasonNumber: 3, EpisodeNumber: 4,
		ViewCount: 1, LastViewedAt: &watched,
	}))
	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 305, CurrentSeason: 3, CurrentEpisode: 5,
		EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: testNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	o.RunNow(context.Background(), false)

	assert.Equal(t, []string{"101"}, media.deleted, "safe episode should cascade to the media server")

	stats, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)
	assert.True(t, stats.DeletedByCleanup)
	require.NotNil(t, stats.DeletedAt)

	status := o.GetStatus()
	assert.False(t, status.IsRunning, "lock must be released after the pass")
	require.NotEmpty(t, status.Jobs)
	var analyzerResult *JobResult
	for i := range status.Jobs {
		if status.Jobs[i].Job == JobAnalyzer {
			analyzerResult = &status.Jobs[i]
		}
	}
	require.NotNil(t, analyzerResult)
	assert.Equal(t, 1, analyzerResult.Counters["deleted"])
	assert.NotEmpty(t, analyzerResult.RunID)
}

func TestRunNowDryRunDeletesNothing(t *testing.T) {
	o, st, media := newTestOrchestrator(t)

	watched := testNow.Add(-20 * 24 * time.Hour)
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "100", Title: "Severed", Type: models.MediaTypeShow, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
	}))
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "101", Title: "Good News", Type: models.MediaTypeEpisode, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
		ShowRatingKey: "100", SeasonNumber: 3, EpisodeNumber: 4,
		ViewCount: 1, LastViewedAt: &watched,
	}))
	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 305, CurrentSeason: 3, CurrentEpisode: 5,
		EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: testNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	o.RunNow(context.Background(), true)
	assert.Empty(t, media.deleted)
}

func TestRedownloadPassQueuesEmergencyOnce(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)

	var searches atomic.Int32
	sonarrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/series" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]map[string]any{{"id": 10, "tvdbId": 371980}})
		case r.URL.Path == "/api/v3/episode" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": 5, "seasonNumber": 4, "episodeNumber": 5, "hasFile": false, "monitored": true},
			})
		case r.URL.Path == "/api/v3/command" && r.Method == http.MethodPost:
			searches.Add(1)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected sonarr request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer sonarrSrv.Close()
	require.NoError(t, st.SetSonarrConfig(store.SonarrConfig{URL: sonarrSrv.URL, APIKey: "k", Enabled: true}))

	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "100", Title: "Severed", Type: models.MediaTypeShow, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
		External: models.ExternalIDs{TVDB: "371980"},
	}))
	require.NoError(t, st.UpsertEpisodeStats(models.EpisodeStats{
		ShowRatingKey: "100", SeasonNumber: 4, EpisodeNumber: 5,
		VelocityPosition: 405, IsAvailable: false,
		UsersBeyond: []string{}, UsersApproaching: []string{"alice"},
		LastAnalyzedAt: testNow.Add(-time.Hour),
	}))
	// Viewer reaches the missing episode in 18 hours.
	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 404, CurrentSeason: 4, CurrentEpisode: 4,
		EpisodesPerDay: 4.0 / 3.0, EpisodesWatched: 10,
		LastWatchedAt: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)

	o.runRedownloadPass(context.Background())

	assert.Equal(t, int32(1), searches.Load(), "one emergency order, one search command per pass")

	status := o.GetStatus()
	for _, job := range status.Jobs {
		if job.Job == JobRedownload {
			assert.Equal(t, 1, job.Counters["emergency"])
			assert.Equal(t, 0, job.Counters["proactive"], "proactive pass must not repeat the emergency order")
		}
	}
}

func TestPreviewRuleIsReadOnly(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)

	watched := testNow.Add(-20 * 24 * time.Hour)
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "100", Title: "Severed", Type: models.MediaTypeShow, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
	}))
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "101", Title: "Good News", Type: models.MediaTypeEpisode, LibraryID: "2",
		AddedAt: testNow.Add(-90 * 24 * time.Hour), UpdatedAt: testNow,
		ShowRatingKey: "100", SeasonNumber: 3, EpisodeNumber: 4,
		ViewCount: 1, LastViewedAt: &watched,
	}))
	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 305, CurrentSeason: 3, CurrentEpisode: 5,
		EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: testNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	verdicts, err := o.PreviewRule("100")
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].SafeToDelete)

	_, err = st.GetEpisodeStats("100", 3, 4)
	assert.ErrorIs(t, err, models.ErrNotFound, "preview must not persist stats")
}

func TestStartReadsVelocityCadenceFromSettings(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	require.NoError(t, st.SetSetting("analyzer.velocity_check_interval_minutes", "45"))

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	assert.Equal(t, 45*time.Minute, o.cfg.VelocityMonitorEvery,
		"settings-table velocityCheckInterval must override the configured cadence")
	o.mu.Lock()
	_, registered := o.jobs[JobVelocityMonitor]
	o.mu.Unlock()
	assert.True(t, registered)
}

func TestRefreshVelocityJobsPicksUpSettingChange(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()
	assert.Equal(t, DefaultConfig().VelocityMonitorEvery, o.cfg.VelocityMonitorEvery)

	require.NoError(t, st.SetSetting("analyzer.velocity_check_interval_minutes", "30"))
	require.NoError(t, o.RefreshVelocityJobs())

	assert.Equal(t, 30*time.Minute, o.cfg.VelocityMonitorEvery)
	o.mu.Lock()
	_, registered := o.jobs[JobVelocityMonitor]
	o.mu.Unlock()
	assert.True(t, registered, "velocity-monitor job must be re-registered after refresh")
}

func TestRefreshBeforeStartFails(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	assert.Error(t, o.RefreshVelocityJobs())
	assert.Error(t, o.RefreshSyncJob(time.Second))
	assert.Error(t, o.RefreshAnalyzerJobs("", "", ""))
	assert.Error(t, o.RefreshRedownloadJobs(0, 0))
}

func TestRefreshAnalyzerJobsRejectsInvalidCron(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	assert.Error(t, o.RefreshAnalyzerJobs("not a cron", "", ""))

	// The rest of the group must still be registered.
	o.mu.Lock()
	_, queueOK := o.jobs[JobQueueProcessor]
	_, cleanupOK := o.jobs[JobLogCleanup]
	o.mu.Unlock()
	assert.True(t, queueOK)
	assert.True(t, cleanupOK)
}

func TestRefreshSyncJobChangesCadence(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.NoError(t, o.RefreshSyncJob(15*time.Second))
	assert.Equal(t, 15*time.Second, o.cfg.SyncEvery)
}
