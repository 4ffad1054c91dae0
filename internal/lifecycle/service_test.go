package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velarr/internal/clock"
	"velarr/internal/models"
	"velarr/internal/store"
)

func newTestService(t *testing.T, at time.Time) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate("../store/migrations"))
	return NewService(st, WithClock(clock.Fixed{At: at})), st
}

func seedShow(t *testing.T, st *store.Store, now time.Time) {
	t.Helper()
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "100", Title: "Severed", Type: models.MediaTypeShow, LibraryID: "2",
		AddedAt: now.Add(-90 * 24 * time.Hour), UpdatedAt: now,
		External: models.ExternalIDs{TMDB: "95396"},
	}))
	watched := now.Add(-20 * 24 * time.Hour)
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "101", Title: "Good News", Type: models.MediaTypeEpisode, LibraryID: "2",
		AddedAt: now.Add(-90 * 24 * time.Hour), UpdatedAt: now,
		ShowRatingKey: "100", SeasonNumber: 3, EpisodeNumber: 4,
		ViewCount: 1, LastViewedAt: &watched,
	}))
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "102", Title: "Half Loop", Type: models.MediaTypeEpisode, LibraryID: "2",
		AddedAt: now.Add(-90 * 24 * time.Hour), UpdatedAt: now,
		ShowRatingKey: "100", SeasonNumber: 3, EpisodeNumber: 10,
	}))

	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 305, CurrentSeason: 3, CurrentEpisode: 5,
		EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
}

func TestServiceRunPersistsVerdicts(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	seedShow(t, st, now)

	summary, deletable, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ShowsAnalyzed)
	assert.Equal(t, 2, summary.EpisodesAnalyzed)
	assert.Equal(t, 1, summary.SafeToDelete)
	require.Len(t, deletable, 1)
	assert.Equal(t, 304, deletable[0].Position)

	stats, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)
	assert.True(t, stats.SafeToDelete)
	assert.True(t, stats.IsAvailable)
	assert.Equal(t, []string{"alice"}, stats.UsersBeyond)

	buffered, err := st.GetEpisodeStats("100", 3, 10)
	require.NoError(t, err)
	assert.False(t, buffered.SafeToDelete)
	assert.Contains(t, buffered.DeletionReason, "alice")
}

func TestServiceRunDryRunWritesNothing(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	seedShow(t, st, now)

	_, deletable, err := svc.Run(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, deletable, 1)

	_, err = st.GetEpisodeStats("100", 3, 4)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpsertSameAnalysisTwiceOnlyTouchesTimestamp(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	seedShow(t, st, now)

	_, _, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	first, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)

	svc.clock = clock.Fixed{At: now.Add(time.Hour)}
	_, _, err = svc.Run(context.Background(), false)
	require.NoError(t, err)
	second, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)

	assert.True(t, second.LastAnalyzedAt.After(first.LastAnalyzedAt))
	second.LastAnalyzedAt = first.LastAnalyzedAt
	assert.Equal(t, first, second)
}

func TestManualProtectionFromStore(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	seedShow(t, st, now)
	require.NoError(t, st.AddProtectionExclusion(models.ProtectionExclusion{
		TMDBID: "95396", MediaType: models.MediaTypeShow,
	}))

	summary, deletable, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, deletable)
	assert.Equal(t, 2, summary.Protected)

	stats, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "Manually protected", stats.DeletionReason)
}

func TestMarkAbsentEpisodes(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	seedShow(t, st, now)

	_, _, err := svc.Run(context.Background(), false)
	require.NoError(t, err)

	// Episode vanishes from the library; the next pass flips availability.
	require.NoError(t, st.DeleteLibraryItem("101"))
	svc.clock = clock.Fixed{At: now.Add(time.Hour)}
	_, _, err = svc.Run(context.Background(), false)
	require.NoError(t, err)

	stats, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)
	assert.False(t, stats.IsAvailable)
	assert.False(t, stats.SafeToDelete)

	unavailable, err := st.ListUnavailableEpisodeStats()
	require.NoError(t, err)
	require.Len(t, unavailable, 1)
	assert.Equal(t, 3, unavailable[0].SeasonNumber)
	assert.Equal(t, 4, unavailable[0].EpisodeNumber)
}

func TestMarkDeletedStampsAudit(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	seedShow(t, st, now)

	_, _, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, svc.MarkDeleted("100", 3, 4, true))

	stats, err := st.GetEpisodeStats("100", 3, 4)
	require.NoError(t, err)
	assert.False(t, stats.IsAvailable)
	assert.True(t, stats.DeletedByCleanup)
	require.NotNil(t, stats.DeletedAt)
	assert.WithinDuration(t, now, *stats.DeletedAt, time.Second)
}

func TestMovieCleanupCandidates(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)

	watched := now.Add(-30 * 24 * time.Hour)
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "m1", Title: "Old Movie", Type: models.MediaTypeMovie, LibraryID: "1",
		AddedAt: now.Add(-120 * 24 * time.Hour), UpdatedAt: now,
		ViewCount: 1, LastViewedAt: &watched,
		External: models.ExternalIDs{TMDB: "27205"},
	}))
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "m2", Title: "Fresh Movie", Type: models.MediaTypeMovie, LibraryID: "1",
		AddedAt: now.Add(-10 * 24 * time.Hour), UpdatedAt: now,
		External: models.ExternalIDs{TMDB: "603"},
	}))
	require.NoError(t, st.UpsertLibraryItem(models.LibraryItem{
		RatingKey: "m3", Title: "Wanted Movie", Type: models.MediaTypeMovie, LibraryID: "1",
		AddedAt: now.Add(-200 * 24 * time.Hour), UpdatedAt: now,
		External: models.ExternalIDs{TMDB: "550"},
	}))
	require.NoError(t, st.UpsertWatchlistEntry(models.WatchlistEntry{
		UserID: "bob", TMDBID: "550", MediaType: models.MediaTypeMovie,
		Title: "Wanted Movie", AddedAt: now.Add(-5 * 24 * time.Hour), IsActive: true,
	}))

	candidates, err := svc.MovieCleanup(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "m1", candidates[0].Movie.RatingKey)
	assert.Equal(t, "27205", candidates[0].TMDBID)
}

func TestMonitorVelocitiesAppendsSnapshots(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)

	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 305, CurrentSeason: 3, CurrentEpisode: 5,
		EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, st.AppendVelocitySnapshot(models.VelocitySnapshot{
			UserID: "alice", ShowKey: "100", Velocity: 1.0, Position: 300,
			RecordedAt: now.Add(-time.Duration(5-i) * time.Hour),
		}))
	}

	changes, err := svc.MonitorVelocities(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1, "2.0 vs baseline 1.0 crosses the 50%% threshold")
	assert.True(t, changes[0].Increased)

	snaps, err := st.ListRecentVelocitySnapshots("alice", "100", 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 6, "a fresh snapshot is appended after monitoring")
	assert.Equal(t, 2.0, snaps[0].Velocity)
}

func TestPlanShowRedownloadsEndToEnd(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)

	require.NoError(t, st.UpsertEpisodeStats(models.EpisodeStats{
		ShowRatingKey: "100", SeasonNumber: 3, EpisodeNumber: 7,
		VelocityPosition: 307, IsAvailable: false,
		UsersBeyond: []string{}, UsersApproaching: []string{},
		LastAnalyzedAt: now.Add(-time.Hour),
	}))
	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100",
		CurrentPosition: 305, CurrentSeason: 3, CurrentEpisode: 5,
		EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	orders, err := svc.PlanShowRedownloads(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "100", orders[0].ShowRatingKey)
	assert.Equal(t, 307, orders[0].Position)
}

func TestVelocityCleanupCountsStaleRows(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)

	_, err := st.UpsertUserVelocity(models.UserVelocity{
		UserID: "alice", ShowKey: "100", CurrentPosition: 305,
		CurrentSeason: 3, CurrentEpisode: 5, EpisodesPerDay: 2, EpisodesWatched: 10,
		LastWatchedAt: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = st.UpsertUserVelocity(models.UserVelocity{
		UserID: "ghost", ShowKey: "200", CurrentPosition: 101,
		CurrentSeason: 1, CurrentEpisode: 1, EpisodesPerDay: 0.1, EpisodesWatched: 2,
		LastWatchedAt: now.Add(-120 * 24 * time.Hour),
	})
	require.NoError(t, err)

	summary, err := svc.VelocityCleanup(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Examined)
	assert.Equal(t, 1, summary.Stale)
	assert.True(t, summary.DryRun)
}
