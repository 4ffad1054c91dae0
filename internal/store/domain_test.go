package store

import (
	"errors"
	"testing"
	"time"

	"velarr/internal/crypto"
	"velarr/internal/models"
)

var domainNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func mustEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptorFromPassphrase("test-passphrase")
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	return enc
}

func TestLibraryItemRoundTrip(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	viewed := domainNow.Add(-time.Hour)
	item := models.LibraryItem{
		RatingKey: "42", Title: "Inception", Year: 2010,
		Type: models.MediaTypeMovie, LibraryID: "1",
		AddedAt: domainNow.Add(-48 * time.Hour), UpdatedAt: domainNow,
		ViewCount: 2, LastViewedAt: &viewed,
		External: models.ExternalIDs{TMDB: "27205", IMDB: "tt1375666"},
	}
	if err := s.UpsertLibraryItem(item); err != nil {
		t.Fatalf("UpsertLibraryItem: %v", err)
	}

	got, err := s.GetLibraryItem("42")
	if err != nil {
		t.Fatalf("GetLibraryItem: %v", err)
	}
	if got.Title != "Inception" || got.External.TMDB != "27205" || got.ViewCount != 2 {
		t.Fatalf("unexpected item: %+v", got)
	}
	if got.LastViewedAt == nil || !got.LastViewedAt.Equal(viewed) {
		t.Fatalf("unexpected lastViewedAt: %v", got.LastViewedAt)
	}

	if err := s.DeleteLibraryItem("42"); err != nil {
		t.Fatalf("DeleteLibraryItem: %v", err)
	}
	if _, err := s.GetLibraryItem("42"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListEpisodesForShowOrdered(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	for _, ep := range []struct {
		key             string
		season, episode int
	}{
		{"103", 2, 1}, {"101", 1, 1}, {"102", 1, 2},
	} {
		if err := s.UpsertLibraryItem(models.LibraryItem{
			RatingKey: ep.key, Title: "ep", Type: models.MediaTypeEpisode, LibraryID: "2",
			AddedAt: domainNow, UpdatedAt: domainNow,
			ShowRatingKey: "100", SeasonNumber: ep.season, EpisodeNumber: ep.episode,
		}); err != nil {
			t.Fatal(err)
		}
	}

	episodes, err := s.ListEpisodesForShow("100")
	if err != nil {
		t.Fatalf("ListEpisodesForShow: %v", err)
	}
	if len(episodes) != 3 {
		t.Fatalf("expected 3 episodes, got %d", len(episodes))
	}
	if episodes[0].RatingKey != "101" || episodes[2].RatingKey != "103" {
		t.Fatalf("expected season/episode ordering, got %v %v %v",
			episodes[0].RatingKey, episodes[1].RatingKey, episodes[2].RatingKey)
	}
}

func TestWatchEventUniqueness(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	ev := models.WatchEvent{
		UserID: "7", RatingKey: "101", MediaType: models.MediaTypeEpisode,
		ShowTitle: "Severed", ShowRatingKey: "100",
		SeasonNumber: 1, EpisodeNumber: 1, WatchedAt: domainNow,
	}
	if err := s.InsertWatchEvent(ev); err != nil {
		t.Fatalf("InsertWatchEvent: %v", err)
	}
	if err := s.InsertWatchEvent(ev); err != nil {
		t.Fatalf("duplicate InsertWatchEvent should be ignored: %v", err)
	}

	events, err := s.ListWatchEventsSince(domainNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListWatchEventsSince: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after duplicate insert, got %d", len(events))
	}
}

func TestPruneWatchEventsBefore(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	for i, at := range []time.Time{domainNow.Add(-100 * 24 * time.Hour), domainNow.Add(-time.Hour)} {
		if err := s.InsertWatchEvent(models.WatchEvent{
			UserID: "7", RatingKey: "101", MediaType: models.MediaTypeEpisode,
			SeasonNumber: 1, EpisodeNumber: i + 1, WatchedAt: at,
		}); err != nil {
			t.Fatal(err)
		}
	}

	pruned, err := s.PruneWatchEventsBefore(domainNow.Add(-90 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneWatchEventsBefore: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned event, got %d", pruned)
	}
}

func TestUserVelocityMonotonicMerge(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	first := models.UserVelocity{
		UserID: "7", ShowKey: "100",
		CurrentPosition: 203, CurrentSeason: 2, CurrentEpisode: 3,
		EpisodesPerDay: 1.5, EpisodesWatched: 3,
		LastWatchedAt: domainNow,
	}
	if _, err := s.UpsertUserVelocity(first); err != nil {
		t.Fatalf("UpsertUserVelocity: %v", err)
	}

	// A late-arriving earlier observation must not regress position or time.
	merged, err := s.UpsertUserVelocity(models.UserVelocity{
		UserID: "7", ShowKey: "100",
		CurrentPosition: 201, CurrentSeason: 2, CurrentEpisode: 1,
		EpisodesPerDay: 1.5, EpisodesWatched: 1,
		LastWatchedAt: domainNow.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("UpsertUserVelocity (merge): %v", err)
	}
	if merged.CurrentPosition != 203 || merged.CurrentSeason != 2 || merged.CurrentEpisode != 3 {
		t.Fatalf("position regressed: %+v", merged)
	}
	if merged.LastWatchedAt.Before(domainNow) {
		t.Fatalf("lastWatchedAt regressed: %v", merged.LastWatchedAt)
	}
	if merged.EpisodesWatched != 4 {
		t.Fatalf("expected episodesWatched accumulated to 4, got %d", merged.EpisodesWatched)
	}

	stored, err := s.GetUserVelocity("7", "100")
	if err != nil {
		t.Fatalf("GetUserVelocity: %v", err)
	}
	if stored.CurrentPosition != 203 {
		t.Fatalf("stored position regressed: %+v", stored)
	}
}

func TestVelocitySnapshotBounded(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	for i := range 55 {
		if err := s.AppendVelocitySnapshot(models.VelocitySnapshot{
			UserID: "7", ShowKey: "100", Velocity: float64(i), Position: 100 + i,
			RecordedAt: domainNow.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendVelocitySnapshot: %v", err)
		}
	}

	snaps, err := s.ListRecentVelocitySnapshots("7", "100", 100)
	if err != nil {
		t.Fatalf("ListRecentVelocitySnapshots: %v", err)
	}
	if len(snaps) != 50 {
		t.Fatalf("expected snapshots bounded to 50, got %d", len(snaps))
	}
	if snaps[0].Velocity != 54 {
		t.Fatalf("expected most recent first, got velocity %f", snaps[0].Velocity)
	}
}

func TestLifecycleRecordLookup(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	if err := s.UpsertLifecycleRecord(models.LifecycleRecord{
		TMDBID: "95396", MediaType: models.MediaTypeShow,
		RatingKey: "100", Status: models.LifecycleStatusAvailable,
	}); err != nil {
		t.Fatalf("UpsertLifecycleRecord: %v", err)
	}

	byID, err := s.GetLifecycleRecord("95396", models.MediaTypeShow)
	if err != nil {
		t.Fatalf("GetLifecycleRecord: %v", err)
	}
	byKey, err := s.GetLifecycleRecordByRatingKey("100")
	if err != nil {
		t.Fatalf("GetLifecycleRecordByRatingKey: %v", err)
	}
	if byID != byKey {
		t.Fatalf("lookups disagree: %+v vs %+v", byID, byKey)
	}

	deletedAt := domainNow
	byID.Status = models.LifecycleStatusDeleted
	byID.DeletedAt = &deletedAt
	if err := s.UpsertLifecycleRecord(byID); err != nil {
		t.Fatalf("UpsertLifecycleRecord (update): %v", err)
	}
	got, err := s.GetLifecycleRecord("95396", models.MediaTypeShow)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.LifecycleStatusDeleted || got.DeletedAt == nil {
		t.Fatalf("expected deleted status with timestamp, got %+v", got)
	}
}

func TestFindWatchlistByTitleCaseInsensitive(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	if err := s.UpsertWatchlistEntry(models.WatchlistEntry{
		UserID: "7", TMDBID: "95396", MediaType: models.MediaTypeShow,
		Title: "Severed", AddedAt: domainNow, IsActive: true,
	}); err != nil {
		t.Fatalf("UpsertWatchlistEntry: %v", err)
	}
	if err := s.UpsertWatchlistEntry(models.WatchlistEntry{
		UserID: "8", TMDBID: "555", MediaType: models.MediaTypeShow,
		Title: "100% Wolf", AddedAt: domainNow, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}

	found, err := s.FindWatchlistByTitle("severed", models.MediaTypeShow)
	if err != nil {
		t.Fatalf("FindWatchlistByTitle: %v", err)
	}
	if len(found) != 1 || found[0].TMDBID != "95396" {
		t.Fatalf("expected case-insensitive match, got %+v", found)
	}

	// The % in the needle must match literally, not as a wildcard.
	found, err = s.FindWatchlistByTitle("100% Wolf", models.MediaTypeShow)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].TMDBID != "555" {
		t.Fatalf("expected literal %% match, got %+v", found)
	}
	if found, _ = s.FindWatchlistByTitle("100x Wolf", models.MediaTypeShow); len(found) != 0 {
		t.Fatalf("wildcard leak: %+v", found)
	}
}

func TestProtectionExclusions(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	has, err := s.HasProtectionExclusion("42", models.MediaTypeShow)
	if err != nil || has {
		t.Fatalf("expected no exclusion, got has=%v err=%v", has, err)
	}

	if err := s.AddProtectionExclusion(models.ProtectionExclusion{TMDBID: "42", MediaType: models.MediaTypeShow}); err != nil {
		t.Fatalf("AddProtectionExclusion: %v", err)
	}
	if has, _ = s.HasProtectionExclusion("42", models.MediaTypeShow); !has {
		t.Fatal("expected exclusion present")
	}

	if err := s.RemoveProtectionExclusion("42", models.MediaTypeShow); err != nil {
		t.Fatalf("RemoveProtectionExclusion: %v", err)
	}
	if has, _ = s.HasProtectionExclusion("42", models.MediaTypeShow); has {
		t.Fatal("expected exclusion removed")
	}
}

func TestSyncCursorsAndSnapshotPersistence(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	cursors := models.SyncCursors{
		LastLibrarySync:      domainNow,
		LastWatchHistorySync: domainNow.Add(-time.Minute),
	}
	if err := s.SetSyncCursors(cursors); err != nil {
		t.Fatalf("SetSyncCursors: %v", err)
	}
	got, err := s.GetSyncCursors()
	if err != nil {
		t.Fatalf("GetSyncCursors: %v", err)
	}
	if !got.LastLibrarySync.Equal(domainNow) || !got.LastWatchHistorySync.Equal(domainNow.Add(-time.Minute)) {
		t.Fatalf("unexpected cursors: %+v", got)
	}
	if !got.LastUserSync.IsZero() {
		t.Fatalf("expected unset cursor to stay zero, got %v", got.LastUserSync)
	}

	snap := LibraryCacheSnapshot{
		"42": {RatingKey: "42", Title: "Inception", Type: models.MediaTypeMovie, AddedAt: domainNow, UpdatedAt: domainNow},
	}
	if err := s.SetLibraryCacheSnapshot(snap); err != nil {
		t.Fatalf("SetLibraryCacheSnapshot: %v", err)
	}
	loaded, err := s.GetLibraryCacheSnapshot()
	if err != nil {
		t.Fatalf("GetLibraryCacheSnapshot: %v", err)
	}
	if len(loaded) != 1 || loaded["42"].Title != "Inception" {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}
}

func TestAnalyzerSettingsDefaultsAndOverrides(t *testing.T) {
	s := newTestStoreWithMigrations(t)

	cfg, err := s.GetAnalyzerSettings()
	if err != nil {
		t.Fatalf("GetAnalyzerSettings: %v", err)
	}
	defaults := models.Defaults()
	if cfg != defaults {
		t.Fatalf("expected defaults on fresh install, got %+v", cfg)
	}

	if err := s.SetSetting("analyzer.min_days_since_watch", "30"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("analyzer.trim_ahead_enabled", "false"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("analyzer.velocity_change_action", "both"); err != nil {
		t.Fatal(err)
	}

	cfg, err = s.GetAnalyzerSettings()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinDaysSinceWatch != 30 || cfg.TrimAheadEnabled || cfg.VelocityChangeAction != models.VelocityChangeActionBoth {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestIntegrationConfigEncryptedAtRest(t *testing.T) {
	enc := mustEncryptor(t)
	s, err := New(":memory:", WithEncryptor(enc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(migrationsDir()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if err := s.SetSonarrConfig(SonarrConfig{URL: "http://sonarr:8989", APIKey: "secret-key", Enabled: true}); err != nil {
		t.Fatalf("SetSonarrConfig: %v", err)
	}

	raw, err := s.GetSetting("sonarr.api_key")
	if err != nil {
		t.Fatal(err)
	}
	if raw == "secret-key" {
		t.Fatal("api key stored in plain text despite encryptor")
	}

	cfg, err := s.GetSonarrConfig()
	if err != nil {
		t.Fatalf("GetSonarrConfig: %v", err)
	}
	if cfg.APIKey != "secret-key" {
		t.Fatalf("expected decrypted key, got %q", cfg.APIKey)
	}
}
