package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"velarr/internal/models"
)

// UpsertLibraryItem inserts or updates a LibraryItem keyed on RatingKey.
func (s *Store) UpsertLibraryItem(item models.LibraryItem) error {
	_, err := s.db.Exec(`
		INSERT INTO library_items
			(rating_key, title, year, media_type, library_id, added_at, updated_at,
			 view_count, last_viewed_at, tmdb_id, tvdb_id, imdb_id,
			 show_rating_key, season_number, episode_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rating_key) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			media_type = excluded.media_type,
			library_id = excluded.library_id,
			updated_at = excluded.updated_at,
			view_count = excluded.view_count,
			last_viewed_at = excluded.last_viewed_at,
			tmdb_id = excluded.tmdb_id,
			tvdb_id = excluded.tvdb_id,
			imdb_id = excluded.imdb_id,
			show_rating_key = excluded.show_rating_key,
			season_number = excluded.season_number,
			episode_number = excluded.episode_number
	`,
		item.RatingKey, item.Title, item.Year, string(item.Type), item.LibraryID,
		item.AddedAt.UTC().Format(time.RFC3339Nano), item.UpdatedAt.UTC().Format(time.RFC3339Nano),
		item.ViewCount, nullableTime(item.LastViewedAt),
		item.External.TMDB, item.External.TVDB, item.External.IMDB,
		item.ShowRatingKey, item.SeasonNumber, item.EpisodeNumber,
	)
	if err != nil {
		return fmt.Errorf("upserting library item %s: %w", item.RatingKey, err)
	}
	return nil
}

// DeleteLibraryItem removes a LibraryItem row, used when the synchronizer's
// removal detection observes the item is no longer present upstream.
func (s *Store) DeleteLibraryItem(ratingKey string) error {
	_, err := s.db.Exec(`DELETE FROM library_items WHERE rating_key = ?`, ratingKey)
	if err != nil {
		return fmt.Errorf("deleting library item %s: %w", ratingKey, err)
	}
	return nil
}

func (s *Store) GetLibraryItem(ratingKey string) (models.LibraryItem, error) {
	row := s.db.QueryRow(`
		SELECT rating_key, title, year, media_type, library_id, added_at, updated_at,
		       view_count, last_viewed_at, tmdb_id, tvdb_id, imdb_id,
		       show_rating_key, season_number, episode_number
		FROM library_items WHERE rating_key = ?`, ratingKey)
	item, err := scanLibraryItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LibraryItem{}, models.ErrNotFound
	}
	if err != nil {
		return models.LibraryItem{}, fmt.Errorf("getting library item %s: %w", ratingKey, err)
	}
	return item, nil
}

// ListEpisodesForShow returns every episode-type LibraryItem belonging to a show.
func (s *Store) ListEpisodesForShow(showRatingKey string) ([]models.LibraryItem, error) {
	rows, err := s.db.Query(`
		SELECT rating_key, title, year, media_type, library_id, added_at, updated_at,
		       view_count, last_viewed_at, tmdb_id, tvdb_id, imdb_id,
		       show_rating_key, season_number, episode_number
		FROM library_items
		WHERE show_rating_key = ? AND media_type = ?
		ORDER BY season_number, episode_number`, showRatingKey, string(models.MediaTypeEpisode))
	if err != nil {
		return nil, fmt.Errorf("listing episodes for show %s: %w", showRatingKey, err)
	}
	defer rows.Close()

	var items []models.LibraryItem
	for rows.Next() {
		item, err := scanLibraryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListLibraryItemsByType returns every LibraryItem of a given media type, e.g.
// MediaTypeMovie for the movie cleanup pass or MediaTypeShow for the analyzer's
// show-by-show walk.
func (s *Store) ListLibraryItemsByType(mediaType models.MediaType) ([]models.LibraryItem, error) {
	rows, err := s.db.Query(`
		SELECT rating_key, title, year, media_type, library_id, added_at, updated_at,
		       view_count, last_viewed_at, tmdb_id, tvdb_id, imdb_id,
		       show_rating_key, season_number, episode_number
		FROM library_items WHERE media_type = ? ORDER BY title`, string(mediaType))
	if err != nil {
		return nil, fmt.Errorf("listing library items of type %s: %w", mediaType, err)
	}
	defer rows.Close()

	var items []models.LibraryItem
	for rows.Next() {
		item, err := scanLibraryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLibraryItem(row rowScanner) (models.LibraryItem, error) {
	var item models.LibraryItem
	var mediaType string
	var addedAt, updatedAt string
	var lastViewedAt sql.NullString

	if err := row.Scan(
		&item.RatingKey, &item.Title, &item.Year, &mediaType, &item.LibraryID,
		&addedAt, &updatedAt, &item.ViewCount, &lastViewedAt,
		&item.External.TMDB, &item.External.TVDB, &item.External.IMDB,
		&item.ShowRatingKey, &item.SeasonNumber, &item.EpisodeNumber,
	); err != nil {
		return item, err
	}

	item.Type = models.MediaType(mediaType)
	var err error
	if item.AddedAt, err = parseSQLiteTime(addedAt); err != nil {
		return item, fmt.Errorf("parsing added_at: %w", err)
	}
	if item.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return item, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastViewedAt.Valid && lastViewedAt.String != "" {
		t, err := parseSQLiteTime(lastViewedAt.String)
		if err != nil {
			return item, fmt.Errorf("parsing last_viewed_at: %w", err)
		}
		item.LastViewedAt = &t
	}
	return item, nil
}

// InsertWatchEvent appends an immutable watch event, ignoring the insert if
// the (userId, ratingKey, watchedAt) uniqueness key already exists.
func (s *Store) InsertWatchEvent(ev models.WatchEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO watch_events
			(user_id, rating_key, media_type, show_title, show_rating_key,
			 season_number, episode_number, watched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, rating_key, watched_at) DO NOTHING
	`,
		ev.UserID, ev.RatingKey, string(ev.MediaType), ev.ShowTitle, ev.ShowRatingKey,
		ev.SeasonNumber, ev.EpisodeNumber, ev.WatchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting watch event for user %s: %w", ev.UserID, err)
	}
	return nil
}

// ListWatchEventsSince returns every watch event with watchedAt >= since,
// ordered ascending so callers can group-then-fold per (user, show).
func (s *Store) ListWatchEventsSince(since time.Time) ([]models.WatchEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, rating_key, media_type, show_title, show_rating_key,
		       season_number, episode_number, watched_at
		FROM watch_events
		WHERE watched_at >= ?
		ORDER BY watched_at ASC`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("listing watch events since %s: %w", since, err)
	}
	defer rows.Close()

	var events []models.WatchEvent
	for rows.Next() {
		var ev models.WatchEvent
		var mediaType, watchedAt string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.RatingKey, &mediaType, &ev.ShowTitle,
			&ev.ShowRatingKey, &ev.SeasonNumber, &ev.EpisodeNumber, &watchedAt); err != nil {
			return nil, err
		}
		ev.MediaType = models.MediaType(mediaType)
		if ev.WatchedAt, err = parseSQLiteTime(watchedAt); err != nil {
			return nil, fmt.Errorf("parsing watched_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneWatchEventsBefore deletes watch events older than the cutoff and
// returns how many rows were removed. Velocity state derived from them is
// already folded into user_velocity, so old raw events are safe to drop.
func (s *Store) PruneWatchEventsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM watch_events WHERE watched_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("pruning watch events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned watch events: %w", err)
	}
	return n, nil
}

// UpsertUserVelocity merges an incoming velocity observation with whatever is
// stored, enforcing the §4.A monotonic invariant: the stored CurrentPosition
// (and its Season/Episode) never regresses, and LastWatchedAt never goes
// backwards. EpisodesWatched accumulates; the incoming value is the delta
// contributed by this merge, not a replacement total.
func (s *Store) UpsertUserVelocity(v models.UserVelocity) (models.UserVelocity, error) {
	existing, err := s.GetUserVelocity(v.UserID, v.ShowKey)
	found := true
	if errors.Is(err, models.ErrNotFound) {
		found = false
	} else if err != nil {
		return v, err
	}

	merged := v
	if found {
		if existing.CurrentPosition > merged.CurrentPosition {
			merged.CurrentPosition = existing.CurrentPosition
			merged.CurrentSeason = existing.CurrentSeason
			merged.CurrentEpisode = existing.CurrentEpisode
		}
		if existing.LastWatchedAt.After(merged.LastWatchedAt) {
			merged.LastWatchedAt = existing.LastWatchedAt
		}
		merged.EpisodesWatched = existing.EpisodesWatched + v.EpisodesWatched
	}
	merged.UpdatedAt = merged.LastWatchedAt

	_, err = s.db.Exec(`
		INSERT INTO user_velocity
			(user_id, show_key, current_position, current_season, current_episode,
			 episodes_per_day, episodes_watched, last_watched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, show_key) DO UPDATE SET
			current_position = excluded.current_position,
			current_season = excluded.current_season,
			current_episode = excluded.current_episode,
			episodes_per_day = excluded.episodes_per_day,
			episodes_watched = excluded.episodes_watched,
			last_watched_at = excluded.last_watched_at,
			updated_at = excluded.updated_at
	`,
		merged.UserID, merged.ShowKey, merged.CurrentPosition, merged.CurrentSeason, merged.CurrentEpisode,
		merged.EpisodesPerDay, merged.EpisodesWatched,
		merged.LastWatchedAt.UTC().Format(time.RFC3339Nano), merged.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return merged, fmt.Errorf("upserting velocity for %s/%s: %w", merged.UserID, merged.ShowKey, err)
	}
	return merged, nil
}

func (s *Store) GetUserVelocity(userID, showKey string) (models.UserVelocity, error) {
	row := s.db.QueryRow(`
		SELECT user_id, show_key, current_position, current_season, current_episode,
		       episodes_per_day, episodes_watched, last_watched_at, updated_at
		FROM user_velocity WHERE user_id = ? AND show_key = ?`, userID, showKey)
	v, err := scanUserVelocity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserVelocity{}, models.ErrNotFound
	}
	if err != nil {
		return models.UserVelocity{}, fmt.Errorf("getting velocity for %s/%s: %w", userID, showKey, err)
	}
	return v, nil
}

// ListUserVelocitiesForShow returns every user's velocity row for a show,
// the population the analyzer iterates to find active/approaching viewers.
func (s *Store) ListUserVelocitiesForShow(showKey string) ([]models.UserVelocity, error) {
	rows, err := s.db.Query(`
		SELECT user_id, show_key, current_position, current_season, current_episode,
		       episodes_per_day, episodes_watched, last_watched_at, updated_at
		FROM user_velocity WHERE show_key = ?`, showKey)
	if err != nil {
		return nil, fmt.Errorf("listing velocities for show %s: %w", showKey, err)
	}
	defer rows.Close()

	var out []models.UserVelocity
	for rows.Next() {
		v, err := scanUserVelocity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListShowKeys returns every distinct showKey with at least one velocity row,
// the driving set for the analyzer's per-show pass.
func (s *Store) ListShowKeys() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT show_key FROM user_velocity`)
	if err != nil {
		return nil, fmt.Errorf("listing show keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanUserVelocity(row rowScanner) (models.UserVelocity, error) {
	var v models.UserVelocity
	var lastWatchedAt, updatedAt string
	if err := row.Scan(&v.UserID, &v.ShowKey, &v.CurrentPosition, &v.CurrentSeason, &v.CurrentEpisode,
		&v.EpisodesPerDay, &v.EpisodesWatched, &lastWatchedAt, &updatedAt); err != nil {
		return v, err
	}
	var err error
	if v.LastWatchedAt, err = parseSQLiteTime(lastWatchedAt); err != nil {
		return v, fmt.Errorf("parsing last_watched_at: %w", err)
	}
	if v.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return v, fmt.Errorf("parsing updated_at: %w", err)
	}
	return v, nil
}

// UpsertEpisodeStats writes the analyzer's verdict for one episode. Calling
// this twice with identical inputs changes no column except LastAnalyzedAt.
func (s *Store) UpsertEpisodeStats(ep models.EpisodeStats) error {
	usersBeyond, err := json.Marshal(ep.UsersBeyond)
	if err != nil {
		return fmt.Errorf("encoding usersBeyond: %w", err)
	}
	usersApproaching, err := json.Marshal(ep.UsersApproaching)
	if err != nil {
		return fmt.Errorf("encoding usersApproaching: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO episode_stats
			(show_rating_key, season_number, episode_number, velocity_position,
			 is_available, safe_to_delete, deletion_reason, users_beyond, users_approaching,
			 last_analyzed_at, deleted_at, deleted_by_cleanup)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(show_rating_key, season_number, episode_number) DO UPDATE SET
			velocity_position = excluded.velocity_position,
			is_available = excluded.is_available,
			safe_to_delete = excluded.safe_to_delete,
			deletion_reason = excluded.deletion_reason,
			users_beyond = excluded.users_beyond,
			users_approaching = excluded.users_approaching,
			last_analyzed_at = excluded.last_analyzed_at,
			deleted_at = excluded.deleted_at,
			deleted_by_cleanup = excluded.deleted_by_cleanup
	`,
		ep.ShowRatingKey, ep.SeasonNumber, ep.EpisodeNumber, ep.VelocityPosition,
		boolToInt(ep.IsAvailable), boolToInt(ep.SafeToDelete), ep.DeletionReason,
		string(usersBeyond), string(usersApproaching),
		ep.LastAnalyzedAt.UTC().Format(time.RFC3339Nano), nullableTime(ep.DeletedAt), boolToInt(ep.DeletedByCleanup),
	)
	if err != nil {
		return fmt.Errorf("upserting episode stats %s S%dE%d: %w", ep.ShowRatingKey, ep.SeasonNumber, ep.EpisodeNumber, err)
	}
	return nil
}

func (s *Store) GetEpisodeStats(showRatingKey string, season, episode int) (models.EpisodeStats, error) {
	row := s.db.QueryRow(`
		SELECT show_rating_key, season_number, episode_number, velocity_position,
		       is_available, safe_to_delete, deletion_reason, users_beyond, users_approaching,
		       last_analyzed_at, deleted_at, deleted_by_cleanup
		FROM episode_stats WHERE show_rating_key = ? AND season_number = ? AND episode_number = ?`,
		showRatingKey, season, episode)
	ep, err := scanEpisodeStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EpisodeStats{}, models.ErrNotFound
	}
	if err != nil {
		return models.EpisodeStats{}, fmt.Errorf("getting episode stats: %w", err)
	}
	return ep, nil
}

func (s *Store) ListEpisodeStatsForShow(showRatingKey string) ([]models.EpisodeStats, error) {
	rows, err := s.db.Query(`
		SELECT show_rating_key, season_number, episode_number, velocity_position,
		       is_available, safe_to_delete, deletion_reason, users_beyond, users_approaching,
		       last_analyzed_at, deleted_at, deleted_by_cleanup
		FROM episode_stats WHERE show_rating_key = ? ORDER BY season_number, episode_number`, showRatingKey)
	if err != nil {
		return nil, fmt.Errorf("listing episode stats for %s: %w", showRatingKey, err)
	}
	defer rows.Close()

	var out []models.EpisodeStats
	for rows.Next() {
		ep, err := scanEpisodeStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// ListUnavailableEpisodeStats returns stats rows for episodes currently
// absent from the library, the candidate set for the redownload passes.
func (s *Store) ListUnavailableEpisodeStats() ([]models.EpisodeStats, error) {
	rows, err := s.db.Query(`
		SELECT show_rating_key, season_number, episode_number, velocity_position,
		       is_available, safe_to_delete, deletion_reason, users_beyond, users_approaching,
		       last_analyzed_at, deleted_at, deleted_by_cleanup
		FROM episode_stats WHERE is_available = 0 ORDER BY show_rating_key, season_number, episode_number`)
	if err != nil {
		return nil, fmt.Errorf("listing unavailable episode stats: %w", err)
	}
	defer rows.Close()

	var out []models.EpisodeStats
	for rows.Next() {
		ep, err := scanEpisodeStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// MarkEpisodeDeleted stamps a stats row after its file has actually been
// removed; the row itself is retained for audit.
func (s *Store) MarkEpisodeDeleted(showRatingKey string, season, episode int, at time.Time, byCleanup bool) error {
	_, err := s.db.Exec(`
		UPDATE episode_stats
		SET is_available = 0, deleted_at = ?, deleted_by_cleanup = ?
		WHERE show_rating_key = ? AND season_number = ? AND episode_number = ?`,
		at.UTC().Format(time.RFC3339Nano), boolToInt(byCleanup), showRatingKey, season, episode)
	if err != nil {
		return fmt.Errorf("marking episode deleted %s S%dE%d: %w", showRatingKey, season, episode, err)
	}
	return nil
}

func scanEpisodeStats(row rowScanner) (models.EpisodeStats, error) {
	var ep models.EpisodeStats
	var isAvailable, safeToDelete, deletedByCleanup int
	var usersBeyond, usersApproaching, lastAnalyzedAt string
	var deletedAt sql.NullString

	if err := row.Scan(&ep.ShowRatingKey, &ep.SeasonNumber, &ep.EpisodeNumber, &ep.VelocityPosition,
		&isAvailable, &safeToDelete, &ep.DeletionReason, &usersBeyond, &usersApproaching,
		&lastAnalyzedAt, &deletedAt, &deletedByCleanup); err != nil {
		return ep, err
	}
	ep.IsAvailable = isAvailable != 0
	ep.SafeToDelete = safeToDelete != 0
	ep.DeletedByCleanup = deletedByCleanup != 0
	if err := json.Unmarshal([]byte(usersBeyond), &ep.UsersBeyond); err != nil {
		return ep, fmt.Errorf("decoding usersBeyond: %w", err)
	}
	if err := json.Unmarshal([]byte(usersApproaching), &ep.UsersApproaching); err != nil {
		return ep, fmt.Errorf("decoding usersApproaching: %w", err)
	}
	var err error
	if ep.LastAnalyzedAt, err = parseSQLiteTime(lastAnalyzedAt); err != nil {
		return ep, fmt.Errorf("parsing last_analyzed_at: %w", err)
	}
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := parseSQLiteTime(deletedAt.String)
		if err != nil {
			return ep, fmt.Errorf("parsing deleted_at: %w", err)
		}
		ep.DeletedAt = &t
	}
	return ep, nil
}

// AppendVelocitySnapshot records a new observation and prunes anything
// beyond the last 50 for the same (userId, showKey).
func (s *Store) AppendVelocitySnapshot(snap models.VelocitySnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO velocity_snapshots (user_id, show_key, velocity, position, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.UserID, snap.ShowKey, snap.Velocity, snap.Position, snap.RecordedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("appending velocity snapshot: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM velocity_snapshots
		WHERE user_id = ? AND show_key = ? AND id NOT IN (
			SELECT id FROM velocity_snapshots
			WHERE user_id = ? AND show_key = ?
			ORDER BY recorded_at DESC LIMIT 50
		)`, snap.UserID, snap.ShowKey, snap.UserID, snap.ShowKey,
	); err != nil {
		return fmt.Errorf("pruning velocity snapshots: %w", err)
	}

	return tx.Commit()
}

// ListRecentVelocitySnapshots returns up to limit snapshots for (userId,
// showKey), most recent first — used by velocity-change monitoring to
// compare against the mean of the last 5.
func (s *Store) ListRecentVelocitySnapshots(userID, showKey string, limit int) ([]models.VelocitySnapshot, error) {
	rows, err := s.db.Query(`
		SELECT user_id, show_key, velocity, position, recorded_at
		FROM velocity_snapshots WHERE user_id = ? AND show_key = ?
		ORDER BY recorded_at DESC LIMIT ?`, userID, showKey, limit)
	if err != nil {
		return nil, fmt.Errorf("listing velocity snapshots for %s/%s: %w", userID, showKey, err)
	}
	defer rows.Close()

	var out []models.VelocitySnapshot
	for rows.Next() {
		var snap models.VelocitySnapshot
		var recordedAt string
		if err := rows.Scan(&snap.UserID, &snap.ShowKey, &snap.Velocity, &snap.Position, &recordedAt); err != nil {
			return nil, err
		}
		if snap.RecordedAt, err = parseSQLiteTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// UpsertLifecycleRecord links a (tmdbId, mediaType) pair to the ratingKey
// that currently realizes it in the library.
func (s *Store) UpsertLifecycleRecord(rec models.LifecycleRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO lifecycle_records (tmdb_id, media_type, rating_key, status, deleted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tmdb_id, media_type) DO UPDATE SET
			rating_key = excluded.rating_key,
			status = excluded.status,
			deleted_at = excluded.deleted_at
	`, rec.TMDBID, string(rec.MediaType), rec.RatingKey, string(rec.Status), nullableTime(rec.DeletedAt))
	if err != nil {
		return fmt.Errorf("upserting lifecycle record %s/%s: %w", rec.TMDBID, rec.MediaType, err)
	}
	return nil
}

func (s *Store) GetLifecycleRecord(tmdbID string, mediaType models.MediaType) (models.LifecycleRecord, error) {
	row := s.db.QueryRow(`
		SELECT tmdb_id, media_type, rating_key, status, deleted_at
		FROM lifecycle_records WHERE tmdb_id = ? AND media_type = ?`, tmdbID, string(mediaType))
	return scanLifecycleRecord(row)
}

func (s *Store) GetLifecycleRecordByRatingKey(ratingKey string) (models.LifecycleRecord, error) {
	row := s.db.QueryRow(`
		SELECT tmdb_id, media_type, rating_key, status, deleted_at
		FROM lifecycle_records WHERE rating_key = ?`, ratingKey)
	return scanLifecycleRecord(row)
}

func scanLifecycleRecord(row rowScanner) (models.LifecycleRecord, error) {
	var rec models.LifecycleRecord
	var mediaType, status string
	var deletedAt sql.NullString
	if err := row.Scan(&rec.TMDBID, &mediaType, &rec.RatingKey, &status, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, models.ErrNotFound
		}
		return rec, fmt.Errorf("scanning lifecycle record: %w", err)
	}
	rec.MediaType = models.MediaType(mediaType)
	rec.Status = models.LifecycleStatus(status)
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := parseSQLiteTime(deletedAt.String)
		if err != nil {
			return rec, fmt.Errorf("parsing deleted_at: %w", err)
		}
		rec.DeletedAt = &t
	}
	return rec, nil
}

// ListLifecycleRecordsMissingTMDB returns lifecycle rows whose tmdb_id is
// empty or "0". Cache items with no lifecycle row at all are not returned.
func (s *Store) ListLifecycleRecordsMissingTMDB() ([]models.LifecycleRecord, error) {
	rows, err := s.db.Query(`SELECT tmdb_id, media_type, rating_key, status, deleted_at FROM lifecycle_records WHERE tmdb_id = '' OR tmdb_id = '0'`)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved lifecycle records: %w", err)
	}
	defer rows.Close()

	var out []models.LifecycleRecord
	for rows.Next() {
		rec, err := scanLifecycleRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertWatchlistEntry records a user's intent to watch a show or movie.
func (s *Store) UpsertWatchlistEntry(w models.WatchlistEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO watchlist_entries (user_id, tmdb_id, media_type, title, added_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, tmdb_id, media_type) DO UPDATE SET
			title = excluded.title,
			is_active = excluded.is_active
	`, w.UserID, w.TMDBID, string(w.MediaType), w.Title, w.AddedAt.UTC().Format(time.RFC3339Nano), boolToInt(w.IsActive))
	if err != nil {
		return fmt.Errorf("upserting watchlist entry for %s: %w", w.UserID, err)
	}
	return nil
}

// ListActiveWatchlistForTMDB returns every active watchlist entry referencing
// a TMDB id, across all users — the population the grace-period check walks.
func (s *Store) ListActiveWatchlistForTMDB(tmdbID string, mediaType models.MediaType) ([]models.WatchlistEntry, error) {
	rows, err := s.db.Query(`
		SELECT user_id, tmdb_id, media_type, title, added_at, is_active
		FROM watchlist_entries WHERE tmdb_id = ? AND media_type = ? AND is_active = 1`, tmdbID, string(mediaType))
	if err != nil {
		return nil, fmt.Errorf("listing watchlist for %s: %w", tmdbID, err)
	}
	defer rows.Close()

	var out []models.WatchlistEntry
	for rows.Next() {
		var w models.WatchlistEntry
		var mt, addedAt string
		var active int
		if err := rows.Scan(&w.UserID, &w.TMDBID, &mt, &w.Title, &addedAt, &active); err != nil {
			return nil, err
		}
		w.MediaType = models.MediaType(mt)
		w.IsActive = active != 0
		if w.AddedAt, err = parseSQLiteTime(addedAt); err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListAllWatchlistTitles returns every watchlist entry of a media type for fuzzy title
// resolution during library-change processing.
func (s *Store) ListAllWatchlistTitles(mediaType models.MediaType) ([]models.WatchlistEntry, error) {
	rows, err := s.db.Query(`
		SELECT user_id, tmdb_id, media_type, title, added_at, is_active
		FROM watchlist_entries WHERE media_type = ?`, string(mediaType))
	if err != nil {
		return nil, fmt.Errorf("listing watchlist titles: %w", err)
	}
	defer rows.Close()

	var out []models.WatchlistEntry
	for rows.Next() {
		var w models.WatchlistEntry
		var mt, addedAt string
		var active int
		if err := rows.Scan(&w.UserID, &w.TMDBID, &mt, &w.Title, &addedAt, &active); err != nil {
			return nil, err
		}
		w.MediaType = models.MediaType(mt)
		w.IsActive = active != 0
		if w.AddedAt, err = parseSQLiteTime(addedAt); err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// FindWatchlistByTitle returns watchlist entries whose title matches
// case-insensitively. LIKE wildcards in the needle are escaped so a title
// containing % or _ matches literally.
func (s *Store) FindWatchlistByTitle(title string, mediaType models.MediaType) ([]models.WatchlistEntry, error) {
	rows, err := s.db.Query(`
		SELECT user_id, tmdb_id, media_type, title, added_at, is_active
		FROM watchlist_entries WHERE media_type = ? AND title LIKE ? ESCAPE '\'`,
		string(mediaType), escapeLikePattern(title))
	if err != nil {
		return nil, fmt.Errorf("finding watchlist title %q: %w", title, err)
	}
	defer rows.Close()

	var out []models.WatchlistEntry
	for rows.Next() {
		var w models.WatchlistEntry
		var mt, addedAt string
		var active int
		if err := rows.Scan(&w.UserID, &w.TMDBID, &mt, &w.Title, &addedAt, &active); err != nil {
			return nil, err
		}
		w.MediaType = models.MediaType(mt)
		w.IsActive = active != 0
		if w.AddedAt, err = parseSQLiteTime(addedAt); err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// HasProtectionExclusion reports whether a (tmdbId, mediaType) pair is
// manually protected from deletion.
func (s *Store) HasProtectionExclusion(tmdbID string, mediaType models.MediaType) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM protection_exclusions WHERE tmdb_id = ? AND media_type = ?`,
		tmdbID, string(mediaType)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking protection exclusion for %s: %w", tmdbID, err)
	}
	return count > 0, nil
}

func (s *Store) AddProtectionExclusion(ex models.ProtectionExclusion) error {
	if ex.Kind == "" {
		ex.Kind = models.ExclusionKindManualProtection
	}
	_, err := s.db.Exec(`
		INSERT INTO protection_exclusions (tmdb_id, media_type, kind) VALUES (?, ?, ?)
		ON CONFLICT(tmdb_id, media_type) DO UPDATE SET kind = excluded.kind
	`, ex.TMDBID, string(ex.MediaType), ex.Kind)
	if err != nil {
		return fmt.Errorf("adding protection exclusion for %s: %w", ex.TMDBID, err)
	}
	return nil
}

func (s *Store) RemoveProtectionExclusion(tmdbID string, mediaType models.MediaType) error {
	_, err := s.db.Exec(`DELETE FROM protection_exclusions WHERE tmdb_id = ? AND media_type = ?`, tmdbID, string(mediaType))
	if err != nil {
		return fmt.Errorf("removing protection exclusion for %s: %w", tmdbID, err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
