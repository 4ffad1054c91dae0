package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"velarr/internal/models"
)

// syncWatchHistory is the watch-history sub-pass: ingest new events, then
// recompute per-user-per-show velocity and current position.
func (s *Syncer) syncWatchHistory(ctx context.Context, now time.Time, res *Result) error {
	cursors, err := s.store.GetSyncCursors()
	if err != nil {
		return err
	}

	since := now.Add(-firstRunHistoryWindow)
	if !cursors.LastWatchHistorySync.IsZero() {
		since = cursors.LastWatchHistorySync.Add(-retrogradeWindow)
	}

	if err := s.pace(ctx); err != nil {
		return err
	}
	events, err := s.media.ListWatchHistory(ctx, since, historyFetchLimit)
	if err != nil {
		return fmt.Errorf("fetching watch history: %w", err)
	}

	type groupKey struct {
		userID  string
		showKey string
	}
	groups := make(map[groupKey][]models.WatchEvent)

	for _, ev := range events {
		if ev.AccountID == "" || ev.RatingKey == "" {
			log.Printf("sync: skipping malformed history event (account=%q ratingKey=%q)", ev.AccountID, ev.RatingKey)
			continue
		}
		if ev.MediaType == models.MediaTypeEpisode && ev.EpisodeNumber >= 100 {
			log.Printf("sync: skipping episode outside position encoding range: %q S%dE%d", ev.ShowTitle, ev.SeasonNumber, ev.EpisodeNumber)
			continue
		}

		we := models.WatchEvent{
			UserID:        ev.AccountID,
			RatingKey:     ev.RatingKey,
			MediaType:     ev.MediaType,
			ShowTitle:     ev.ShowTitle,
			ShowRatingKey: ev.ShowRatingKey,
			SeasonNumber:  ev.SeasonNumber,
			EpisodeNumber: ev.EpisodeNumber,
			WatchedAt:     ev.ViewedAt,
		}
		if err := s.store.InsertWatchEvent(we); err != nil {
			return err
		}
		res.EventsIngested++

		if ev.MediaType == models.MediaTypeEpisode && ev.EpisodeNumber >= 1 {
			key := groupKey{userID: ev.AccountID, showKey: ResolveShowKey(ev.ShowRatingKey, ev.ShowTitle)}
			groups[key] = append(groups[key], we)
		}
	}

	for key, group := range groups {
		if err := s.updateVelocity(key.userID, key.showKey, group); err != nil {
			return err
		}
		res.VelocitiesUpdated++
	}

	cursors.LastWatchHistorySync = now
	return s.store.SetSyncCursors(cursors)
}

// updateVelocity folds one (user, show) group of new events into the stored
// velocity row. Velocity is recomputed only when the group spans at least two
// events over a positive interval; otherwise the stored rate is kept. The
// store's upsert enforces the monotonic position/lastWatchedAt merge.
func (s *Syncer) updateVelocity(userID, showKey string, group []models.WatchEvent) error {
	sort.Slice(group, func(i, j int) bool {
		return group[i].WatchedAt.Before(group[j].WatchedAt)
	})
	latest := group[len(group)-1]

	position, err := models.ToPosition(latest.SeasonNumber, latest.EpisodeNumber)
	if err != nil {
		log.Printf("sync: skipping velocity update for %s/%s: %v", userID, showKey, err)
		return nil
	}

	existing, err := s.store.GetUserVelocity(userID, showKey)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	velocity := existing.EpisodesPerDay
	span := latest.WatchedAt.Sub(group[0].WatchedAt)
	if len(group) >= 2 && span > 0 {
		velocity = float64(len(group)) / span.Hours() * 24
	}

	_, err = s.store.UpsertUserVelocity(models.UserVelocity{
		UserID:          userID,
		ShowKey:         showKey,
		CurrentPosition: position,
		CurrentSeason:   latest.SeasonNumber,
		CurrentEpisode:  latest.EpisodeNumber,
		EpisodesPerDay:  velocity,
		EpisodesWatched: len(group),
		LastWatchedAt:   latest.WatchedAt,
	})
	return err
}
