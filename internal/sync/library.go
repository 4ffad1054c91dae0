package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"velarr/internal/models"
)

// syncLibrary is the library sub-pass: incremental recently-added fetch per
// movie/show library when a cursor exists, full fetch otherwise. Removal
// detection only runs on full fetches, at most once per quiet interval.
func (s *Syncer) syncLibrary(ctx context.Context, now time.Time, forceFull bool, res *Result) error {
	cursors, err := s.store.GetSyncCursors()
	if err != nil {
		return err
	}
	snapshot, err := s.store.GetLibraryCacheSnapshot()
	if err != nil {
		return err
	}

	libs, err := s.media.ListLibraries(ctx)
	if err != nil {
		return fmt.Errorf("listing libraries: %w", err)
	}

	s.mu.Lock()
	sweepDue := now.Sub(s.lastRemovalSweep) >= removalQuietInterval
	s.mu.Unlock()
	full := forceFull || cursors.LastLibrarySync.IsZero() || sweepDue

	var wanted []models.Library
	for _, lib := range libs {
		if lib.Type == models.MediaTypeMovie || lib.Type == models.MediaTypeShow {
			wanted = append(wanted, lib)
		}
	}

	fetched := make([][]models.LibraryItem, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, lib := range wanted {
		g.Go(func() error {
			if err := s.pace(gctx); err != nil {
				return err
			}
			var items []models.LibraryItem
			var err error
			if full {
				items, err = s.media.ListLibraryContents(gctx, lib.ID)
			} else {
				items, err = s.media.ListRecentlyAdded(gctx, lib.ID, cursors.LastLibrarySync.Add(-retrogradeWindow))
			}
			if err != nil {
				return fmt.Errorf("fetching library %s: %w", lib.ID, err)
			}
			fetched[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	current := make(map[string]models.LibraryItem)
	for _, items := range fetched {
		for _, item := range items {
			current[item.RatingKey] = item
		}
	}

	for key, item := range current {
		cached, known := snapshot[key]
		switch {
		case !known:
			if err := s.handleAddedItem(ctx, item); err != nil {
				return err
			}
			snapshot[key] = item
			res.ItemsAdded++
		case itemChanged(cached, item):
			if err := s.store.UpsertLibraryItem(item); err != nil {
				return err
			}
			snapshot[key] = item
			res.ItemsUpdated++
		}
	}

	if full {
		for key, cached := range snapshot {
			if _, present := current[key]; present {
				continue
			}
			if err := s.handleRemovedItem(now, cached); err != nil {
				return err
			}
			delete(snapshot, key)
			res.ItemsRemoved++
		}
		s.mu.Lock()
		s.lastRemovalSweep = now
		s.mu.Unlock()
	}

	if err := s.store.SetLibraryCacheSnapshot(snapshot); err != nil {
		return err
	}
	cursors.LastLibrarySync = now
	return s.store.SetSyncCursors(cursors)
}

func itemChanged(cached, current models.LibraryItem) bool {
	if cached.ViewCount != current.ViewCount {
		return true
	}
	switch {
	case cached.LastViewedAt == nil && current.LastViewedAt == nil:
		return false
	case cached.LastViewedAt == nil || current.LastViewedAt == nil:
		return true
	default:
		return !cached.LastViewedAt.Equal(*current.LastViewedAt)
	}
}

// handleAddedItem persists a newly sighted item and, for movies and shows,
// resolves its TMDB id and flips the lifecycle record to available.
func (s *Syncer) handleAddedItem(ctx context.Context, item models.LibraryItem) error {
	if err := s.store.UpsertLibraryItem(item); err != nil {
		return err
	}
	if item.Type != models.MediaTypeMovie && item.Type != models.MediaTypeShow {
		return nil
	}

	tmdbID, err := s.resolveTMDB(item)
	if err != nil {
		return err
	}
	if tmdbID == "" {
		log.Printf("sync: no TMDB id resolvable for added %s %q", item.Type, item.Title)
		return nil
	}

	if err := s.store.UpsertLifecycleRecord(models.LifecycleRecord{
		TMDBID:    tmdbID,
		MediaType: item.Type,
		RatingKey: item.RatingKey,
		Status:    models.LifecycleStatusAvailable,
	}); err != nil {
		return err
	}

	s.markRequestAvailable(ctx, tmdbID, item.Type, item.Title)
	return nil
}

// markRequestAvailable tells the intake service a requested item has landed.
// Best-effort: a failure here is logged, not fatal to the pass.
func (s *Syncer) markRequestAvailable(ctx context.Context, tmdbID string, mediaType models.MediaType, title string) {
	if s.intake == nil {
		return
	}
	tmdbInt, err := strconv.Atoi(tmdbID)
	if err != nil {
		log.Printf("sync: malformed TMDB id %q for %q", tmdbID, title)
		return
	}
	if err := s.pace(ctx); err != nil {
		return
	}
	lookup, err := s.intake.FindRequestByTMDB(ctx, tmdbInt, intakeMediaType(mediaType))
	if err != nil {
		log.Printf("sync: intake lookup for %q (TMDB %s): %v", title, tmdbID, err)
		return
	}
	if lookup.MediaID == 0 {
		return
	}
	if err := s.intake.MarkMediaAvailable(ctx, lookup.MediaID); err != nil {
		log.Printf("sync: marking %q available in intake: %v", title, err)
		return
	}
	log.Printf("sync: marked request for %q available (TMDB %s)", title, tmdbID)
}

func (s *Syncer) handleRemovedItem(now time.Time, item models.LibraryItem) error {
	if err := s.store.DeleteLibraryItem(item.RatingKey); err != nil {
		return err
	}
	if item.Type != models.MediaTypeMovie && item.Type != models.MediaTypeShow {
		return nil
	}

	rec, err := s.store.GetLifecycleRecordByRatingKey(item.RatingKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	deletedAt := now
	rec.Status = models.LifecycleStatusDeleted
	rec.DeletedAt = &deletedAt
	return s.store.UpsertLifecycleRecord(rec)
}

// resolveTMDB attempts the three-method resolution: external ids from the
// media server, exact title match against the watchlist, then the
// leetspeak-normalized fuzzy match.
func (s *Syncer) resolveTMDB(item models.LibraryItem) (string, error) {
	if item.External.TMDB != "" {
		return item.External.TMDB, nil
	}

	exact, err := s.store.FindWatchlistByTitle(item.Title, item.Type)
	if err != nil {
		return "", err
	}
	if len(exact) > 0 {
		return exact[0].TMDBID, nil
	}

	entries, err := s.store.ListAllWatchlistTitles(item.Type)
	if err != nil {
		return "", err
	}
	normalized := NormalizeTitle(item.Title)
	if normalized == "" {
		return "", nil
	}
	for _, w := range entries {
		if NormalizeTitle(w.Title) == normalized {
			log.Printf("sync: fuzzy-matched %q to watchlist title %q (TMDB %s)", item.Title, w.Title, w.TMDBID)
			return w.TMDBID, nil
		}
	}
	return "", nil
}

// repairLifecycle walks the cache and fills in lifecycle records for items
// that have none or whose TMDB id is unresolved.
func (s *Syncer) repairLifecycle(ctx context.Context, now time.Time, res *Result) error {
	snapshot, err := s.store.GetLibraryCacheSnapshot()
	if err != nil {
		return err
	}

	for _, item := range snapshot {
		if item.Type != models.MediaTypeMovie && item.Type != models.MediaTypeShow {
			continue
		}
		rec, err := s.store.GetLifecycleRecordByRatingKey(item.RatingKey)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if err == nil && rec.TMDBID != "" && rec.TMDBID != "0" {
			continue
		}

		tmdbID, err := s.resolveTMDB(item)
		if err != nil {
			return err
		}
		if tmdbID == "" {
			continue
		}
		if err := s.store.UpsertLifecycleRecord(models.LifecycleRecord{
			TMDBID:    tmdbID,
			MediaType: item.Type,
			RatingKey: item.RatingKey,
			Status:    models.LifecycleStatusAvailable,
		}); err != nil {
			return err
		}
		res.RepairedRecords++
	}

	cursors, err := s.store.GetSyncCursors()
	if err != nil {
		return err
	}
	cursors.LastLifecycleRepair = now
	return s.store.SetSyncCursors(cursors)
}
