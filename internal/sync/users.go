package sync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"velarr/internal/models"
	"velarr/internal/requestintake"
)

// syncUsers is the user-import sub-pass: it confirms the media server's
// account list is reachable and mirrors open intake requests into the
// watchlist table, which is what the analyzer's grace-period check reads.
func (s *Syncer) syncUsers(ctx context.Context, now time.Time, res *Result) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	users, err := s.media.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing media server users: %w", err)
	}
	res.UsersSeen = len(users)

	if s.intake != nil {
		if err := s.importWatchlist(ctx, res); err != nil {
			return err
		}
	}

	cursors, err := s.store.GetSyncCursors()
	if err != nil {
		return err
	}
	cursors.LastUserSync = now
	return s.store.SetSyncCursors(cursors)
}

func (s *Syncer) importWatchlist(ctx context.Context, res *Result) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	requests, err := s.intake.ListRequests(ctx, requestintake.FilterAll)
	if err != nil {
		return fmt.Errorf("listing intake requests: %w", err)
	}

	known := make(map[string]bool)
	for _, mediaType := range []models.MediaType{models.MediaTypeMovie, models.MediaTypeShow} {
		existing, err := s.store.ListAllWatchlistTitles(mediaType)
		if err != nil {
			return err
		}
		for _, w := range existing {
			known[w.UserID+"|"+w.TMDBID+"|"+string(w.MediaType)] = true
		}
	}

	open := make(map[string]bool)
	for _, req := range requests {
		if req.Media.TMDBID == 0 {
			continue
		}
		mediaType := watchlistMediaType(req.Media.MediaType)
		tmdbID := strconv.Itoa(req.Media.TMDBID)
		userID := requestUserID(req)
		key := userID + "|" + tmdbID + "|" + string(mediaType)
		open[key] = true
		if known[key] {
			continue
		}

		if err := s.pace(ctx); err != nil {
			return err
		}
		title, err := s.intake.GetTitle(ctx, req.Media.TMDBID, req.Media.MediaType)
		if err != nil {
			log.Printf("sync: resolving title for request TMDB %d: %v", req.Media.TMDBID, err)
			title = ""
		}

		if err := s.store.UpsertWatchlistEntry(models.WatchlistEntry{
			UserID:    userID,
			TMDBID:    tmdbID,
			MediaType: mediaType,
			Title:     title,
			AddedAt:   req.CreatedAt,
			IsActive:  true,
		}); err != nil {
			return err
		}
		res.WatchlistSynced++
	}

	// Requests withdrawn upstream lose their deletion immunity here.
	for _, mediaType := range []models.MediaType{models.MediaTypeMovie, models.MediaTypeShow} {
		entries, err := s.store.ListAllWatchlistTitles(mediaType)
		if err != nil {
			return err
		}
		for _, w := range entries {
			if !w.IsActive {
				continue
			}
			if open[w.UserID+"|"+w.TMDBID+"|"+string(w.MediaType)] {
				continue
			}
			w.IsActive = false
			if err := s.store.UpsertWatchlistEntry(w); err != nil {
				return err
			}
		}
	}

	return nil
}

// requestUserID prefers the media-server account id so watchlist entries
// correlate with velocity rows; intake-local ids are namespaced.
func requestUserID(req requestintake.Request) string {
	if req.Requester.PlexID > 0 {
		return strconv.FormatInt(req.Requester.PlexID, 10)
	}
	return fmt.Sprintf("intake:%d", req.Requester.ID)
}

func watchlistMediaType(intakeType string) models.MediaType {
	if intakeType == "tv" {
		return models.MediaTypeShow
	}
	return models.MediaTypeMovie
}

func intakeMediaType(t models.MediaType) string {
	if t == models.MediaTypeShow {
		return "tv"
	}
	return "movie"
}
