package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"velarr/internal/clock"
	"velarr/internal/models"
	"velarr/internal/store"
)

// Service runs the decision engine against the store. The decision logic
// itself stays in the pure functions of this package; Service only loads
// inputs and persists verdicts. Request-derived protection arrives through
// the watchlist table the synchronizer maintains, so no adapter is touched
// here and the analyzer stays a pure reader of state.
type Service struct {
	store *store.Store
	clock clock.Clock
}

type ServiceOption func(*Service)

func WithClock(c clock.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

func NewService(st *store.Store, opts ...ServiceOption) *Service {
	s := &Service{store: st, clock: clock.System{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSummary is one analyzer pass's last-result record.
type RunSummary struct {
	Timestamp        time.Time
	DryRun           bool
	ShowsAnalyzed    int
	EpisodesAnalyzed int
	SafeToDelete     int
	Protected        int
	Skipped          int
}

// Run analyzes every show in the library cache, persists
// episode stats, and returns the episodes judged safe to delete. Deletion
// itself is the orchestrator's job.
func (s *Service) Run(ctx context.Context, dryRun bool) (RunSummary, []EpisodeVerdict, error) {
	now := s.clock.Now()
	summary := RunSummary{Timestamp: now, DryRun: dryRun}

	cfg, err := s.store.GetAnalyzerSettings()
	if err != nil {
		return summary, nil, err
	}
	if !cfg.Enabled {
		log.Println("analyzer: disabled, skipping pass")
		return summary, nil, nil
	}

	shows, err := s.store.ListLibraryItemsByType(models.MediaTypeShow)
	if err != nil {
		return summary, nil, err
	}

	var deletable []EpisodeVerdict
	for _, show := range shows {
		if ctx.Err() != nil {
			return summary, deletable, ctx.Err()
		}

		input, err := s.buildShowInput(show)
		if err != nil {
			return summary, deletable, fmt.Errorf("assembling inputs for %q: %w", show.Title, err)
		}
		if len(input.Episodes) == 0 {
			summary.Skipped++
			continue
		}

		verdicts := AnalyzeShow(now, cfg, input)
		summary.ShowsAnalyzed++
		for _, v := range verdicts {
			summary.EpisodesAnalyzed++
			if v.SafeToDelete {
				summary.SafeToDelete++
				deletable = append(deletable, v)
			} else {
				summary.Protected++
			}
			if dryRun {
				continue
			}
			if err := s.persistVerdict(now, v); err != nil {
				return summary, deletable, err
			}
		}

		if !dryRun {
			if err := s.markAbsentEpisodes(now, input); err != nil {
				return summary, deletable, err
			}
		}
	}

	return summary, deletable, nil
}

// AnalyzeOne runs the decision engine for a single show, without persisting
// anything. Used for previews.
func (s *Service) AnalyzeOne(showRatingKey string) ([]EpisodeVerdict, error) {
	cfg, err := s.store.GetAnalyzerSettings()
	if err != nil {
		return nil, err
	}
	show, err := s.store.GetLibraryItem(showRatingKey)
	if err != nil {
		return nil, err
	}
	input, err := s.buildShowInput(show)
	if err != nil {
		return nil, err
	}
	return AnalyzeShow(s.clock.Now(), cfg, input), nil
}

// RunOne analyzes a single show and, outside dry runs, persists its verdicts
// the same way a full pass would.
func (s *Service) RunOne(showRatingKey string, dryRun bool) ([]EpisodeVerdict, error) {
	now := s.clock.Now()
	verdicts, err := s.AnalyzeOne(showRatingKey)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return verdicts, nil
	}
	for _, v := range verdicts {
		if err := s.persistVerdict(now, v); err != nil {
			return verdicts, err
		}
	}
	return verdicts, nil
}

func (s *Service) buildShowInput(show models.LibraryItem) (ShowInput, error) {
	input := ShowInput{Show: show}

	episodes, err := s.store.ListEpisodesForShow(show.RatingKey)
	if err != nil {
		return input, err
	}
	input.Episodes = episodes

	velocities, err := s.store.ListUserVelocitiesForShow(show.RatingKey)
	if err != nil {
		return input, err
	}
	input.Velocities = velocities

	input.TMDBID = show.External.TMDB
	if input.TMDBID == "" {
		rec, err := s.store.GetLifecycleRecordByRatingKey(show.RatingKey)
		if err == nil {
			input.TMDBID = rec.TMDBID
		} else if !errors.Is(err, models.ErrNotFound) {
			return input, err
		}
	}

	if input.TMDBID != "" {
		protected, err := s.store.HasProtectionExclusion(input.TMDBID, models.MediaTypeShow)
		if err != nil {
			return input, err
		}
		input.Protected = protected

		// Watchlist/request state feeds the grace check; a failure here must
		// not unprotect the show, so it is recorded instead of returned.
		watchlist, err := s.store.ListActiveWatchlistForTMDB(input.TMDBID, models.MediaTypeShow)
		if err != nil {
			input.GraceCheckErr = err
			log.Printf("analyzer: watchlist lookup for %q failed, failing safe: %v", show.Title, err)
		} else {
			input.Watchlist = watchlist
		}
	}

	return input, nil
}

func (s *Service) persistVerdict(now time.Time, v EpisodeVerdict) error {
	return s.store.UpsertEpisodeStats(models.EpisodeStats{
		ShowRatingKey:    v.ShowRatingKey,
		SeasonNumber:     v.SeasonNumber,
		EpisodeNumber:    v.EpisodeNumber,
		VelocityPosition: v.Position,
		IsAvailable:      true,
		SafeToDelete:     v.SafeToDelete,
		DeletionReason:   v.Reason,
		UsersBeyond:      append([]string{}, v.UsersBeyond...),
		UsersApproaching: append([]string{}, v.UsersApproaching...),
		LastAnalyzedAt:   now,
	})
}

// markAbsentEpisodes flips is_available off for stats rows whose episode is
// no longer in the library, preserving deletion stamps for audit.
func (s *Service) markAbsentEpisodes(now time.Time, in ShowInput) error {
	existing, err := s.store.ListEpisodeStatsForShow(in.Show.RatingKey)
	if err != nil {
		return err
	}
	present := make(map[int]bool, len(in.Episodes))
	for _, ep := range in.Episodes {
		present[ep.SeasonNumber*100+ep.EpisodeNumber] = true
	}
	for _, st := range existing {
		if present[st.SeasonNumber*100+st.EpisodeNumber] || !st.IsAvailable {
			continue
		}
		st.IsAvailable = false
		st.SafeToDelete = false
		st.LastAnalyzedAt = now
		if err := s.store.UpsertEpisodeStats(st); err != nil {
			return err
		}
	}
	return nil
}

// MarkDeleted stamps an episode's stats row after its file was removed.
func (s *Service) MarkDeleted(showRatingKey string, season, episode int, byCleanup bool) error {
	return s.store.MarkEpisodeDeleted(showRatingKey, season, episode, s.clock.Now(), byCleanup)
}

// MovieCandidate is a movie the cleanup rule judged deletable.
type MovieCandidate struct {
	Movie  models.LibraryItem
	TMDBID string
	Reason string
}

// MovieCleanup applies the movie rule to every movie in the cache and
// returns the deletable candidates.
func (s *Service) MovieCleanup(ctx context.Context) ([]MovieCandidate, error) {
	now := s.clock.Now()
	cfg, err := s.store.GetAnalyzerSettings()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	movies, err := s.store.ListLibraryItemsByType(models.MediaTypeMovie)
	if err != nil {
		return nil, err
	}

	var candidates []MovieCandidate
	for _, movie := range movies {
		if ctx.Err() != nil {
			return candidates, ctx.Err()
		}

		tmdbID := movie.External.TMDB
		if tmdbID == "" {
			rec, err := s.store.GetLifecycleRecordByRatingKey(movie.RatingKey)
			if err == nil {
				tmdbID = rec.TMDBID
			} else if !errors.Is(err, models.ErrNotFound) {
				return candidates, err
			}
		}

		var watchlisted, protected bool
		if tmdbID != "" {
			entries, err := s.store.ListActiveWatchlistForTMDB(tmdbID, models.MediaTypeMovie)
			if err != nil {
				return candidates, err
			}
			watchlisted = len(entries) > 0
			if protected, err = s.store.HasProtectionExclusion(tmdbID, models.MediaTypeMovie); err != nil {
				return candidates, err
			}
		}

		safe, reason := MovieSafeToDelete(now, cfg, movie, watchlisted, protected)
		if safe {
			candidates = append(candidates, MovieCandidate{Movie: movie, TMDBID: tmdbID, Reason: reason})
		}
	}
	return candidates, nil
}

// MonitorVelocities compares every velocity row against its snapshot
// baseline, appends fresh snapshots, and returns shows whose viewers sped
// up enough to warrant queueing redownloads.
func (s *Service) MonitorVelocities(ctx context.Context) ([]VelocityChange, error) {
	now := s.clock.Now()
	cfg, err := s.store.GetAnalyzerSettings()
	if err != nil {
		return nil, err
	}
	if !cfg.VelocityMonitoringEnabled {
		return nil, nil
	}

	showKeys, err := s.store.ListShowKeys()
	if err != nil {
		return nil, err
	}

	var changes []VelocityChange
	for _, showKey := range showKeys {
		if ctx.Err() != nil {
			return changes, ctx.Err()
		}
		velocities, err := s.store.ListUserVelocitiesForShow(showKey)
		if err != nil {
			return changes, err
		}
		for _, v := range velocities {
			snapshots, err := s.store.ListRecentVelocitySnapshots(v.UserID, v.ShowKey, snapshotWindow)
			if err != nil {
				return changes, err
			}
			if change, ok := DetectVelocityChange(v, snapshots, cfg.VelocityChangeThreshold); ok {
				log.Printf("analyzer: velocity change for %s/%s: %.2f -> %.2f eps/day",
					change.UserID, change.ShowKey, change.Previous, change.Current)
				if change.Increased && cfg.VelocityChangeAction != models.VelocityChangeActionAlert {
					changes = append(changes, change)
				}
			}
			if err := s.store.AppendVelocitySnapshot(models.VelocitySnapshot{
				UserID:     v.UserID,
				ShowKey:    v.ShowKey,
				Velocity:   v.EpisodesPerDay,
				Position:   v.CurrentPosition,
				RecordedAt: now,
			}); err != nil {
				return changes, err
			}
		}
	}
	return changes, nil
}

// PlanShowRedownloads loads the absent-episode stats grouped by show and
// plans orders at the given urgency.
func (s *Service) PlanShowRedownloads(ctx context.Context, emergency bool) ([]RedownloadOrder, error) {
	cfg, err := s.store.GetAnalyzerSettings()
	if err != nil {
		return nil, err
	}
	if !cfg.RedownloadEnabled {
		return nil, nil
	}
	if !emergency && !cfg.ProactiveRedownload {
		return nil, nil
	}

	stats, err := s.store.ListUnavailableEpisodeStats()
	if err != nil {
		return nil, err
	}

	byShow := make(map[string][]models.EpisodeStats)
	for _, st := range stats {
		byShow[st.ShowRatingKey] = append(byShow[st.ShowRatingKey], st)
	}

	now := s.clock.Now()
	var orders []RedownloadOrder
	for showKey, showStats := range byShow {
		if ctx.Err() != nil {
			return orders, ctx.Err()
		}
		velocities, err := s.store.ListUserVelocitiesForShow(showKey)
		if err != nil {
			return orders, err
		}
		orders = append(orders, PlanRedownloads(now, cfg, showStats, velocities, emergency)...)
	}
	return orders, nil
}

// VelocityCleanupSummary is the last-result record of the cleanup job that
// counts velocity rows for users gone idle past the active window.
type VelocityCleanupSummary struct {
	Timestamp time.Time
	DryRun    bool
	Examined  int
	Stale     int
}

// VelocityCleanup counts (and, outside dry runs, logs) velocity rows whose
// viewer has been idle far beyond the active window. Rows are kept — the
// monotonic history stays intact — but stale viewers stop influencing
// buffers simply by failing the active check, so this pass only reports.
func (s *Service) VelocityCleanup(ctx context.Context, dryRun bool) (VelocityCleanupSummary, error) {
	now := s.clock.Now()
	summary := VelocityCleanupSummary{Timestamp: now, DryRun: dryRun}

	cfg, err := s.store.GetAnalyzerSettings()
	if err != nil {
		return summary, err
	}
	staleAfter := 2 * time.Duration(cfg.ActiveViewerDays) * 24 * time.Hour

	showKeys, err := s.store.ListShowKeys()
	if err != nil {
		return summary, err
	}
	for _, showKey := range showKeys {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		velocities, err := s.store.ListUserVelocitiesForShow(showKey)
		if err != nil {
			return summary, err
		}
		for _, v := range velocities {
			summary.Examined++
			if now.Sub(v.LastWatchedAt) > staleAfter {
				summary.Stale++
				if !dryRun {
					log.Printf("analyzer: velocity for %s/%s stale since %s", v.UserID, v.ShowKey, v.LastWatchedAt.Format(time.RFC3339))
				}
			}
		}
	}
	return summary, nil
}
