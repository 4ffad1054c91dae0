// Package lifecycle is the velocity-based decision engine: per-episode
// safe-to-delete verdicts, per-user buffer zones, redownload planning, and
// the movie cleanup rule. The decision functions are pure; Service wires
// them to the store.
package lifecycle

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"velarr/internal/models"
)

// BufferZone is the protected range of positions ahead of one active viewer.
type BufferZone struct {
	UserID          string
	CurrentPosition int
	ProtectUntil    int
	Velocity        float64
	Source          models.VelocitySource
	Active          bool
}

// ComputeBufferZone derives how far ahead of a viewer episodes must be
// preserved. The buffer never exceeds maxEpisodesAhead, so
// ProtectUntil <= CurrentPosition + maxEpisodesAhead always holds.
func ComputeBufferZone(now time.Time, cfg models.Settings, v models.UserVelocity) BufferZone {
	zone := BufferZone{
		UserID:          v.UserID,
		CurrentPosition: v.CurrentPosition,
		Velocity:        v.EpisodesPerDay,
		Active:          now.Sub(v.LastWatchedAt) <= time.Duration(cfg.ActiveViewerDays)*24*time.Hour,
	}

	var buffer int
	switch {
	case v.EpisodesWatched >= cfg.MinVelocitySamples && v.EpisodesPerDay > 0:
		zone.Source = models.VelocitySourceMeasured
		buffer = int(math.Ceil(v.EpisodesPerDay*float64(cfg.TrimDaysAhead))) + cfg.ProtectEpisodesAhead
	case v.EpisodesPerDay > 0:
		zone.Source = models.VelocitySourceEstimated
		buffer = int(math.Ceil(v.EpisodesPerDay * float64(cfg.TrimDaysAhead)))
		if buffer < cfg.UnknownVelocityBuffer {
			buffer = cfg.UnknownVelocityBuffer
		}
		buffer += cfg.ProtectEpisodesAhead
	default:
		zone.Source = models.VelocitySourceDefault
		buffer = cfg.UnknownVelocityBuffer + cfg.ProtectEpisodesAhead
	}

	if buffer > cfg.MaxEpisodesAhead {
		buffer = cfg.MaxEpisodesAhead
	}
	zone.ProtectUntil = v.CurrentPosition + buffer
	return zone
}

func (z BufferZone) contains(position int) bool {
	return z.CurrentPosition < position && position <= z.ProtectUntil
}

// daysUntilNeeded estimates when an approaching viewer reaches a position;
// a stalled viewer is assumed to resume at the configured default rate.
func daysUntilNeeded(z BufferZone, position int, defaultVelocity float64) float64 {
	velocity := z.Velocity
	if velocity <= 0 {
		velocity = defaultVelocity
	}
	if velocity <= 0 {
		velocity = 1
	}
	return float64(position-z.CurrentPosition) / velocity
}

// ShowInput is everything the per-show analysis reads.
type ShowInput struct {
	Show       models.LibraryItem
	TMDBID     string
	Episodes   []models.LibraryItem
	Velocities []models.UserVelocity

	// Watchlist holds the active entries referencing the show's TMDB id.
	// Open intake requests are mirrored into the watchlist table by the
	// synchronizer, so request-derived protection arrives here too.
	Watchlist []models.WatchlistEntry

	// Protected is set when a manual protection exclusion exists.
	Protected bool

	// GraceCheckErr records a failure assembling watchlist/request state;
	// when set, every episode is treated as protected (fail safe).
	GraceCheckErr error
}

// EpisodeVerdict is the analyzer's decision for one episode.
type EpisodeVerdict struct {
	ShowRatingKey    string
	SeasonNumber     int
	EpisodeNumber    int
	Position         int
	SafeToDelete     bool
	Reason           string
	UsersBeyond      []string
	UsersApproaching []string
}

// AnalyzeShow runs the ordered safe-to-delete checks for every episode of
// one show. The first matching check wins.
func AnalyzeShow(now time.Time, cfg models.Settings, in ShowInput) []EpisodeVerdict {
	zones := make([]BufferZone, 0, len(in.Velocities))
	for _, v := range in.Velocities {
		zone := ComputeBufferZone(now, cfg, v)
		if zone.Active {
			zones = append(zones, zone)
		}
	}

	graceProtected, graceReason := watchlistGrace(now, cfg, in)

	verdicts := make([]EpisodeVerdict, 0, len(in.Episodes))
	for _, ep := range in.Episodes {
		verdicts = append(verdicts, analyzeEpisode(now, cfg, in, ep, zones, graceProtected, graceReason))
	}
	return verdicts
}

// watchlistGrace decides whether the whole show is under watchlist/request
// protection. Any error while assembling inputs protects the show.
func watchlistGrace(now time.Time, cfg models.Settings, in ShowInput) (bool, string) {
	if in.GraceCheckErr != nil {
		return true, fmt.Sprintf("Protected (watchlist check failed: %v)", in.GraceCheckErr)
	}

	byUser := make(map[string]models.UserVelocity, len(in.Velocities))
	for _, v := range in.Velocities {
		byUser[v.UserID] = v
	}

	grace := time.Duration(cfg.WatchlistGraceDays) * 24 * time.Hour
	for _, w := range in.Watchlist {
		if !w.IsActive {
			continue
		}
		// A viewer with velocity data showing progress has lifted the
		// protection, even inside the grace window.
		v, started := byUser[w.UserID]
		if started && v.CurrentPosition > 0 {
			continue
		}
		if started && now.Sub(w.AddedAt) <= grace {
			return true, fmt.Sprintf("On %s's watchlist within grace period", w.UserID)
		}
		return true, fmt.Sprintf("On %s's watchlist, not started", w.UserID)
	}

	return false, ""
}

func analyzeEpisode(now time.Time, cfg models.Settings, in ShowInput, ep models.LibraryItem, zones []BufferZone, graceProtected bool, graceReason string) EpisodeVerdict {
	position := ep.SeasonNumber*100 + ep.EpisodeNumber
	verdict := EpisodeVerdict{
		ShowRatingKey: in.Show.RatingKey,
		SeasonNumber:  ep.SeasonNumber,
		EpisodeNumber: ep.EpisodeNumber,
		Position:      position,
	}
	for _, z := range zones {
		if z.CurrentPosition >= position {
			verdict.UsersBeyond = append(verdict.UsersBeyond, z.UserID)
		} else {
			verdict.UsersApproaching = append(verdict.UsersApproaching, z.UserID)
		}
	}
	sort.Strings(verdict.UsersBeyond)
	sort.Strings(verdict.UsersApproaching)

	// 1. Manual protection overrides everything.
	if in.Protected {
		verdict.Reason = "Manually protected"
		return verdict
	}

	// 2. Watchlist grace / unstarted requesters.
	if graceProtected {
		verdict.Reason = graceReason
		return verdict
	}

	// 3. Inside any active viewer's buffer zone.
	var inBuffer []string
	for _, z := range zones {
		if z.contains(position) {
			inBuffer = append(inBuffer, z.UserID)
		}
	}
	if len(inBuffer) > 0 {
		sort.Strings(inBuffer)
		verdict.Reason = fmt.Sprintf("In buffer zone for %s", strings.Join(inBuffer, ", "))
		return verdict
	}

	// 4. An approaching viewer needs it soon and it falls in their buffer.
	for _, z := range zones {
		if z.CurrentPosition >= position {
			continue
		}
		if daysUntilNeeded(z, position, cfg.DefaultVelocity) <= float64(cfg.VelocityBufferDays) && z.contains(position) {
			verdict.Reason = fmt.Sprintf("%s approaching within %d days", z.UserID, cfg.VelocityBufferDays)
			return verdict
		}
	}

	// 5. Strict mode: every viewer with the episode in buffer must be past it.
	if cfg.RequireAllUsersWatched {
		for _, z := range zones {
			if z.contains(position) && z.CurrentPosition < position {
				verdict.Reason = fmt.Sprintf("Waiting for %s to watch", z.UserID)
				return verdict
			}
		}
	}

	// 6. Recently watched.
	if ep.LastViewedAt != nil && now.Sub(*ep.LastViewedAt) < time.Duration(cfg.MinDaysSinceWatch)*24*time.Hour {
		verdict.Reason = fmt.Sprintf("Watched less than %d days ago", cfg.MinDaysSinceWatch)
		return verdict
	}

	// 7. Far-ahead trim: unwatched episodes beyond every active buffer.
	if cfg.TrimAheadEnabled && hasWatchActivity(in, zones) && len(zones) > 0 && ep.ViewCount == 0 {
		maxProtect := 0
		fastest := 0
		anyVelocity := false
		for _, z := range zones {
			if z.ProtectUntil > maxProtect {
				maxProtect = z.ProtectUntil
			}
			if z.CurrentPosition > fastest {
				fastest = z.CurrentPosition
			}
			if z.Velocity > 0 {
				anyVelocity = true
			}
		}
		if !anyVelocity {
			maxProtect = fastest + cfg.UnknownVelocityBuffer + cfg.ProtectEpisodesAhead
		}
		if limit := fastest + cfg.MaxEpisodesAhead; maxProtect > limit {
			maxProtect = limit
		}
		if position > maxProtect {
			verdict.SafeToDelete = true
			verdict.Reason = fmt.Sprintf("Far ahead of all viewers (position %d > %d)", position, maxProtect)
			return verdict
		}
	}

	// 8. Never watched and nobody past it: keep.
	if ep.ViewCount == 0 && len(verdict.UsersBeyond) == 0 {
		verdict.Reason = "Never watched"
		return verdict
	}

	// 9. Past everyone who is still watching.
	verdict.SafeToDelete = true
	verdict.Reason = "Past all active users"
	return verdict
}

// hasWatchActivity is true when the show demonstrably has viewers: a view
// count on any episode, or an active viewer with progress. Some media
// servers do not expose per-user counts, hence the disjunction.
func hasWatchActivity(in ShowInput, zones []BufferZone) bool {
	if in.Show.ViewCount > 0 {
		return true
	}
	for _, ep := range in.Episodes {
		if ep.ViewCount > 0 {
			return true
		}
	}
	for _, z := range zones {
		if z.CurrentPosition > 0 {
			return true
		}
	}
	return false
}
