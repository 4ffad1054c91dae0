package lifecycle

import (
	"fmt"
	"time"

	"velarr/internal/models"
)

// unwatchedMovieRetention is how long an unwatched movie survives before it
// becomes a cleanup candidate.
const unwatchedMovieRetention = 90 * 24 * time.Hour

// MovieSafeToDelete applies the movie cleanup rule: no active watchlist
// reference, no manual protection, and either watched long enough ago or
// sitting unwatched past the retention window.
func MovieSafeToDelete(now time.Time, cfg models.Settings, movie models.LibraryItem, watchlisted, protected bool) (bool, string) {
	if protected {
		return false, "Manually protected"
	}
	if watchlisted {
		return false, "On an active watchlist"
	}

	if movie.ViewCount > 0 && movie.LastViewedAt != nil {
		since := now.Sub(*movie.LastViewedAt)
		if since >= time.Duration(cfg.MinDaysSinceWatch)*24*time.Hour {
			return true, fmt.Sprintf("Watched %d days ago", int(since.Hours()/24))
		}
		return false, fmt.Sprintf("Watched less than %d days ago", cfg.MinDaysSinceWatch)
	}

	if age := now.Sub(movie.AddedAt); age > unwatchedMovieRetention {
		return true, fmt.Sprintf("Unwatched for %d days", int(age.Hours()/24))
	}
	return false, "Unwatched, still within retention"
}
