// Package cascade propagates a deletion decision to every external service
// that tracks the item: the media server, the TV/movie downloaders, and the
// request-intake tracker. All operations are best-effort and concurrent.
package cascade

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"velarr/internal/models"
	"velarr/internal/radarr"
	"velarr/internal/requestintake"
	"velarr/internal/sonarr"
	"velarr/internal/store"
)

const cascadeTimeout = 15 * time.Second

// Result records the outcome of a single external service cleanup.
type Result struct {
	Service string
	Success bool
	Error   string
}

// mediaDeleter is the slice of the media server contract the cascade needs.
type mediaDeleter interface {
	DeleteItem(ctx context.Context, ratingKey string) error
}

// Deleter coordinates deletion from external services after a verdict.
// Downloader/intake clients are constructed per call from stored config so
// credential changes take effect without a restart.
type Deleter struct {
	store *store.Store
	media mediaDeleter
}

func NewDeleter(s *store.Store, media mediaDeleter) *Deleter {
	return &Deleter{store: s, media: media}
}

// DeleteEpisode removes one episode: its file via the TV downloader, then
// the media server item. Returns per-service results; the caller decides
// what counts as overall success.
func (d *Deleter) DeleteEpisode(ctx context.Context, show models.LibraryItem, episode models.LibraryItem) []Result {
	var results []Result

	results = append(results, d.deleteEpisodeFromSonarr(ctx, show, episode))

	serverResult := Result{Service: "mediaserver"}
	opCtx, cancel := context.WithTimeout(ctx, cascadeTimeout)
	if err := d.media.DeleteItem(opCtx, episode.RatingKey); err != nil {
		serverResult.Error = err.Error()
		log.Printf("cascade mediaserver %q S%dE%d: %v", show.Title, episode.SeasonNumber, episode.EpisodeNumber, err)
	} else {
		serverResult.Success = true
	}
	cancel()
	results = append(results, serverResult)

	return results
}

func (d *Deleter) deleteEpisodeFromSonarr(ctx context.Context, show, episode models.LibraryItem) Result {
	cfg, err := d.store.GetSonarrConfig()
	return d.runCascade(ctx, "sonarr", show.Title, cfg, err, func(opCtx context.Context) (bool, string) {
		if show.External.TVDB == "" {
			return false, ""
		}
		client, err := sonarr.NewClient(cfg.URL, cfg.APIKey)
		if err != nil {
			return false, fmt.Sprintf("create client: %v", err)
		}

		seriesID, err := client.LookupSeriesByTVDB(opCtx, show.External.TVDB)
		if err != nil {
			return false, fmt.Sprintf("lookup TVDB %s: %v", show.External.TVDB, err)
		}
		if seriesID == 0 {
			log.Printf("cascade sonarr %q: not found (TVDB %s)", show.Title, show.External.TVDB)
			return false, ""
		}

		episodes, err := client.ListEpisodes(opCtx, seriesID)
		if err != nil {
			return false, fmt.Sprintf("list episodes: %v", err)
		}
		for _, ep := range episodes {
			if ep.SeasonNumber != episode.SeasonNumber || ep.EpisodeNumber != episode.EpisodeNumber {
				continue
			}
			if ep.Monitored {
				if err := client.MonitorEpisode(opCtx, ep.ID, false); err != nil {
					log.Printf("cascade sonarr %q S%dE%d: unmonitor: %v", show.Title, ep.SeasonNumber, ep.EpisodeNumber, err)
				}
			}
			if !ep.HasFile || ep.EpisodeFileID == 0 {
				return true, ""
			}
			if err := client.DeleteEpisodeFile(opCtx, ep.EpisodeFileID); err != nil {
				return false, fmt.Sprintf("delete file %d: %v", ep.EpisodeFileID, err)
			}
			log.Printf("cascade sonarr %q: deleted S%dE%d file %d", show.Title, ep.SeasonNumber, ep.EpisodeNumber, ep.EpisodeFileID)
			return true, ""
		}
		log.Printf("cascade sonarr %q: S%dE%d not tracked", show.Title, episode.SeasonNumber, episode.EpisodeNumber)
		return false, ""
	})
}

// DeleteMovie removes a movie everywhere: downloader (with files), media
// server, and request tracker, concurrently.
func (d *Deleter) DeleteMovie(ctx context.Context, movie models.LibraryItem, tmdbID string) []Result {
	tasks := []func() Result{
		func() Result { return d.deleteFromRadarr(ctx, tmdbID, movie.Title) },
		func() Result {
			result := Result{Service: "mediaserver"}
			opCtx, cancel := context.WithTimeout(ctx, cascadeTimeout)
			defer cancel()
			if err := d.media.DeleteItem(opCtx, movie.RatingKey); err != nil {
				result.Error = err.Error()
			} else {
				result.Success = true
			}
			return result
		},
		func() Result { return d.clearIntake(ctx, tmdbID, "movie", movie.Title) },
	}

	results := make([]Result, len(tasks))
	g, _ := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = task()
			return nil
		})
	}
	g.Wait()
	return results
}

// ClearShowReferences cleans up the request tracker and resets Sonarr's
// future-season monitoring after episodes of a show were trimmed, so the
// downloader does not immediately re-acquire them.
func (d *Deleter) ClearShowReferences(ctx context.Context, show models.LibraryItem, tmdbID string, afterSeason int) []Result {
	tasks := []func() Result{
		func() Result { return d.updateSonarrMonitoring(ctx, show, afterSeason) },
		func() Result { return d.clearIntake(ctx, tmdbID, "tv", show.Title) },
	}

	results := make([]Result, len(tasks))
	g, _ := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = task()
			return nil
		})
	}
	g.Wait()
	return results
}

// runCascade handles the common boilerplate for cascade operations:
// config check, timeout context, and error capture.
func (d *Deleter) runCascade(ctx context.Context, service, title string, cfg store.IntegrationConfig, err error, fn func(ctx context.Context) (bool, string)) Result {
	result := Result{Service: service}

	if err != nil {
		log.Printf("cascade %s %q: config fetch error: %v", service, title, err)
		return result
	}
	if cfg.URL == "" || cfg.APIKey == "" || !cfg.Enabled {
		return result
	}

	opCtx, cancel := context.WithTimeout(ctx, cascadeTimeout)
	defer cancel()

	success, errMsg := fn(opCtx)
	result.Error = errMsg
	result.Success = success
	return result
}

func (d *Deleter) deleteFromRadarr(ctx context.Context, tmdbID, title string) Result {
	cfg, err := d.store.GetRadarrConfig()
	return d.runCascade(ctx, "radarr", title, cfg, err, func(opCtx context.Context) (bool, string) {
		if tmdbID == "" {
			return false, ""
		}
		client, err := radarr.NewClient(cfg.URL, cfg.APIKey)
		if err != nil {
			return false, fmt.Sprintf("create client: %v", err)
		}

		movieID, err := client.LookupMovieByTMDB(opCtx, tmdbID)
		if err != nil {
			return false, fmt.Sprintf("lookup TMDB %s: %v", tmdbID, err)
		}
		if movieID == 0 {
			log.Printf("cascade radarr %q: not found (TMDB %s)", title, tmdbID)
			return false, ""
		}

		if err := client.DeleteMovie(opCtx, movieID, true); err != nil {
			return false, fmt.Sprintf("delete movie %d: %v", movieID, err)
		}
		log.Printf("cascade radarr %q: deleted (TMDB %s, Radarr ID %d)", title, tmdbID, movieID)
		return true, ""
	})
}

func (d *Deleter) clearIntake(ctx context.Context, tmdbID, mediaType, title string) Result {
	cfg, err := d.store.GetRequestIntakeConfig()
	return d.runCascade(ctx, "intake", title, cfg, err, func(opCtx context.Context) (bool, string) {
		if tmdbID == "" {
			return false, ""
		}
		client, err := requestintake.NewClient(cfg.URL, cfg.APIKey)
		if err != nil {
			return false, fmt.Sprintf("create client: %v", err)
		}

		tmdbInt, err := strconv.Atoi(tmdbID)
		if err != nil {
			return false, fmt.Sprintf("invalid TMDB ID %q: %v", tmdbID, err)
		}

		lookup, err := client.FindRequestByTMDB(opCtx, tmdbInt, mediaType)
		if err != nil {
			return false, fmt.Sprintf("find request TMDB %s: %v", tmdbID, err)
		}
		if lookup.RequestID == 0 && lookup.MediaID == 0 {
			log.Printf("cascade intake %q: no request or media found (TMDB %s)", title, tmdbID)
			return false, ""
		}

		if lookup.RequestID != 0 {
			if err := client.DeleteRequest(opCtx, lookup.RequestID); err != nil {
				return false, fmt.Sprintf("delete request %d: %v", lookup.RequestID, err)
			}
			log.Printf("cascade intake %q: deleted request %d (TMDB %s)", title, lookup.RequestID, tmdbID)
		}

		// Clear media data to reset the "Available" badge immediately.
		// Best-effort: the next library sync would repair it anyway.
		if lookup.MediaID != 0 {
			if err := client.DeleteMedia(opCtx, lookup.MediaID); err != nil {
				log.Printf("cascade intake %q: warning: failed to clear media %d: %v", title, lookup.MediaID, err)
			} else {
				log.Printf("cascade intake %q: cleared media %d (TMDB %s)", title, lookup.MediaID, tmdbID)
			}
		}

		return true, ""
	})
}

// updateSonarrMonitoring sets the series to future-episodes monitoring so
// trimmed seasons are not immediately re-downloaded.
func (d *Deleter) updateSonarrMonitoring(ctx context.Context, show models.LibraryItem, afterSeason int) Result {
	cfg, err := d.store.GetSonarrConfig()
	return d.runCascade(ctx, "sonarr", show.Title, cfg, err, func(opCtx context.Context) (bool, string) {
		if show.External.TVDB == "" {
			return false, ""
		}
		client, err := sonarr.NewClient(cfg.URL, cfg.APIKey)
		if err != nil {
			return false, fmt.Sprintf("create client: %v", err)
		}

		seriesID, err := client.LookupSeriesByTVDB(opCtx, show.External.TVDB)
		if err != nil {
			return false, fmt.Sprintf("lookup TVDB %s: %v", show.External.TVDB, err)
		}
		if seriesID == 0 {
			log.Printf("cascade sonarr monitoring %q: not found (TVDB %s)", show.Title, show.External.TVDB)
			return false, ""
		}

		if err := client.SetMonitorFuture(opCtx, seriesID, afterSeason, false); err != nil {
			return false, fmt.Sprintf("set monitor future: %v", err)
		}
		log.Printf("cascade sonarr monitoring %q: seasons after %d unmonitored (TVDB %s)", show.Title, afterSeason, show.External.TVDB)
		return true, ""
	})
}
