package orchestrator

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"velarr/internal/lifecycle"
	"velarr/internal/models"
	"velarr/internal/sonarr"
)

// executePace spaces downloader calls so a large order batch cannot flood
// Sonarr.
var executePace = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

// executeOrders pushes redownload orders to the TV downloader: re-monitor
// the episode and queue a search. Each episode is handled at most once per
// call; failures are logged and skipped so one bad order cannot stall the
// rest. Returns the number of episodes queued.
func (o *Orchestrator) executeOrders(ctx context.Context, orders []lifecycle.RedownloadOrder) int {
	if len(orders) == 0 {
		return 0
	}

	cfg, err := o.store.GetSonarrConfig()
	if err != nil {
		log.Printf("orchestrator: sonarr config: %v", err)
		return 0
	}
	if cfg.URL == "" || cfg.APIKey == "" || !cfg.Enabled {
		log.Printf("orchestrator: %d redownload orders pending but sonarr is not configured", len(orders))
		return 0
	}
	client, err := sonarr.NewClient(cfg.URL, cfg.APIKey)
	if err != nil {
		log.Printf("orchestrator: sonarr client: %v", err)
		return 0
	}

	type seriesEpisodes struct {
		seriesID int
		episodes []sonarr.Episode
	}
	seriesCache := make(map[string]*seriesEpisodes)
	seen := make(map[string]bool)
	queued := 0

	for _, order := range orders {
		key := order.ShowRatingKey
		dedupe := key + ":" + strconv.Itoa(order.Position)
		if seen[dedupe] {
			continue
		}
		seen[dedupe] = true

		cache, ok := seriesCache[key]
		if !ok {
			cache = &seriesEpisodes{}
			seriesCache[key] = cache

			show, err := o.store.GetLibraryItem(key)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					log.Printf("orchestrator: show %s: %v", key, err)
				}
				continue
			}
			if show.External.TVDB == "" {
				log.Printf("orchestrator: show %q has no TVDB id, cannot queue redownloads", show.Title)
				continue
			}

			if err := executePace.Wait(ctx); err != nil {
				return queued
			}
			seriesID, err := client.LookupSeriesByTVDB(ctx, show.External.TVDB)
			if err != nil {
				log.Printf("orchestrator: sonarr lookup for %q: %v", show.Title, err)
				continue
			}
			if seriesID == 0 {
				log.Printf("orchestrator: %q not tracked by sonarr (TVDB %s)", show.Title, show.External.TVDB)
				continue
			}

			if err := executePace.Wait(ctx); err != nil {
				return queued
			}
			episodes, err := client.ListEpisodes(ctx, seriesID)
			if err != nil {
				log.Printf("orchestrator: sonarr episodes for %q: %v", show.Title, err)
				continue
			}
			cache.seriesID = seriesID
			cache.episodes = episodes
		}
		if cache.seriesID == 0 {
			continue
		}

		var target *sonarr.Episode
		for i := range cache.episodes {
			ep := &cache.episodes[i]
			if ep.SeasonNumber == order.SeasonNumber && ep.EpisodeNumber == order.EpisodeNumber {
				target = ep
				break
			}
		}
		if target == nil {
			log.Printf("orchestrator: S%dE%d of show %s not tracked by sonarr", order.SeasonNumber, order.EpisodeNumber, key)
			continue
		}
		if target.HasFile {
			continue
		}

		if !target.Monitored {
			if err := executePace.Wait(ctx); err != nil {
				return queued
			}
			if err := client.MonitorEpisode(ctx, target.ID, true); err != nil {
				log.Printf("orchestrator: monitor episode %d: %v", target.ID, err)
				continue
			}
		}
		if err := executePace.Wait(ctx); err != nil {
			return queued
		}
		if err := client.SearchEpisode(ctx, target.ID); err != nil {
			log.Printf("orchestrator: search episode %d: %v", target.ID, err)
			continue
		}

		urgency := "proactive"
		if order.Emergency {
			urgency = "EMERGENCY"
		}
		log.Printf("orchestrator: %s redownload queued for show %s S%dE%d (needed by %s for %s)",
			urgency, key, order.SeasonNumber, order.EpisodeNumber, order.NeededBy.Format(time.RFC3339), order.UserID)
		queued++
	}
	return queued
}
