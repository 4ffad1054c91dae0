package lifecycle

import (
	"sort"
	"time"

	"velarr/internal/models"
)

// RedownloadOrder asks the downloader to re-acquire one absent episode
// before a viewer reaches it.
type RedownloadOrder struct {
	ShowRatingKey string
	SeasonNumber  int
	EpisodeNumber int
	Position      int
	UserID        string
	NeededBy      time.Time
	Emergency     bool
}

// PlanRedownloads walks a show's episode stats and returns orders for
// absent episodes an approaching viewer will reach within the lead window.
// Emergency planning uses emergencyBufferHours instead of redownloadLeadDays
// and flags its orders so they jump the queue.
func PlanRedownloads(now time.Time, cfg models.Settings, stats []models.EpisodeStats, velocities []models.UserVelocity, emergency bool) []RedownloadOrder {
	leadDays := float64(cfg.RedownloadLeadDays)
	if emergency {
		leadDays = float64(cfg.EmergencyBufferHours) / 24
	}

	zones := make([]BufferZone, 0, len(velocities))
	for _, v := range velocities {
		zone := ComputeBufferZone(now, cfg, v)
		if zone.Active {
			zones = append(zones, zone)
		}
	}
	if len(zones) == 0 {
		return nil
	}

	var orders []RedownloadOrder
	for _, st := range stats {
		if st.IsAvailable {
			continue
		}
		position := st.SeasonNumber*100 + st.EpisodeNumber

		// earliest need among approaching viewers wins
		earliest := -1.0
		var who string
		for _, z := range zones {
			if z.CurrentPosition >= position {
				continue
			}
			days := daysUntilNeeded(z, position, cfg.DefaultVelocity)
			if earliest < 0 || days < earliest {
				earliest = days
				who = z.UserID
			}
		}
		if earliest < 0 || earliest > leadDays {
			continue
		}

		orders = append(orders, RedownloadOrder{
			ShowRatingKey: st.ShowRatingKey,
			SeasonNumber:  st.SeasonNumber,
			EpisodeNumber: st.EpisodeNumber,
			Position:      position,
			UserID:        who,
			NeededBy:      now.Add(time.Duration(earliest * 24 * float64(time.Hour))),
			Emergency:     emergency,
		})
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].NeededBy.Before(orders[j].NeededBy) })
	return orders
}
