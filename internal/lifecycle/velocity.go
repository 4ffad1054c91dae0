package lifecycle

import (
	"math"

	"velarr/internal/models"
)

// snapshotWindow is how many recent snapshots form the comparison baseline.
const snapshotWindow = 5

// VelocityChange describes a significant shift in a viewer's pace.
type VelocityChange struct {
	UserID    string
	ShowKey   string
	Previous  float64
	Current   float64
	Ratio     float64
	Increased bool
}

// DetectVelocityChange compares the current velocity against the mean of
// the most recent snapshots. Returns false when there is no baseline or the
// relative change stays under the threshold.
func DetectVelocityChange(v models.UserVelocity, snapshots []models.VelocitySnapshot, threshold float64) (VelocityChange, bool) {
	n := len(snapshots)
	if n == 0 {
		return VelocityChange{}, false
	}
	if n > snapshotWindow {
		n = snapshotWindow
	}

	var sum float64
	for _, s := range snapshots[:n] {
		sum += s.Velocity
	}
	previous := sum / float64(n)
	if previous <= 0 {
		return VelocityChange{}, false
	}

	ratio := math.Abs(v.EpisodesPerDay-previous) / previous
	if ratio < threshold {
		return VelocityChange{}, false
	}

	return VelocityChange{
		UserID:    v.UserID,
		ShowKey:   v.ShowKey,
		Previous:  previous,
		Current:   v.EpisodesPerDay,
		Ratio:     ratio,
		Increased: v.EpisodesPerDay > previous,
	}, true
}
