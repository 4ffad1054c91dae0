package models

import "time"

// VelocityChangeAction is the response to a large upward velocity change.
type VelocityChangeAction string

const (
	VelocityChangeActionRedownload VelocityChangeAction = "redownload"
	VelocityChangeActionAlert      VelocityChangeAction = "alert"
	VelocityChangeActionBoth       VelocityChangeAction = "both"
)

// Settings holds every tunable knob the analyzer and synchronizer read fresh
// on each pass. Values are persisted in the Settings key/value table; the
// zero value of each field below is never used directly — Defaults()
// supplies what a fresh install starts with.
type Settings struct {
	Enabled bool

	MinDaysSinceWatch      int
	VelocityBufferDays     int
	ProtectEpisodesAhead   int
	ActiveViewerDays       int
	RequireAllUsersWatched bool

	ProactiveRedownload bool
	RedownloadLeadDays  int
	RedownloadEnabled   bool

	EmergencyBufferHours int

	TrimAheadEnabled bool
	TrimDaysAhead    int
	MaxEpisodesAhead int

	UnknownVelocityBuffer int
	MinVelocitySamples    int
	DefaultVelocity       float64

	WatchlistGraceDays int

	VelocityMonitoringEnabled bool
	VelocityCheckInterval     time.Duration
	VelocityChangeThreshold   float64
	VelocityChangeAction      VelocityChangeAction
}

// Defaults returns the settings a fresh install starts with, matching every
// default named in the analyzer's component design.
func Defaults() Settings {
	return Settings{
		Enabled: true,

		MinDaysSinceWatch:      15,
		VelocityBufferDays:     7,
		ProtectEpisodesAhead:   3,
		ActiveViewerDays:       30,
		RequireAllUsersWatched: false,

		ProactiveRedownload: true,
		RedownloadLeadDays:  3,
		RedownloadEnabled:   true,

		EmergencyBufferHours: 24,

		TrimAheadEnabled: true,
		TrimDaysAhead:    10,
		MaxEpisodesAhead: 20,

		UnknownVelocityBuffer: 5,
		MinVelocitySamples:    3,
		DefaultVelocity:       1,

		WatchlistGraceDays: 14,

		VelocityMonitoringEnabled: true,
		VelocityCheckInterval:     120 * time.Minute,
		VelocityChangeThreshold:   0.5,
		VelocityChangeAction:      VelocityChangeActionRedownload,
	}
}
