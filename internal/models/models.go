// Package models defines the data types shared across the state store,
// adapters, synchronizer, analyzer, and orchestrator.
package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPosition = errors.New("episode must be in [1, 100)")
)

// MediaType distinguishes the kind of a library item or watch-history entry.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeSeason  MediaType = "season"
)

func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeMovie, MediaTypeShow, MediaTypeEpisode, MediaTypeSeason:
		return true
	default:
		return false
	}
}

// ExternalIDs carries the cross-reference ids a media server attaches to an item.
type ExternalIDs struct {
	TMDB string
	TVDB string
	IMDB string
}

// LibraryItem is a row per media-server item currently known to the engine.
type LibraryItem struct {
	RatingKey    string
	Title        string
	Year         int
	Type         MediaType
	LibraryID    string
	AddedAt      time.Time
	UpdatedAt    time.Time
	ViewCount    int
	LastViewedAt *time.Time
	External     ExternalIDs

	// ShowRatingKey, SeasonNumber, EpisodeNumber place a Type==MediaTypeEpisode
	// item within its show's hierarchy; zero-valued for movies, shows, seasons.
	ShowRatingKey string
	SeasonNumber  int
	EpisodeNumber int
}

// WatchEvent is an immutable per-view record. Unique on
// (userId, ratingKey, watchedAt).
type WatchEvent struct {
	ID            int64
	UserID        string
	RatingKey     string
	MediaType     MediaType
	ShowTitle     string
	ShowRatingKey string
	SeasonNumber  int
	EpisodeNumber int
	WatchedAt     time.Time
}

// VelocitySource records which branch of the buffer-zone computation produced
// a UserVelocity's current buffer, for diagnostics only.
type VelocitySource string

const (
	VelocitySourceMeasured  VelocitySource = "measured"
	VelocitySourceEstimated VelocitySource = "estimated"
	VelocitySourceDefault   VelocitySource = "default"
)

// UserVelocity is per (userId, showKey). ShowKey is either the show's
// ratingKey or a deterministic 32-bit hash of its title (see resolveShowKey
// in the synchronizer, used only when no ratingKey is associable).
//
// Monotonic invariant: CurrentPosition never decreases; LastWatchedAt never
// decreases, across any sequence of upserts for the same (UserID, ShowKey).
type UserVelocity struct {
	UserID          string
	ShowKey         string
	CurrentPosition int
	CurrentSeason   int
	CurrentEpisode  int
	EpisodesPerDay  float64
	EpisodesWatched int
	LastWatchedAt   time.Time
	UpdatedAt       time.Time
}

// EpisodeStats is per (showRatingKey, seasonNumber, episodeNumber). Retained
// even after deletion for audit.
type EpisodeStats struct {
	ShowRatingKey    string
	SeasonNumber     int
	EpisodeNumber    int
	VelocityPosition int
	IsAvailable      bool
	SafeToDelete     bool
	DeletionReason   string
	UsersBeyond      []string
	UsersApproaching []string
	LastAnalyzedAt   time.Time
	DeletedAt        *time.Time
	DeletedByCleanup bool
}

// VelocitySnapshot is an append-only record, bounded to the last 50 per
// (userId, showKey).
type VelocitySnapshot struct {
	UserID     string
	ShowKey    string
	Velocity   float64
	Position   int
	RecordedAt time.Time
}

// LifecycleStatus is the state of a (tmdbId, mediaType) pair's presence in the library.
type LifecycleStatus string

const (
	LifecycleStatusPending   LifecycleStatus = "pending"
	LifecycleStatusAvailable LifecycleStatus = "available"
	LifecycleStatusDeleted   LifecycleStatus = "deleted"
)

// LifecycleRecord links a (tmdbId, mediaType) pair to the ratingKey that
// currently realizes it in the library, if any.
type LifecycleRecord struct {
	TMDBID    string
	MediaType MediaType
	RatingKey string
	Status    LifecycleStatus
	DeletedAt *time.Time
}

// WatchlistEntry is a user's intent to watch a show or movie, sourced from
// the request-intake service or the media server's own watchlist feature.
type WatchlistEntry struct {
	UserID    string
	TMDBID    string
	MediaType MediaType
	Title     string
	AddedAt   time.Time
	IsActive  bool
}

const (
	ExclusionKindManualProtection = "manual_protection"
)

// ProtectionExclusion marks a (tmdbId, mediaType) pair as never safe to delete.
type ProtectionExclusion struct {
	TMDBID    string
	MediaType MediaType
	Kind      string
}

// SyncCursors are persisted high-water marks for the delta synchronizer.
type SyncCursors struct {
	LastLibrarySync      time.Time
	LastWatchHistorySync time.Time
	LastUserSync         time.Time
	LastLifecycleRepair  time.Time
}

// PaginatedResult is a generic page of items with total-count metadata.
type PaginatedResult[T any] struct {
	Items   []T
	Total   int
	Page    int
	PerPage int
}
