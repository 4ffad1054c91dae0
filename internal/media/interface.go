// Package media defines the capability contract the delta synchronizer and
// the cascade deleter require from a media server backend.
package media

import (
	"context"
	"time"

	"velarr/internal/models"
)

type Server interface {
	Name() string
	TestConnection(ctx context.Context) error
	ListLibraries(ctx context.Context) ([]models.Library, error)
	ListLibraryContents(ctx context.Context, libraryID string) ([]models.LibraryItem, error)
	ListRecentlyAdded(ctx context.Context, libraryID string, since time.Time) ([]models.LibraryItem, error)
	GetItem(ctx context.Context, ratingKey string) (models.LibraryItem, error)
	ListChildren(ctx context.Context, ratingKey string) ([]models.LibraryItem, error)
	ListWatchHistory(ctx context.Context, since time.Time, limit int) ([]models.HistoryEvent, error)
	DeleteItem(ctx context.Context, ratingKey string) error
	ListUsers(ctx context.Context) ([]models.MediaUser, error)
}
