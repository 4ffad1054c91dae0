package plex

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"velarr/internal/models"
)

// Plex type filters for /library/sections/{id}/all.
const (
	plexTypeMovie   = "1"
	plexTypeShow    = "2"
	plexTypeEpisode = "4"
)

const itemBatchSize = 200

type itemContainer struct {
	XMLName     xml.Name   `xml:"MediaContainer"`
	Size        int        `xml:"size,attr"`
	TotalSize   int        `xml:"totalSize,attr"`
	Videos      []plexItem `xml:"Video"`
	Directories []plexItem `xml:"Directory"`
}

type plexItem struct {
	RatingKey            string     `xml:"ratingKey,attr"`
	GrandparentRatingKey string     `xml:"grandparentRatingKey,attr"`
	Type                 string     `xml:"type,attr"`
	Title                string     `xml:"title,attr"`
	GrandparentTitle     string     `xml:"grandparentTitle,attr"`
	ParentIndex          string     `xml:"parentIndex,attr"`
	Index                string     `xml:"index,attr"`
	Year                 string     `xml:"year,attr"`
	AddedAt              string     `xml:"addedAt,attr"`
	UpdatedAt            string     `xml:"updatedAt,attr"`
	ViewCount            string     `xml:"viewCount,attr"`
	LastViewedAt         string     `xml:"lastViewedAt,attr"`
	LibrarySectionID     string     `xml:"librarySectionID,attr"`
	Guids                []plexGuid `xml:"Guid"`
}

type plexGuid struct {
	ID string `xml:"id,attr"`
}

// ListLibraryContents fetches every movie, show, and episode in a library.
// Shows come back alongside their episodes so the synchronizer can cache
// episode-level presence, not just top-level titles.
func (s *Server) ListLibraryContents(ctx context.Context, libraryID string) ([]models.LibraryItem, error) {
	return s.fetchLibraryItems(ctx, libraryID, time.Time{})
}

// ListRecentlyAdded fetches items added to a library since the given instant,
// using Plex's addedAt> filter (epoch seconds).
func (s *Server) ListRecentlyAdded(ctx context.Context, libraryID string, since time.Time) ([]models.LibraryItem, error) {
	return s.fetchLibraryItems(ctx, libraryID, since)
}

func (s *Server) fetchLibraryItems(ctx context.Context, libraryID string, since time.Time) ([]models.LibraryItem, error) {
	var all []models.LibraryItem
	for _, typeFilter := range []string{plexTypeMovie, plexTypeShow, plexTypeEpisode} {
		items, err := s.fetchItemsPaged(ctx, libraryID, typeFilter, since)
		if err != nil {
			return nil, fmt.Errorf("library %s type %s: %w", libraryID, typeFilter, err)
		}
		all = append(all, items...)
	}
	return all, nil
}

func (s *Server) fetchItemsPaged(ctx context.Context, libraryID, typeFilter string, since time.Time) ([]models.LibraryItem, error) {
	var all []models.LibraryItem
	offset := 0
	for {
		q := url.Values{}
		q.Set("type", typeFilter)
		q.Set("includeGuids", "1")
		q.Set("X-Plex-Container-Start", strconv.Itoa(offset))
		q.Set("X-Plex-Container-Size", strconv.Itoa(itemBatchSize))
		if !since.IsZero() {
			q.Set("addedAt>", strconv.FormatInt(since.Unix(), 10))
		}

		body, err := s.get(ctx, "/library/sections/"+url.PathEscape(libraryID)+"/all", q)
		if err != nil {
			return nil, err
		}

		var container itemContainer
		if err := xml.Unmarshal(body, &container); err != nil {
			return nil, fmt.Errorf("parsing library page: %w", err)
		}

		batch := append(container.Videos, container.Directories...)
		for _, item := range batch {
			all = append(all, itemFromXML(item, libraryID))
		}

		offset += len(batch)
		if len(batch) == 0 || offset >= container.TotalSize {
			break
		}
	}
	return all, nil
}

// GetItem fetches one item's metadata, including external-id guids.
func (s *Server) GetItem(ctx context.Context, ratingKey string) (models.LibraryItem, error) {
	q := url.Values{}
	q.Set("includeGuids", "1")
	body, err := s.get(ctx, "/library/metadata/"+url.PathEscape(ratingKey), q)
	if errors.Is(err, errNotFoundUpstream) {
		return models.LibraryItem{}, models.ErrNotFound
	}
	if err != nil {
		return models.LibraryItem{}, err
	}

	var container itemContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return models.LibraryItem{}, fmt.Errorf("parsing item %s: %w", ratingKey, err)
	}
	items := append(container.Videos, container.Directories...)
	if len(items) == 0 {
		return models.LibraryItem{}, models.ErrNotFound
	}
	return itemFromXML(items[0], items[0].LibrarySectionID), nil
}

// ListChildren fetches the direct children of an item: seasons of a show, or
// episodes of a season.
func (s *Server) ListChildren(ctx context.Context, ratingKey string) ([]models.LibraryItem, error) {
	body, err := s.get(ctx, "/library/metadata/"+url.PathEscape(ratingKey)+"/children", nil)
	if errors.Is(err, errNotFoundUpstream) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var container itemContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing children of %s: %w", ratingKey, err)
	}

	batch := append(container.Videos, container.Directories...)
	items := make([]models.LibraryItem, 0, len(batch))
	for _, item := range batch {
		items = append(items, itemFromXML(item, item.LibrarySectionID))
	}
	return items, nil
}

func itemFromXML(item plexItem, libraryID string) models.LibraryItem {
	out := models.LibraryItem{
		RatingKey: item.RatingKey,
		Title:     item.Title,
		Year:      atoi(item.Year),
		Type:      plexMediaType(item.Type),
		LibraryID: libraryID,
		AddedAt:   epochTime(item.AddedAt),
		UpdatedAt: epochTime(item.UpdatedAt),
		ViewCount: atoi(item.ViewCount),
		External:  parseGuids(item.Guids),
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.AddedAt
	}
	if lv := epochTime(item.LastViewedAt); !lv.IsZero() {
		out.LastViewedAt = &lv
	}
	if out.Type == models.MediaTypeEpisode {
		out.ShowRatingKey = item.GrandparentRatingKey
		out.SeasonNumber = atoi(item.ParentIndex)
		out.EpisodeNumber = atoi(item.Index)
	}
	return out
}

func plexMediaType(t string) models.MediaType {
	switch t {
	case "movie":
		return models.MediaTypeMovie
	case "show":
		return models.MediaTypeShow
	case "season":
		return models.MediaTypeSeason
	case "episode":
		return models.MediaTypeEpisode
	default:
		return models.MediaType(t)
	}
}

func parseGuids(guids []plexGuid) models.ExternalIDs {
	var ids models.ExternalIDs
	for _, g := range guids {
		switch {
		case strings.HasPrefix(g.ID, "imdb://"):
			ids.IMDB = strings.TrimPrefix(g.ID, "imdb://")
		case strings.HasPrefix(g.ID, "tmdb://"):
			ids.TMDB = strings.TrimPrefix(g.ID, "tmdb://")
		case strings.HasPrefix(g.ID, "tvdb://"):
			ids.TVDB = strings.TrimPrefix(g.ID, "tvdb://")
		}
	}
	return ids
}
