package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"velarr/internal/models"
)

type historyContainer struct {
	XMLName xml.Name       `xml:"MediaContainer"`
	Videos  []historyEntry `xml:"Video"`
}

type historyEntry struct {
	RatingKey            string `xml:"ratingKey,attr"`
	GrandparentRatingKey string `xml:"grandparentKey,attr"`
	Type                 string `xml:"type,attr"`
	Title                string `xml:"title,attr"`
	GrandparentTitle     string `xml:"grandparentTitle,attr"`
	ParentIndex          string `xml:"parentIndex,attr"`
	Index                string `xml:"index,attr"`
	ViewedAt             string `xml:"viewedAt,attr"`
	AccountID            string `xml:"accountID,attr"`
}

// ListWatchHistory returns session-history events with viewedAt > since,
// oldest first, tagged with the opaque accountID Plex assigns each user.
func (s *Server) ListWatchHistory(ctx context.Context, since time.Time, limit int) ([]models.HistoryEvent, error) {
	q := url.Values{}
	q.Set("viewedAt>", strconv.FormatInt(since.Unix(), 10))
	q.Set("sort", "viewedAt:asc")
	if limit > 0 {
		q.Set("X-Plex-Container-Start", "0")
		q.Set("X-Plex-Container-Size", strconv.Itoa(limit))
	}

	body, err := s.get(ctx, "/status/sessions/history/all", q)
	if err != nil {
		return nil, err
	}

	var container historyContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing watch history: %w", err)
	}

	events := make([]models.HistoryEvent, 0, len(container.Videos))
	for _, v := range container.Videos {
		ev := models.HistoryEvent{
			AccountID: v.AccountID,
			RatingKey: v.RatingKey,
			MediaType: plexMediaType(v.Type),
			ViewedAt:  epochTime(v.ViewedAt),
		}
		if ev.MediaType == models.MediaTypeEpisode {
			ev.ShowTitle = v.GrandparentTitle
			ev.ShowRatingKey = trimMetadataKey(v.GrandparentRatingKey)
			ev.SeasonNumber = atoi(v.ParentIndex)
			ev.EpisodeNumber = atoi(v.Index)
		}
		events = append(events, ev)
	}
	return events, nil
}

// trimMetadataKey reduces a "/library/metadata/123" key path to its rating
// key; the history endpoint reports keys in path form.
func trimMetadataKey(key string) string {
	const prefix = "/library/metadata/"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}
