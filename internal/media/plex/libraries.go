package plex

import (
	"context"
	"encoding/xml"
	"fmt"

	"velarr/internal/models"
)

type librarySections struct {
	XMLName     xml.Name         `xml:"MediaContainer"`
	Directories []librarySection `xml:"Directory"`
}

type librarySection struct {
	Key   string `xml:"key,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// ListLibraries returns every library section the server exposes. Callers
// filter to movie/show sections themselves.
func (s *Server) ListLibraries(ctx context.Context) ([]models.Library, error) {
	body, err := s.get(ctx, "/library/sections", nil)
	if err != nil {
		return nil, err
	}

	var sections librarySections
	if err := xml.Unmarshal(body, &sections); err != nil {
		return nil, fmt.Errorf("parsing library sections: %w", err)
	}

	libraries := make([]models.Library, 0, len(sections.Directories))
	for _, dir := range sections.Directories {
		libraries = append(libraries, models.Library{
			ID:    dir.Key,
			Title: dir.Title,
			Type:  plexMediaType(dir.Type),
		})
	}
	return libraries, nil
}
