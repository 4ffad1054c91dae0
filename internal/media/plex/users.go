package plex

import (
	"context"
	"encoding/xml"
	"fmt"

	"velarr/internal/models"
)

type accountsContainer struct {
	XMLName  xml.Name      `xml:"MediaContainer"`
	Accounts []plexAccount `xml:"Account"`
}

type plexAccount struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// ListUsers returns every account the server knows, keyed by the same
// accountID that tags watch-history events.
func (s *Server) ListUsers(ctx context.Context) ([]models.MediaUser, error) {
	body, err := s.get(ctx, "/accounts", nil)
	if err != nil {
		return nil, err
	}

	var container accountsContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parsing accounts: %w", err)
	}

	users := make([]models.MediaUser, 0, len(container.Accounts))
	for _, a := range container.Accounts {
		if a.ID == "" {
			continue
		}
		users = append(users, models.MediaUser{ID: a.ID, Name: a.Name})
	}
	return users, nil
}
