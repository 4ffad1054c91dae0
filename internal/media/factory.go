package media

import (
	"fmt"

	"velarr/internal/media/plex"
)

const ServerTypePlex = "plex"

// NewServer constructs a media server backend. Each backend is a distinct
// implementation of the capability set; plex is the only one wired today.
func NewServer(serverType, url, token string) (Server, error) {
	switch serverType {
	case ServerTypePlex, "":
		return plex.New(url, token), nil
	default:
		return nil, fmt.Errorf("unsupported media server type: %s", serverType)
	}
}
