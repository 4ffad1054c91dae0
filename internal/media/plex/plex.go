// Package plex implements the media server capability set against a Plex
// Media Server: library listings, per-library items, watch history, item
// metadata, and deletion.
package plex

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"velarr/internal/httputil"
)

const maxResponseBody = 10 << 20 // 10 MiB; library pages can be large

type Server struct {
	url    string
	token  string
	client *http.Client
}

func New(serverURL, token string) *Server {
	return &Server{
		url:    strings.TrimRight(serverURL, "/"),
		token:  token,
		client: httputil.NewClientWithTimeout(httputil.IntegrationTimeout),
	}
}

func (s *Server) Name() string { return "plex" }

func (s *Server) TestConnection(ctx context.Context) error {
	body, err := s.get(ctx, "/identity", nil)
	if err != nil {
		return err
	}
	var ic identityContainer
	if err := xml.Unmarshal(body, &ic); err != nil {
		return fmt.Errorf("parsing identity: %w", err)
	}
	return nil
}

type identityContainer struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
	Version           string   `xml:"version,attr"`
}

func (s *Server) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", s.token)
	req.Header.Set("Accept", "application/xml")
}

// get performs a GET against a server-relative path, with query encoded onto
// it, and returns the response body.
func (s *Server) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := s.url + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex get %s: %w", path, err)
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFoundUpstream
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex get %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("plex get %s: reading response: %w", path, err)
	}
	return body, nil
}

var errNotFoundUpstream = errors.New("plex: not found")

// DeleteItem removes an item from the Plex library. A 404 is treated as
// success (the item is already gone). Retries up to 2 times on transient 400
// errors (e.g. reverse proxy rate limiting).
func (s *Server) DeleteItem(ctx context.Context, ratingKey string) error {
	const maxRetries = 2
	reqURL := fmt.Sprintf("%s/library/metadata/%s", s.url, url.PathEscape(ratingKey))

	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			log.Printf("plex: retrying DELETE %s (attempt %d/%d, delay %v)", reqURL, attempt+1, maxRetries+1, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = s.doDelete(ctx, reqURL)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, errPlexBadRequest) {
			return lastErr
		}
		log.Printf("plex: DELETE %s returned retryable error: %v", reqURL, lastErr)
	}

	s.client.CloseIdleConnections()
	return fmt.Errorf("plex delete %s: all %d attempts failed: %w", reqURL, maxRetries+1, lastErr)
}

var errPlexBadRequest = errors.New("plex 400")

func (s *Server) doDelete(ctx context.Context, reqURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex delete: %w", err)
	}
	defer httputil.DrainBody(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusBadRequest {
		return errPlexBadRequest
	}
	if len(body) > 0 {
		return fmt.Errorf("plex delete: status %d: %s", resp.StatusCode, body)
	}
	return fmt.Errorf("plex delete: status %d", resp.StatusCode)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func epochTime(s string) time.Time {
	n := atoi64(s)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
