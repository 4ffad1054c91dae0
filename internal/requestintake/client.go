// Package requestintake is the thin client to the request-tracking service
// (Overseerr-compatible API). It feeds watchlist/request data into the store
// and receives cascade cleanup after deletions.
package requestintake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"velarr/internal/httputil"
)

// ValidateURL checks that the given URL is valid for use as an intake endpoint.
var ValidateURL = httputil.ValidateIntegrationURL

// Request filter values accepted by the list endpoint.
const (
	FilterPending    = "pending"
	FilterApproved   = "approved"
	FilterProcessing = "processing"
	FilterAvailable  = "available"
	FilterAll        = "all"
)

// Media status codes the intake service reports.
const (
	MediaStatusPending    = 2
	MediaStatusProcessing = 3
	MediaStatusPartial    = 4
	MediaStatusAvailable  = 5
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := ValidateURL(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httputil.NewClientWithTimeout(httputil.IntegrationTimeout),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("intake returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200))
	}

	return json.RawMessage(body), nil
}

func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/status", nil)
	return err
}

// Request is one tracked media request.
type Request struct {
	ID        int          `json:"id"`
	Status    int          `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	Media     RequestMedia `json:"media"`
	Requester RequestUser  `json:"requestedBy"`
}

type RequestMedia struct {
	ID        int    `json:"id"`
	TMDBID    int    `json:"tmdbId"`
	TVDBID    int    `json:"tvdbId"`
	MediaType string `json:"mediaType"`
	Status    int    `json:"status"`
}

type RequestUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	PlexID   int64  `json:"plexId"`
}

type listRequestsResponse struct {
	PageInfo struct {
		Pages int `json:"pages"`
		Page  int `json:"page"`
	} `json:"pageInfo"`
	Results []Request `json:"results"`
}

const maxListRequestPages = 100 // safety valve

// ListRequests returns every request matching the filter, following pagination.
func (c *Client) ListRequests(ctx context.Context, filter string) ([]Request, error) {
	const pageSize = 50
	var all []Request

	for page := 0; page < maxListRequestPages; page++ {
		params := url.Values{}
		params.Set("take", strconv.Itoa(pageSize))
		if skip := page * pageSize; skip > 0 {
			params.Set("skip", strconv.Itoa(skip))
		}
		if filter != "" {
			params.Set("filter", filter)
		}

		raw, err := c.do(ctx, http.MethodGet, "/request", params)
		if err != nil {
			return nil, fmt.Errorf("listing requests: %w", err)
		}

		var resp listRequestsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("parsing request list: %w", err)
		}
		all = append(all, resp.Results...)

		if resp.PageInfo.Page >= resp.PageInfo.Pages || len(resp.Results) < pageSize {
			break
		}
	}

	return all, nil
}

// RequestLookup is the result of resolving a TMDB id against the intake
// service: the open request (if any) and the tracked media record (if any).
type RequestLookup struct {
	RequestID int
	MediaID   int
}

type mediaDetailResponse struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Name      string `json:"name"`
	MediaInfo *struct {
		ID       int `json:"id"`
		Requests []struct {
			ID int `json:"id"`
		} `json:"requests"`
	} `json:"mediaInfo"`
}

// FindRequestByTMDB looks up the request and media record for a TMDB id.
// Zero-valued fields mean nothing is tracked for that id.
func (c *Client) FindRequestByTMDB(ctx context.Context, tmdbID int, mediaType string) (RequestLookup, error) {
	detail, err := c.mediaDetail(ctx, tmdbID, mediaType)
	if err != nil {
		return RequestLookup{}, err
	}

	var lookup RequestLookup
	if detail.MediaInfo != nil {
		lookup.MediaID = detail.MediaInfo.ID
		if len(detail.MediaInfo.Requests) > 0 {
			lookup.RequestID = detail.MediaInfo.Requests[0].ID
		}
	}
	return lookup, nil
}

// GetTitle resolves the display title for a TMDB id (movies use "title",
// TV uses "name").
func (c *Client) GetTitle(ctx context.Context, tmdbID int, mediaType string) (string, error) {
	detail, err := c.mediaDetail(ctx, tmdbID, mediaType)
	if err != nil {
		return "", err
	}
	if detail.Title != "" {
		return detail.Title, nil
	}
	return detail.Name, nil
}

func (c *Client) mediaDetail(ctx context.Context, tmdbID int, mediaType string) (mediaDetailResponse, error) {
	path := fmt.Sprintf("/movie/%d", tmdbID)
	if mediaType == "tv" || mediaType == "show" {
		path = fmt.Sprintf("/tv/%d", tmdbID)
	}

	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return mediaDetailResponse{}, fmt.Errorf("looking up TMDB %d: %w", tmdbID, err)
	}

	var detail mediaDetailResponse
	if err := json.Unmarshal(raw, &detail); err != nil {
		return mediaDetailResponse{}, fmt.Errorf("parsing media detail: %w", err)
	}
	return detail, nil
}

// MarkMediaAvailable flips the tracked media record to available, used by
// the synchronizer once a requested item lands in the library.
func (c *Client) MarkMediaAvailable(ctx context.Context, mediaID int) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/media/%d/available", mediaID), nil)
	return err
}

// DeleteRequest removes a tracked request.
func (c *Client) DeleteRequest(ctx context.Context, requestID int) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/request/%d", requestID), nil)
	return err
}

// DeleteMedia clears a tracked media record so the intake UI stops reporting
// the item as available after a deletion.
func (c *Client) DeleteMedia(ctx context.Context, mediaID int) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/media/%d", mediaID), nil)
	return err
}
