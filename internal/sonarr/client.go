// Package sonarr is the TV downloader client: series/episode lookup,
// monitoring toggles, search commands, and episode-file deletion.
package sonarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"velarr/internal/arrutil"
	"velarr/internal/httputil"
)

// ValidateURL checks that the given URL is valid for use as a Sonarr endpoint.
var ValidateURL = httputil.ValidateIntegrationURL

type Client struct {
	arrutil.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	arr, err := arrutil.New("Sonarr", baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &Client{Client: *arr}, nil
}

func (c *Client) GetCalendar(ctx context.Context, start, end string) (json.RawMessage, error) {
	params := url.Values{}
	if start != "" {
		params.Set("start", start)
	}
	if end != "" {
		params.Set("end", end)
	}
	params.Set("includeSeries", "true")
	params.Set("includeEpisodeImages", "true")
	return c.DoGet(ctx, "/calendar", params)
}

// GetSeries fetches a single series by its Sonarr internal ID.
func (c *Client) GetSeries(ctx context.Context, seriesID int) (json.RawMessage, error) {
	return c.DoGet(ctx, fmt.Sprintf("/series/%d", seriesID), nil)
}

// Series is the subset of a Sonarr series record the lifecycle engine reads.
type Series struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	TVDBID int    `json:"tvdbId"`
}

// ListSeries returns every series Sonarr currently monitors.
func (c *Client) ListSeries(ctx context.Context) ([]Series, error) {
	raw, err := c.DoGet(ctx, "/series", nil)
	if err != nil {
		return nil, err
	}
	var series []Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("parsing series list: %w", err)
	}
	return series, nil
}

// LookupSeriesByTVDB finds a series already added to Sonarr by its TVDB ID.
// Returns the Sonarr internal ID, or 0 if not found.
func (c *Client) LookupSeriesByTVDB(ctx context.Context, tvdbID string) (int, error) {
	raw, err := c.DoGet(ctx, "/series", url.Values{"tvdbId": {tvdbID}})
	if err != nil {
		return 0, err
	}

	var series []Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return 0, fmt.Errorf("parsing series list: %w", err)
	}
	if len(series) == 0 {
		return 0, nil
	}
	return series[0].ID, nil
}

// DeleteSeries removes a series from Sonarr, optionally deleting its files.
func (c *Client) DeleteSeries(ctx context.Context, seriesID int, deleteFiles bool) error {
	q := url.Values{}
	if deleteFiles {
		q.Set("deleteFiles", "true")
	}
	return c.DoDelete(ctx, fmt.Sprintf("/series/%d", seriesID), q)
}

// Episode is the subset of a Sonarr episode record the redownload passes read.
type Episode struct {
	ID            int  `json:"id"`
	SeasonNumber  int  `json:"seasonNumber"`
	EpisodeNumber int  `json:"episodeNumber"`
	HasFile       bool `json:"hasFile"`
	EpisodeFileID int  `json:"episodeFileId"`
	Monitored     bool `json:"monitored"`
}

// ListEpisodes returns every episode Sonarr tracks for a series.
func (c *Client) ListEpisodes(ctx context.Context, seriesID int) ([]Episode, error) {
	raw, err := c.DoGet(ctx, "/episode", url.Values{"seriesId": {strconv.Itoa(seriesID)}})
	if err != nil {
		return nil, err
	}
	var episodes []Episode
	if err := json.Unmarshal(raw, &episodes); err != nil {
		return nil, fmt.Errorf("parsing episode list: %w", err)
	}
	return episodes, nil
}

type monitorPayload struct {
	EpisodeIDs []int `json:"episodeIds"`
	Monitored  bool  `json:"monitored"`
}

// MonitorEpisode toggles Sonarr's monitored flag for a single episode.
func (c *Client) MonitorEpisode(ctx context.Context, episodeID int, monitored bool) error {
	payload, err := json.Marshal(monitorPayload{EpisodeIDs: []int{episodeID}, Monitored: monitored})
	if err != nil {
		return fmt.Errorf("encoding monitor payload: %w", err)
	}
	_, err = c.DoPut(ctx, "/episode/monitor", payload)
	return err
}

// SetMonitorFuture toggles whether Sonarr should monitor and auto-acquire
// seasons of a series after the given season, used to stop a trimmed show
// from being immediately re-downloaded.
func (c *Client) SetMonitorFuture(ctx context.Context, seriesID, afterSeason int, monitored bool) error {
	raw, err := c.GetSeries(ctx, seriesID)
	if err != nil {
		return fmt.Errorf("fetching series %d: %w", seriesID, err)
	}

	var series map[string]json.RawMessage
	if err := json.Unmarshal(raw, &series); err != nil {
		return fmt.Errorf("parsing series %d: %w", seriesID, err)
	}

	var seasons []struct {
		SeasonNumber int  `json:"seasonNumber"`
		Monitored    bool `json:"monitored"`
	}
	if err := json.Unmarshal(series["seasons"], &seasons); err != nil {
		return fmt.Errorf("parsing seasons for series %d: %w", seriesID, err)
	}
	for i := range seasons {
		if seasons[i].SeasonNumber > afterSeason {
			seasons[i].Monitored = monitored
		}
	}
	seasonsRaw, err := json.Marshal(seasons)
	if err != nil {
		return fmt.Errorf("encoding seasons: %w", err)
	}
	series["seasons"] = seasonsRaw

	body, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encoding series update: %w", err)
	}
	_, err = c.DoPut(ctx, fmt.Sprintf("/series/%d", seriesID), body)
	return err
}

type commandPayload struct {
	Name       string `json:"name"`
	EpisodeIDs []int  `json:"episodeIds"`
}

// SearchEpisode queues Sonarr's EpisodeSearch command for a single episode.
func (c *Client) SearchEpisode(ctx context.Context, episodeID int) error {
	payload, err := json.Marshal(commandPayload{Name: "EpisodeSearch", EpisodeIDs: []int{episodeID}})
	if err != nil {
		return fmt.Errorf("encoding search command: %w", err)
	}
	_, err = c.DoPost(ctx, "/command", payload)
	return err
}

// DeleteEpisodeFile deletes the physical file backing an episode.
func (c *Client) DeleteEpisodeFile(ctx context.Context, fileID int) error {
	return c.DoDelete(ctx, fmt.Sprintf("/episodefile/%d", fileID), nil)
}
