package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/trajectory"
)

// Client reads check-ins from a running fieldtrack-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient targets baseURL. Requests time out after 10s.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// MapView mirrors the map endpoint's JSON representation.
type MapView struct {
	Checkins            []checkin.Record             `json:"checkins"`
	TrajectoriesByAgent map[string][]trajectory.Stop `json:"trajectoriesByAgent"`
	Statistics          trajectory.Stats             `json:"statistics"`
	Centroid            trajectory.Point             `json:"centroid"`
	Total               int                          `json:"total"`
	Truncated           bool                         `json:"truncated"`
}

type latestResponse struct {
	Success bool            `json:"success"`
	Checkin *checkin.Record `json:"checkin"`
}

// Latest returns the agent's most recent check-in, or nil when there is none.
func (c *Client) Latest(ctx context.Context, agentID string) (*checkin.Record, error) {
	endpoint := fmt.Sprintf("%s/api/checkins/latest/%s", c.baseURL, url.PathEscape(agentID))
	var payload latestResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("fetch latest for %s: %w", agentID, err)
	}
	return payload.Checkin, nil
}

// Map fetches the filtered map view.
func (c *Client) Map(ctx context.Context, crit checkin.Criteria) (MapView, error) {
	query := make(url.Values)
	setIf(query, "agent", crit.AgentID)
	setIf(query, "dateInicio", crit.DateFrom)
	setIf(query, "dateFim", crit.DateTo)
	setIf(query, "client", crit.Client)
	setIf(query, "city", crit.City)

	endpoint := c.baseURL + "/api/checkins/map"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var view MapView
	if err := c.getJSON(ctx, endpoint, &view); err != nil {
		return MapView{}, fmt.Errorf("fetch map: %w", err)
	}
	return view, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fieldtrack responded with %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
