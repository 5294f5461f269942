package observations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orrerynet/orrery/shared"
)

// snapshotPayload is the endpoint's wire format.
type snapshotPayload struct {
	TakenAt time.Time            `json:"taken_at"`
	Params  map[string]float64   `json:"params"`
	Series  map[string][]float64 `json:"series,omitempty"`
}

// Client fetches snapshots from an HTTP measurement endpoint:
// GET <base>/observations/<domain>?start=...&end=... with RFC 3339
// window bounds. Timeouts come from the caller's context.
type Client struct {
	base   string
	client *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{},
	}
}

func (c *Client) Snapshot(ctx context.Context, domain shared.Domain, window Window) (shared.ObservationSnapshot, error) {
	query := url.Values{
		"start": []string{window.Start.Format(time.RFC3339Nano)},
		"end":   []string{window.End.Format(time.RFC3339Nano)},
	}
	endpoint := fmt.Sprintf("%s/observations/%s?%s", c.base, url.PathEscape(string(domain)), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return shared.ObservationSnapshot{}, fmt.Errorf("building observation request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return shared.ObservationSnapshot{}, fmt.Errorf("fetching observations: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return shared.ObservationSnapshot{}, fmt.Errorf("%w: %s", ErrNoData, domain)
	default:
		return shared.ObservationSnapshot{}, fmt.Errorf("observation endpoint returned %s", resp.Status)
	}

	var payload snapshotPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return shared.ObservationSnapshot{}, fmt.Errorf("decoding observation snapshot: %w", err)
	}
	return shared.ObservationSnapshot{
		Domain:  domain,
		TakenAt: payload.TakenAt,
		Params:  payload.Params,
		Series:  payload.Series,
	}, nil
}
