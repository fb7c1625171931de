// internal/adapters/geoapify/client.go
package geoapify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

// Client is the cheap structured resolver: reverse geocoding plus static map
// snapshot URLs. It is the baseline identity source when the paid path is
// disabled or rejected.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 8 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (c *Client) Reverse(ctx context.Context, at domain.Coords) (domain.Place, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return domain.Place{}, err
	}
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", at.Lat))
	q.Set("lon", fmt.Sprintf("%f", at.Lon))
	q.Set("format", "json")
	q.Set("apiKey", c.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/geocode/reverse?"+q.Encode(), nil)
	if err != nil {
		return domain.Place{}, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.Place{}, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("geoapify", "reverse", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Place{}, fmt.Errorf("geoapify: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload struct {
		Results []struct {
			Name       string   `json:"name"`
			Formatted  string   `json:"formatted"`
			City       string   `json:"city"`
			State      string   `json:"state"`
			Country    string   `json:"country"`
			Categories []string `json:"categories"`
			PlaceID    string   `json:"place_id"`
			Lat        float64  `json:"lat"`
			Lon        float64  `json:"lon"`
			RankConf   struct {
				Confidence float64 `json:"confidence"`
			} `json:"rank"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.Place{}, err
	}
	if len(payload.Results) == 0 {
		return domain.Place{}, domain.ErrNotFound
	}

	r := payload.Results[0]
	p := domain.Place{
		Coordinates: domain.Coords{Lat: r.Lat, Lon: r.Lon},
		Name:        r.Name,
		Address:     r.Formatted,
		Locality:    r.City,
		Region:      r.State,
		Country:     r.Country,
		Source:      domain.SourceGeoapify,
		SourceID:    r.PlaceID,
		Confidence:  r.RankConf.Confidence,
	}
	if len(r.Categories) > 0 {
		p.Category = r.Categories[0] // hierarchical, e.g. "catering.restaurant"
	}
	if p.Name == "" {
		p.Name = r.Formatted
	}
	return p, nil
}

// SnapshotURL builds the deterministic, key-scoped static map URL with a
// marker on the pin. No I/O; this tier cannot fail.
func (c *Client) SnapshotURL(at domain.Coords) string {
	q := url.Values{}
	q.Set("style", "osm-bright")
	q.Set("width", "600")
	q.Set("height", "400")
	q.Set("zoom", "16")
	q.Set("center", fmt.Sprintf("lonlat:%f,%f", at.Lon, at.Lat))
	q.Set("marker", fmt.Sprintf("lonlat:%f,%f;type:material;color:red", at.Lon, at.Lat))
	q.Set("apiKey", c.key)
	return c.base + "/v1/staticmap?" + q.Encode()
}
