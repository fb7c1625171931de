// internal/adapters/websearch/client.go
package websearch

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

// Client wraps the web-search discovery capability: one query in, the first
// organic result URL out. Used only for website backfill, never for identity.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 6 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(2), 2),
	}
}

func (c *Client) FirstResult(ctx context.Context, query string) (string, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/web/search?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.key)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("websearch", "search", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("websearch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload struct {
		Web struct {
			Results []struct {
				URL string `json:"url"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	for _, r := range payload.Web.Results {
		if r.URL != "" {
			return r.URL, nil
		}
	}
	return "", domain.ErrNotFound
}
