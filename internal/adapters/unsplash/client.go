// internal/adapters/unsplash/client.go
package unsplash

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

	"golang.org/x/time/rate"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

// Client is the stock-photo capability. It only exists when an access key is
// configured; the pipeline silently skips the stock tier otherwise.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(key string) *Client {
	return NewWithBase("https://api.unsplash.com", key)
}

func NewWithBase(base, key string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 5 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(2), 2),
	}
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.StockPhoto, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 3
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("orientation", "landscape")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/search/photos?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Client-ID "+c.key)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("unsplash", "search", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unsplash: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload struct {
		Results []struct {
			URLs struct {
				Regular string `json:"regular"`
			} `json:"urls"`
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	out := make([]domain.StockPhoto, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.URLs.Regular == "" {
			continue
		}
		out = append(out, domain.StockPhoto{
			URL:         r.URLs.Regular,
			Attribution: r.User.Name,
		})
	}
	return out, nil
}
