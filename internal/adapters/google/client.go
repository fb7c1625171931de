// internal/adapters/google/client.go
package google

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
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

// Client talks to the paid places provider. Every call here costs money;
// quota gating happens upstream in the resolver.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

var (
	ErrNoResults  = domain.ErrNotFound
	ErrOverQuota  = errors.New("places: provider-side quota exceeded")
	ErrDenied     = errors.New("places: request denied")
	detailsFields = "name,geometry,formatted_address,address_component,type,website,photo,rating,place_id"
)

func (c *Client) Nearby(ctx context.Context, at domain.Coords, radiusM int) ([]domain.PlaceCandidate, error) {
	q := url.Values{}
	q.Set("location", fmt.Sprintf("%f,%f", at.Lat, at.Lon))
	q.Set("radius", fmt.Sprintf("%d", radiusM))
	q.Set("key", c.key)

	var payload struct {
		Status  string           `json:"status"`
		Results []map[string]any `json:"results"`
	}
	if err := c.get(ctx, c.base+"/nearbysearch/json?"+q.Encode(), "nearby", &payload); err != nil {
		return nil, err
	}
	if err := statusErr(payload.Status); err != nil {
		return nil, err
	}

	out := make([]domain.PlaceCandidate, 0, len(payload.Results))
	for _, r := range payload.Results {
		cand := domain.PlaceCandidate{
			ID:   lookupStr(r, "place_id"),
			Name: lookupStr(r, "name"),
			Coordinates: domain.Coords{
				Lat: lookupF64(r, "geometry.location.lat"),
				Lon: lookupF64(r, "geometry.location.lng"),
			},
		}
		if cand.ID != "" {
			out = append(out, cand)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

func (c *Client) Details(ctx context.Context, id string) (domain.Place, error) {
	q := url.Values{}
	q.Set("place_id", id)
	q.Set("fields", detailsFields)
	q.Set("key", c.key)

	var payload struct {
		Status string         `json:"status"`
		Result map[string]any `json:"result"`
	}
	if err := c.get(ctx, c.base+"/details/json?"+q.Encode(), "details", &payload); err != nil {
		return domain.Place{}, err
	}
	if err := statusErr(payload.Status); err != nil {
		return domain.Place{}, err
	}
	return mapDetails(id, payload.Result), nil
}

// PhotoURL builds the fetchable URL for a native photo reference. The key is
// embedded; the URL is only ever used server-side by the ingester.
func (c *Client) PhotoURL(ref string, maxWidthPx int) string {
	q := url.Values{}
	q.Set("photoreference", ref)
	q.Set("maxwidth", fmt.Sprintf("%d", maxWidthPx))
	q.Set("key", c.key)
	return c.base + "/photo?" + q.Encode()
}

func statusErr(s string) error {
	switch s {
	case "OK":
		return nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return ErrNoResults
	case "OVER_QUERY_LIMIT":
		return ErrOverQuota
	case "REQUEST_DENIED":
		return ErrDenied
	default:
		return fmt.Errorf("places: status %s", s)
	}
}

// get performs a GET with client-side rate limiting, retries on transient
// failures with jittered backoff, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, u, endpoint string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "pinintel/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return lastErr
		}
		observability.ObserveExternal("places", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNoResults

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := time.ParseDuration(strings.TrimSpace(h) + "s"); err == nil && secs >= 0 {
		return secs
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay (200ms, 400ms, 800ms...) with up to
// +50% crypto-rand jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
