// internal/adapters/wikidata/client.go
package wikidata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

// Client cross-matches a resolved place name against the public knowledge
// graph. Only the exact official-website claim (P856) is accepted as a
// website; associated media come from the image claim (P18).
//
// Lookups are memoized in-process so the resolver's website backfill and the
// waterfall's imagery tier share one fetch per name.
type Client struct {
	base string
	hc   *http.Client
	rl   *rate.Limiter
	memo *gocache.Cache
}

const (
	websiteClaim = "P856"
	imageClaim   = "P18"
)

func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 8 * time.Second},
		rl:   rate.NewLimiter(rate.Limit(4), 4),
		memo: gocache.New(6*time.Hour, 30*time.Minute),
	}
}

type memoEntry struct {
	match domain.KGMatch
	err   error
}

func (c *Client) CrossMatch(ctx context.Context, name, locality string) (domain.KGMatch, error) {
	key := strings.ToLower(name) + "|" + strings.ToLower(locality)
	if v, ok := c.memo.Get(key); ok {
		e := v.(memoEntry)
		return e.match, e.err
	}

	m, err := c.crossMatch(ctx, name, locality)
	// Negative results are memoized too; repeated misses for the same name
	// should not re-hit the remote.
	if err == nil || err == domain.ErrNotFound {
		c.memo.Set(key, memoEntry{match: m, err: err}, gocache.DefaultExpiration)
	}
	return m, err
}

func (c *Client) crossMatch(ctx context.Context, name, locality string) (domain.KGMatch, error) {
	search := name
	if locality != "" {
		search = name + " " + locality
	}
	id, err := c.searchEntity(ctx, search)
	if err == domain.ErrNotFound && locality != "" {
		// Retry on the bare name; locality-qualified labels are rare.
		id, err = c.searchEntity(ctx, name)
	}
	if err != nil {
		return domain.KGMatch{}, err
	}

	claims, err := c.getClaims(ctx, id)
	if err != nil {
		return domain.KGMatch{}, err
	}

	m := domain.KGMatch{EntityID: id}
	if v, ok := claims[websiteClaim]; ok {
		if s, ok := v.(string); ok {
			m.Website = s
		}
	}
	if v, ok := claims[imageClaim]; ok {
		if file, ok := v.(string); ok && file != "" {
			m.ImageURLs = append(m.ImageURLs,
				"https://commons.wikimedia.org/wiki/Special:FilePath/"+url.PathEscape(file)+"?width=800")
		}
	}
	return m, nil
}

func (c *Client) searchEntity(ctx context.Context, query string) (string, error) {
	q := url.Values{}
	q.Set("action", "wbsearchentities")
	q.Set("search", query)
	q.Set("language", "en")
	q.Set("type", "item")
	q.Set("limit", "1")
	q.Set("format", "json")

	var payload struct {
		Search []struct {
			ID string `json:"id"`
		} `json:"search"`
	}
	if err := c.get(ctx, "search", q, &payload); err != nil {
		return "", err
	}
	if len(payload.Search) == 0 || payload.Search[0].ID == "" {
		return "", domain.ErrNotFound
	}
	return payload.Search[0].ID, nil
}

// getClaims returns the first mainsnak string value per claim we care about.
func (c *Client) getClaims(ctx context.Context, entityID string) (map[string]any, error) {
	q := url.Values{}
	q.Set("action", "wbgetclaims")
	q.Set("entity", entityID)
	q.Set("format", "json")

	var payload struct {
		Claims map[string][]struct {
			Mainsnak struct {
				Datavalue struct {
					Value any `json:"value"`
				} `json:"datavalue"`
			} `json:"mainsnak"`
		} `json:"claims"`
	}
	if err := c.get(ctx, "claims", q, &payload); err != nil {
		return nil, err
	}

	out := make(map[string]any, 2)
	for _, prop := range []string{websiteClaim, imageClaim} {
		if cs, ok := payload.Claims[prop]; ok && len(cs) > 0 {
			out[prop] = cs[0].Mainsnak.Datavalue.Value
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/w/api.php?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pinintel/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("wikidata", endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("wikidata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
