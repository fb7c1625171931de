package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by providers when a lookup has no result. The
// pipeline treats it as "advance to the next tier", never as a failure.
var ErrNotFound = errors.New("not found")

// PlaceCandidate is one hit from the paid nearby search, enough to decide
// whether a detail lookup is worth spending.
type PlaceCandidate struct {
	ID          string
	Name        string
	Coordinates Coords
}

// PlacesClient is the paid provider: nearby POI search plus detail lookup.
// Both calls are gated by the Quota Guard upstream.
type PlacesClient interface {
	Nearby(ctx context.Context, at Coords, radiusM int) ([]PlaceCandidate, error)
	Details(ctx context.Context, id string) (Place, error)
	// PhotoURL turns a provider-native photo reference into a fetchable URL.
	PhotoURL(ref string, maxWidthPx int) string
}

// Geocoder is the cheap structured reverse-geocoding baseline.
type Geocoder interface {
	Reverse(ctx context.Context, at Coords) (Place, error)
}

// KGMatch is a knowledge-graph cross-match result. Website is the exact
// official-website claim or empty, never a guess.
type KGMatch struct {
	EntityID  string
	Website   string
	ImageURLs []string
}

type KnowledgeGraph interface {
	CrossMatch(ctx context.Context, name, locality string) (KGMatch, error)
}

// WebSearcher returns the first organic result URL for a query, or
// ErrNotFound when the search yields nothing usable.
type WebSearcher interface {
	FirstResult(ctx context.Context, query string) (string, error)
}

// PageMeta is what the scraper extracts from a website.
type PageMeta struct {
	Title         string
	Description   string
	OGTitle       string
	OGDescription string
	ImageURLs     []string
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (PageMeta, error)
}

type StockPhoto struct {
	URL         string
	Attribution string
}

type StockPhotoSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]StockPhoto, error)
}

// StaticMapper synthesizes a deterministic, key-scoped map-tile URL centered
// on the pin. It performs no I/O and cannot fail.
type StaticMapper interface {
	SnapshotURL(at Coords) string
}

// BlobStore is the owned storage images are re-hosted into. Put returns the
// public URL the client will be handed. tier and originURL are operational
// metadata, not part of the key.
type BlobStore interface {
	Put(ctx context.Context, key, tier, contentType string, data []byte, originURL string) (string, error)
}

// PlaceCache stores resolved identities keyed by coordinate bucket. Get
// treats entries older than ttlDays as misses; Put overwrites.
type PlaceCache interface {
	Get(ctx context.Context, at Coords, ttlDays int) (CacheEntry, bool, error)
	Put(ctx context.Context, at Coords, e CacheEntry) error
}

type QuotaDecision struct {
	Allowed   bool
	Remaining int
}

// QuotaCounter enforces the per-client daily ceiling on the paid provider.
// Implementations must increment atomically and never decrement.
type QuotaCounter interface {
	CheckAndIncrement(ctx context.Context, clientKey string) (QuotaDecision, error)
}
