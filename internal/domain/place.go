package domain

import (
	"fmt"
	"math"
	"time"
)

// Source tags identify which provider produced the base identity. Downstream
// trust decisions (photo preference, cache persistence) key off these.
const (
	SourceGoogle   = "google"
	SourceGeoapify = "geoapify"
)

// Image source tags, one per waterfall tier.
const (
	ImageSourceProvider       = "provider-photo"
	ImageSourceWebsite        = "website"
	ImageSourceKnowledgeGraph = "knowledge-graph"
	ImageSourceStock          = "stock"
	ImageSourceStaticMap      = "static-map"
)

type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both components are finite and within range.
func (c Coords) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String renders the coordinate at cache-bucket precision (5 decimals ≈ 1.1 m).
func (c Coords) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// DistanceM returns the haversine distance to other in meters.
func (c Coords) DistanceM(other Coords) float64 {
	const earthRadiusM = 6371000.0
	lat1 := c.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - c.Lat) * math.Pi / 180
	dLon := (other.Lon - c.Lon) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Place is the canonical resolved identity for a pin. Built incrementally by
// the resolver, immutable once returned.
type Place struct {
	Coordinates Coords  `json:"coordinates"`
	Name        string  `json:"name"` // never empty; falls back to the coordinate string
	Category    string  `json:"category,omitempty"`
	Address     string  `json:"address,omitempty"`
	Locality    string  `json:"locality,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	Website     string  `json:"website,omitempty"`
	WebsiteFrom string  `json:"websiteFrom,omitempty"` // "provider" | "knowledge-graph" | "search"
	Source      string  `json:"source"`
	SourceID    string  `json:"sourceId,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	// PhotoRefs are provider-native photo references from the paid detail
	// lookup; consumed by the waterfall, never serialized to clients.
	PhotoRefs []string `json:"-"`
}

// Image is one hosted output image. URL always points at owned storage,
// except the static-map tier which is itself a generated, key-scoped URL.
type Image struct {
	URL            string `json:"url"`
	Source         string `json:"source"`
	Attribution    string `json:"attribution,omitempty"`
	OriginatingURL string `json:"originatingUrl,omitempty"`
}

// CacheEntry is one Place Cache value: the resolved identity plus its
// already re-hosted photos. Overwritten, never merged, on refresh. Full
// Image records (not bare URLs) so source and attribution survive a hit.
type CacheEntry struct {
	Place      Place     `json:"place"`
	Images     []Image   `json:"images"`
	InsertedAt time.Time `json:"insertedAt"`
}

// UploadFailure records one ingestion failure with the stage it died in.
type UploadFailure struct {
	Source  string `json:"source"`
	URL     string `json:"url"`
	Stage   string `json:"stage"` // init | download | upload
	Message string `json:"message"`
}

// Diagnostics accumulates execution evidence for one resolution. Attached to
// the response (success or failure), never to the Place itself.
type Diagnostics struct {
	Timings        map[string]time.Duration `json:"timings"`
	FallbacksUsed  []string                 `json:"fallbacksUsed"`
	UploadFailures []UploadFailure          `json:"uploadFailures,omitempty"`
}
