package app

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pinintel/internal/domain"
)

// ErrInvalidCoordinates is a client input error: out-of-range or non-finite
// coordinates. Surfaced immediately; no provider is called.
var ErrInvalidCoordinates = errors.New("coordinates out of range")

// Deps are the external capabilities the resolver orchestrates. All stores
// are external and atomically updated; the resolver itself is stateless.
type Deps struct {
	Places    domain.PlacesClient // nil when the paid provider is unavailable
	Geocoder  domain.Geocoder
	KG        domain.KnowledgeGraph
	Search    domain.WebSearcher
	Scraper   domain.Scraper
	Stock     domain.StockPhotoSearcher // nil when unconfigured: tier silently skipped
	StaticMap domain.StaticMapper
	Cache     domain.PlaceCache
	Quota     domain.QuotaCounter
	Blobs     domain.BlobStore
}

type Options struct {
	PlacesEnabled      bool
	RadiusM            int
	MaxPhotos          int
	CacheTTLDays       int
	MaxDetailDistanceM float64
	PhotoMaxWidthPx    int
	TierTimeouts       map[string]time.Duration
}

func (o *Options) defaults() {
	if o.RadiusM <= 0 {
		o.RadiusM = 100
	}
	if o.MaxPhotos <= 0 {
		o.MaxPhotos = 3
	}
	if o.CacheTTLDays <= 0 {
		o.CacheTTLDays = 30
	}
	if o.MaxDetailDistanceM <= 0 {
		o.MaxDetailDistanceM = 150
	}
	if o.PhotoMaxWidthPx <= 0 {
		o.PhotoMaxWidthPx = 800
	}
}

type Resolver struct {
	d      Deps
	opts   Options
	ingest *Ingester
}

func NewResolver(d Deps, opts Options) *Resolver {
	opts.defaults()
	return &Resolver{d: d, opts: opts, ingest: NewIngester(d.Blobs, opts.TierTimeouts)}
}

// Result is the synthesized place card.
type Result struct {
	Place       domain.Place       `json:"place"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Images      []domain.Image     `json:"images"`
	Diagnostics domain.Diagnostics `json:"diagnostics"`
}

// resolveState carries one resolution through the pipeline.
type resolveState struct {
	at      domain.Coords
	hint    string
	place   domain.Place
	qc      QueryContext
	paidRan bool

	// kgMatch memoizes the knowledge-graph cross-match so the website
	// backfill and the imagery tier share one lookup.
	kgMatch *domain.KGMatch
	kgTried bool

	// pageMeta is the scrape of the validated website, reused by the
	// synthesizer and the website imagery tier.
	pageMeta *domain.PageMeta

	images []domain.Image
	diag   *DiagCollector
}

// Resolve turns a pin into a place card. Provider failures, quota exhaustion
// and validation rejections are all recovered locally; a well-formed request
// always comes back with at least the static-map image.
func (r *Resolver) Resolve(ctx context.Context, at domain.Coords, hint, clientKey string) (Result, error) {
	diag := NewDiagCollector()
	if !at.Valid() {
		return Result{Diagnostics: diag.Snapshot()}, ErrInvalidCoordinates
	}

	st := &resolveState{at: at, hint: hint, diag: diag}
	stopAll := diag.Time("total")
	defer stopAll()

	// 1. Cache probe: a hit skips every paid lookup.
	if r.d.Cache != nil {
		stop := diag.Time("cache_probe")
		entry, ok, err := r.d.Cache.Get(ctx, at, r.opts.CacheTTLDays)
		stop()
		if err != nil {
			log.Warn().Err(err).Msg("place cache read failed")
		}
		if ok {
			diag.Fallback("cache_hit")
			st.place = entry.Place
			st.qc = BuildQueryContext(st.place, hint)
			st.images = entry.Images
			if len(st.images) == 0 {
				st.images = append(st.images, r.staticMapImage(at))
			}
			title, desc := Synthesize(st.place, st.qc, nil)
			return Result{Place: st.place, Title: title, Description: desc, Images: st.images, Diagnostics: diag.Snapshot()}, nil
		}
	}

	// 2–3. Identity.
	r.resolveIdentity(ctx, st, clientKey)
	st.qc = BuildQueryContext(st.place, hint)

	// 4–5. Website backfill.
	r.backfillWebsite(ctx, st)

	// Image waterfall + ingestion.
	r.runWaterfall(ctx, st)

	title, desc := Synthesize(st.place, st.qc, st.pageMeta)

	// 6. Persist, but only when the paid path actually ran: the cache
	// exists to amortize that cost, nothing else.
	if st.paidRan && r.d.Cache != nil {
		entry := domain.CacheEntry{Place: st.place, Images: ownedOnly(st.images), InsertedAt: time.Now().UTC()}
		if err := r.d.Cache.Put(ctx, at, entry); err != nil {
			log.Warn().Err(err).Msg("place cache write failed")
		}
	}

	return Result{Place: st.place, Title: title, Description: desc, Images: st.images, Diagnostics: diag.Snapshot()}, nil
}

// ownedOnly drops the static-map entry from what gets cached; it is
// regenerated deterministically and its URL embeds a rotating key.
func ownedOnly(images []domain.Image) []domain.Image {
	out := make([]domain.Image, 0, len(images))
	for _, img := range images {
		if img.Source != domain.ImageSourceStaticMap {
			out = append(out, img)
		}
	}
	return out
}

func (r *Resolver) staticMapImage(at domain.Coords) domain.Image {
	return domain.Image{URL: r.d.StaticMap.SnapshotURL(at), Source: domain.ImageSourceStaticMap}
}

// resolveIdentity runs the paid lookup (quota-gated, distance-validated) and
// falls back to the structured geocoder, ending with a coordinate-named
// placeholder if everything misses.
func (r *Resolver) resolveIdentity(ctx context.Context, st *resolveState, clientKey string) {
	if r.opts.PlacesEnabled && r.d.Places != nil {
		if r.allowPaid(ctx, st, clientKey) {
			r.paidLookup(ctx, st)
		}
	} else {
		st.diag.Fallback("paid_disabled")
	}

	if st.place.SourceID == "" && r.d.Geocoder != nil {
		stop := st.diag.Time("geocode")
		p, err := r.d.Geocoder.Reverse(ctx, st.at)
		stop()
		switch {
		case err == nil:
			st.diag.Fallback("geocode_baseline")
			st.place = p
		case errors.Is(err, domain.ErrNotFound):
			st.diag.Fallback("geocode_no_match")
		default:
			st.diag.Fallback("geocode_error")
			log.Warn().Err(err).Msg("reverse geocode failed")
		}
	}

	// Name is never empty: the coordinate string is the floor.
	if st.place.Name == "" {
		st.place.Name = st.at.String()
	}
	if st.place.Coordinates == (domain.Coords{}) {
		st.place.Coordinates = st.at
	}
}

// allowPaid applies the quota guard. A storage error fails closed: the paid
// tier is skipped, the pipeline continues.
func (r *Resolver) allowPaid(ctx context.Context, st *resolveState, clientKey string) bool {
	dec, err := r.d.Quota.CheckAndIncrement(ctx, clientKey)
	if err != nil {
		st.diag.Fallback("quota_error_fail_closed")
		log.Warn().Err(err).Msg("quota counter unavailable, failing closed")
		return false
	}
	if !dec.Allowed {
		st.diag.Fallback("quota_exhausted")
		return false
	}
	return true
}

func (r *Resolver) paidLookup(ctx context.Context, st *resolveState) {
	st.paidRan = true
	stop := st.diag.Time("places_nearby")
	cands, err := r.d.Places.Nearby(ctx, st.at, r.opts.RadiusM)
	stop()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			st.diag.Fallback("places_no_match")
		} else {
			st.diag.Fallback("places_error")
			log.Warn().Err(err).Msg("nearby search failed")
		}
		return
	}

	top := cands[0]
	stop = st.diag.Time("places_details")
	detail, err := r.d.Places.Details(ctx, top.ID)
	stop()
	if err != nil {
		st.diag.Fallback("places_detail_error")
		log.Warn().Err(err).Str("id", top.ID).Msg("detail lookup failed")
		return
	}

	// A detail whose own coordinate sits too far from the pin means the
	// nearby search matched the wrong venue. Reject it outright.
	if d := st.at.DistanceM(detail.Coordinates); d > r.opts.MaxDetailDistanceM {
		st.diag.Fallback("reject_far_candidate")
		log.Info().Float64("distance_m", d).Str("id", top.ID).Msg("rejected far candidate")
		return
	}

	st.place = detail
}

// backfillWebsite fills Place.Website when the identity source did not carry
// one: first the knowledge graph (exact official-website claim only), then
// guarded search discovery with official-enough validation.
func (r *Resolver) backfillWebsite(ctx context.Context, st *resolveState) {
	if st.place.Website != "" {
		return
	}

	// Tier 1: knowledge graph.
	if r.d.KG != nil && !st.qc.GenericName && !st.qc.LooksLikeAddress {
		m := r.crossMatch(ctx, st)
		if m != nil && m.Website != "" {
			st.place.Website = m.Website
			st.place.WebsiteFrom = "knowledge-graph"
			st.diag.Fallback("website_kg")
			return
		}
	}

	// Tier 2: search discovery, guarded.
	if r.d.Search == nil || r.d.Scraper == nil {
		return
	}
	query := st.qc.Name
	if !st.qc.GenericHint {
		query = st.qc.Hint
	}
	if IsGenericText(query) {
		st.diag.Fallback("website_search_skip_generic")
		return
	}
	if LooksLikeAddress(query) {
		st.diag.Fallback("website_search_skip_address")
		return
	}

	stop := st.diag.Time("website_search")
	candidate, err := r.d.Search.FirstResult(ctx, query+" "+st.qc.Locality+" official website")
	stop()
	if err != nil || candidate == "" {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("website discovery failed")
		}
		st.diag.Fallback("website_search_no_result")
		return
	}

	if deniedDomain(candidate) {
		st.diag.Fallback("website_rejected_denylist")
		return
	}

	// Official-enough check: the site's own title must mention the place's
	// primary name token.
	stop = st.diag.Time("website_validate")
	meta, err := r.d.Scraper.Scrape(ctx, candidate)
	stop()
	if err != nil {
		st.diag.Fallback("website_rejected_unreachable")
		return
	}
	tok := PrimaryNameToken(query)
	titles := strings.ToLower(meta.Title + " " + meta.OGTitle)
	if tok == "" || !strings.Contains(titles, tok) {
		st.diag.Fallback("website_rejected_title")
		return
	}

	st.place.Website = candidate
	st.place.WebsiteFrom = "search"
	st.pageMeta = &meta
	st.diag.Fallback("website_search")
}

// crossMatch memoizes the KG lookup inside the resolution so the website
// backfill and the imagery tier pay for at most one fetch.
func (r *Resolver) crossMatch(ctx context.Context, st *resolveState) *domain.KGMatch {
	if st.kgTried {
		return st.kgMatch
	}
	st.kgTried = true
	stop := st.diag.Time("kg_crossmatch")
	m, err := r.d.KG.CrossMatch(ctx, st.qc.Name, st.qc.Locality)
	stop()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("knowledge-graph cross-match failed")
		}
		st.diag.Fallback("website_kg_miss")
		return nil
	}
	st.kgMatch = &m
	return st.kgMatch
}

// knownGenericDomains never count as an official website, whatever their
// title says: directories, aggregators, municipal listing sites.
var knownGenericDomains = []string{
	"yelp.com", "tripadvisor.com", "facebook.com", "instagram.com",
	"foursquare.com", "wikipedia.org", "yellowpages.com", "ci.gov",
	"city-data.com", "mapquest.com", "google.com",
}

func deniedDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range knownGenericDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// mediaKey is the deterministic per-bucket prefix for re-hosted images.
func mediaKey(at domain.Coords) string {
	return strings.ReplaceAll(at.String(), ",", "-")
}
