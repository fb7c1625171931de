package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

// The image waterfall is an explicit ordered list of named tiers run by a
// small driver. A tier either contributes images, declines with a reason, or
// errors; errors advance the waterfall, they never fail the pipeline.
//
// Ordering invariant: once the image list is non-empty no further tier runs,
// with one exception: the website tier may top a short provider-photo batch
// up to the configured max. The static-map tier cannot fail, so the output
// list is never empty.

type tierResult struct {
	images []domain.Image
	skip   string // reason the tier declined to run, when non-empty
	err    error
}

type imageTier struct {
	name  string
	topUp bool // may run against a non-empty list to fill up to MaxPhotos
	run   func(ctx context.Context, st *resolveState, budget int) tierResult
}

func (r *Resolver) imageTiers() []imageTier {
	return []imageTier{
		{name: domain.ImageSourceProvider, run: r.tierProviderPhotos},
		{name: domain.ImageSourceWebsite, topUp: true, run: r.tierWebsite},
		{name: domain.ImageSourceKnowledgeGraph, run: r.tierKnowledgeGraph},
		{name: domain.ImageSourceStock, run: r.tierStock},
		{name: domain.ImageSourceStaticMap, run: r.tierStaticMap},
	}
}

func (r *Resolver) runWaterfall(ctx context.Context, st *resolveState) {
	for _, t := range r.imageTiers() {
		if len(st.images) > 0 {
			if !t.topUp || len(st.images) >= r.opts.MaxPhotos {
				continue
			}
		}
		budget := r.opts.MaxPhotos - len(st.images)

		stop := st.diag.Time("tier_" + t.name)
		res := t.run(ctx, st, budget)
		stop()

		switch {
		case res.err != nil:
			observability.ObserveTier(t.name, "error")
			st.diag.Fallback(fmt.Sprintf("images_%s_error", t.name))
			log.Warn().Err(res.err).Str("tier", t.name).Msg("image tier failed")
		case res.skip != "":
			observability.ObserveTier(t.name, "skip")
			st.diag.Fallback(res.skip)
		case len(res.images) == 0:
			observability.ObserveTier(t.name, "empty")
			st.diag.Fallback(fmt.Sprintf("images_%s_empty", t.name))
		default:
			observability.ObserveTier(t.name, "hit")
			st.diag.Fallback(fmt.Sprintf("images_%s", t.name))
			st.images = append(st.images, res.images...)
		}
	}
}

// Tier 1: provider-verified photos from the paid detail lookup. Preferred
// unconditionally; they are tied to that exact venue.
func (r *Resolver) tierProviderPhotos(ctx context.Context, st *resolveState, budget int) tierResult {
	if len(st.place.PhotoRefs) == 0 || r.d.Places == nil {
		return tierResult{skip: "skip_provider_photo_none"}
	}
	cands := make([]Candidate, 0, len(st.place.PhotoRefs))
	for _, ref := range st.place.PhotoRefs {
		cands = append(cands, Candidate{URL: r.d.Places.PhotoURL(ref, r.opts.PhotoMaxWidthPx)})
	}
	imgs := r.ingest.IngestAll(ctx, cands, mediaKey(st.at), domain.ImageSourceProvider, budget, st.diag)
	return tierResult{images: imgs}
}

// Tier 2: imagery scraped off the validated website.
func (r *Resolver) tierWebsite(ctx context.Context, st *resolveState, budget int) tierResult {
	if st.place.Website == "" || r.d.Scraper == nil {
		return tierResult{skip: "skip_website_none"}
	}
	meta := st.pageMeta
	if meta == nil {
		m, err := r.d.Scraper.Scrape(ctx, st.place.Website)
		if err != nil {
			return tierResult{err: err}
		}
		meta = &m
		st.pageMeta = meta
	}
	if len(meta.ImageURLs) == 0 {
		return tierResult{}
	}
	cands := make([]Candidate, 0, len(meta.ImageURLs))
	for _, u := range meta.ImageURLs {
		cands = append(cands, Candidate{URL: u})
	}
	imgs := r.ingest.IngestAll(ctx, cands, mediaKey(st.at), domain.ImageSourceWebsite, budget, st.diag)
	return tierResult{images: imgs}
}

// Tier 3: knowledge-graph media, only for places with a real name.
func (r *Resolver) tierKnowledgeGraph(ctx context.Context, st *resolveState, budget int) tierResult {
	if r.d.KG == nil {
		return tierResult{skip: "skip_kg_unconfigured"}
	}
	if st.qc.GenericName || st.qc.LooksLikeAddress {
		return tierResult{skip: "skip_kg_generic"}
	}
	m := r.crossMatch(ctx, st)
	if m == nil || len(m.ImageURLs) == 0 {
		return tierResult{}
	}
	cands := make([]Candidate, 0, len(m.ImageURLs))
	for _, u := range m.ImageURLs {
		cands = append(cands, Candidate{URL: u, Attribution: "Wikimedia Commons"})
	}
	imgs := r.ingest.IngestAll(ctx, cands, mediaKey(st.at), domain.ImageSourceKnowledgeGraph, budget, st.diag)
	return tierResult{images: imgs}
}

// Tier 4: stock photo search. Skipped when unconfigured or when the name is
// a risky short acronym that would pull wrong-brand photography.
func (r *Resolver) tierStock(ctx context.Context, st *resolveState, budget int) tierResult {
	if r.d.Stock == nil {
		return tierResult{skip: "skip_stock_unconfigured"}
	}
	if st.qc.RiskyShortBrand {
		return tierResult{skip: "skip_stock_risky_brand"}
	}

	var firstErr error
	for _, q := range stockQueries(st.qc) {
		photos, err := r.d.Stock.Search(ctx, q, budget)
		if err != nil {
			if firstErr == nil && !errors.Is(err, domain.ErrNotFound) {
				firstErr = err
			}
			continue
		}
		if len(photos) == 0 {
			continue
		}
		st.diag.Fallback("stock_query:" + q)
		cands := make([]Candidate, 0, len(photos))
		for _, p := range photos {
			cands = append(cands, Candidate{URL: p.URL, Attribution: p.Attribution})
		}
		imgs := r.ingest.IngestAll(ctx, cands, mediaKey(st.at), domain.ImageSourceStock, budget, st.diag)
		return tierResult{images: imgs}
	}
	return tierResult{err: firstErr}
}

// Tier 5: static map snapshot. No I/O, no validation, cannot fail.
func (r *Resolver) tierStaticMap(_ context.Context, st *resolveState, _ int) tierResult {
	return tierResult{images: []domain.Image{r.staticMapImage(st.at)}}
}

// stockQueries builds the ordered stock-photo query list. A generic hint or
// an address-shaped name downgrades to the category+locality form; the last
// resort is bare locality landscape.
func stockQueries(qc QueryContext) []string {
	var primary string
	if qc.GenericHint || qc.LooksLikeAddress || qc.GenericName {
		primary = joinNonEmpty(" ", qc.CategoryLeaf, qc.Locality, "landscape")
	} else {
		primary = joinNonEmpty(" ", qc.Name, qc.Locality)
	}

	var out []string
	for _, q := range []string{
		primary,
		joinNonEmpty(" ", qc.CategoryLeaf, qc.Locality, "travel"),
		joinNonEmpty(" ", qc.Locality, "landscape"),
	} {
		if q == "" || q == "landscape" || q == "travel" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == q {
			continue
		}
		out = append(out, q)
	}
	return out
}
