package app

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

const (
	stageInit     = "init"
	stageDownload = "download"
	stageUpload   = "upload"
)

// Candidate is one image URL a waterfall tier wants re-hosted.
type Candidate struct {
	URL         string
	Attribution string
}

// Ingester downloads candidate images and re-hosts them in owned storage.
// Failures are per-image and never fatal: they are recorded and the caller
// moves on to the next candidate or tier.
type Ingester struct {
	store    domain.BlobStore
	hc       *http.Client
	timeouts map[string]time.Duration // per tier; slower tiers get less
	maxBytes int64
}

func NewIngester(store domain.BlobStore, timeouts map[string]time.Duration) *Ingester {
	return &Ingester{
		store:    store,
		hc:       &http.Client{Timeout: 15 * time.Second},
		timeouts: timeouts,
		maxBytes: 8 << 20,
	}
}

// IngestAll re-hosts up to max candidates. Downloads within one batch run
// concurrently; ordering only matters between tiers, not inside one. Output
// order follows input order. Failures land in diag.
func (g *Ingester) IngestAll(ctx context.Context, cands []Candidate, cacheKey, tier string, max int, diag *DiagCollector) []domain.Image {
	if max > 0 && len(cands) > max {
		cands = cands[:max]
	}
	results := make([]*domain.Image, len(cands))

	eg, gctx := errgroup.WithContext(ctx)
	for i, cand := range cands {
		eg.Go(func() error {
			img, fail := g.ingest(gctx, cand, cacheKey, tier)
			if fail != nil {
				observability.ObserveIngestFailure(tier, fail.Stage)
				diag.Failure(*fail)
				return nil // isolation: one bad candidate never sinks the batch
			}
			results[i] = &img
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]domain.Image, 0, len(cands))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (g *Ingester) ingest(ctx context.Context, cand Candidate, cacheKey, tier string) (domain.Image, *domain.UploadFailure) {
	fail := func(stage, msg string) (domain.Image, *domain.UploadFailure) {
		return domain.Image{}, &domain.UploadFailure{Source: tier, URL: cand.URL, Stage: stage, Message: msg}
	}

	// init: URL sanity before spending a fetch
	u, err := url.Parse(cand.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail(stageInit, fmt.Sprintf("unusable url %q", cand.URL))
	}

	// download: bounded by the tier's timeout and maxBytes
	timeout := g.timeouts[tier]
	if timeout == 0 {
		timeout = 6 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, cand.URL, nil)
	if err != nil {
		return fail(stageDownload, err.Error())
	}
	req.Header.Set("User-Agent", "pinintel/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := g.hc.Do(req)
	if err != nil {
		return fail(stageDownload, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(stageDownload, fmt.Sprintf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return fail(stageDownload, err.Error())
	}
	if int64(len(data)) > g.maxBytes {
		return fail(stageDownload, fmt.Sprintf("body exceeds %d bytes", g.maxBytes))
	}
	if len(data) == 0 {
		return fail(stageDownload, "empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return fail(stageDownload, fmt.Sprintf("not an image: %s", contentType))
	}

	// upload: deterministic path from the cache key and a content hash, so
	// re-ingests of identical bytes overwrite instead of piling up
	sum := sha1.Sum(data)
	key := fmt.Sprintf("%s-%x", cacheKey, sum[:8])
	hosted, err := g.store.Put(ctx, key, tier, contentType, data, cand.URL)
	if err != nil {
		return fail(stageUpload, err.Error())
	}

	return domain.Image{
		URL:            hosted,
		Source:         tier,
		Attribution:    cand.Attribution,
		OriginatingURL: cand.URL,
	}, nil
}
