package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pinintel/internal/app"
	"pinintel/internal/domain"
)

// ---- fakes ----

type fakePlaces struct {
	photoBase   string
	nearby      []domain.PlaceCandidate
	nearbyErr   error
	detail      domain.Place
	detailErr   error
	nearbyCalls int
	detailCalls int
}

func (f *fakePlaces) Nearby(ctx context.Context, at domain.Coords, radiusM int) ([]domain.PlaceCandidate, error) {
	f.nearbyCalls++
	if f.nearbyErr != nil {
		return nil, f.nearbyErr
	}
	return f.nearby, nil
}

func (f *fakePlaces) Details(ctx context.Context, id string) (domain.Place, error) {
	f.detailCalls++
	if f.detailErr != nil {
		return domain.Place{}, f.detailErr
	}
	return f.detail, nil
}

func (f *fakePlaces) PhotoURL(ref string, maxWidthPx int) string {
	return f.photoBase + "/photo/" + ref
}

type fakeGeocoder struct {
	place domain.Place
	err   error
	calls int
}

func (f *fakeGeocoder) Reverse(ctx context.Context, at domain.Coords) (domain.Place, error) {
	f.calls++
	if f.err != nil {
		return domain.Place{}, f.err
	}
	return f.place, nil
}

type fakeKG struct {
	match domain.KGMatch
	err   error
	calls int
}

func (f *fakeKG) CrossMatch(ctx context.Context, name, locality string) (domain.KGMatch, error) {
	f.calls++
	if f.err != nil {
		return domain.KGMatch{}, f.err
	}
	return f.match, nil
}

type fakeSearch struct {
	url   string
	err   error
	calls int
}

func (f *fakeSearch) FirstResult(ctx context.Context, query string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeScraper struct {
	meta  domain.PageMeta
	err   error
	calls int
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (domain.PageMeta, error) {
	f.calls++
	if f.err != nil {
		return domain.PageMeta{}, f.err
	}
	return f.meta, nil
}

type fakeStock struct {
	photos  []domain.StockPhoto
	queries []string
}

func (f *fakeStock) Search(ctx context.Context, query string, limit int) ([]domain.StockPhoto, error) {
	f.queries = append(f.queries, query)
	return f.photos, nil
}

type fakeMaps struct{ calls int }

func (f *fakeMaps) SnapshotURL(at domain.Coords) string {
	f.calls++
	return "http://maps.example/static?center=" + at.String()
}

type fakeCache struct {
	entries map[string]domain.CacheEntry
	puts    int
}

func (f *fakeCache) Get(ctx context.Context, at domain.Coords, ttlDays int) (domain.CacheEntry, bool, error) {
	e, ok := f.entries[at.String()]
	return e, ok, nil
}

func (f *fakeCache) Put(ctx context.Context, at domain.Coords, e domain.CacheEntry) error {
	if f.entries == nil {
		f.entries = map[string]domain.CacheEntry{}
	}
	f.entries[at.String()] = e
	f.puts++
	return nil
}

type fakeQuota struct {
	limit  int
	counts map[string]int
	err    error
}

func (f *fakeQuota) CheckAndIncrement(ctx context.Context, clientKey string) (domain.QuotaDecision, error) {
	if f.err != nil {
		return domain.QuotaDecision{}, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	if f.counts[clientKey] >= f.limit {
		return domain.QuotaDecision{Allowed: false}, nil
	}
	f.counts[clientKey]++
	return domain.QuotaDecision{Allowed: true, Remaining: f.limit - f.counts[clientKey]}, nil
}

type fakeBlobs struct{ puts int }

func (f *fakeBlobs) Put(ctx context.Context, key, tier, contentType string, data []byte, originURL string) (string, error) {
	f.puts++
	return "http://media.example/" + key, nil
}

// imgServer serves fake image bytes; paths containing "missing" 404.
func imgServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(404)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes-" + r.URL.Path))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func hasFallback(d domain.Diagnostics, name string) bool {
	for _, f := range d.FallbacksUsed {
		if f == name {
			return true
		}
	}
	return false
}

// ---- tests ----

var pin = domain.Coords{Lat: 37.76140, Lon: -122.42410}

func TestResolve_InvalidCoordinates_NoProviderCalls(t *testing.T) {
	places := &fakePlaces{}
	geo := &fakeGeocoder{}
	r := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  geo,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: true})

	for _, c := range []domain.Coords{{Lat: 95, Lon: 0}, {Lat: 0, Lon: -181}, {Lat: 91, Lon: 200}} {
		_, err := r.Resolve(context.Background(), c, "", "client")
		if err != app.ErrInvalidCoordinates {
			t.Fatalf("coords %v: expected ErrInvalidCoordinates, got %v", c, err)
		}
	}
	if places.nearbyCalls != 0 || places.detailCalls != 0 || geo.calls != 0 {
		t.Fatalf("invalid input must make zero provider calls")
	}
}

func TestResolve_AlwaysAtLeastOneImage(t *testing.T) {
	// Everything fails or is absent; only the static map remains.
	maps := &fakeMaps{}
	r := app.NewResolver(app.Deps{
		Geocoder:  &fakeGeocoder{err: domain.ErrNotFound},
		StaticMap: maps,
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(res.Images) < 1 {
		t.Fatalf("images must never be empty")
	}
	if res.Images[0].Source != domain.ImageSourceStaticMap {
		t.Fatalf("expected static-map fallback, got %+v", res.Images[0])
	}
	if res.Place.Name != pin.String() {
		t.Fatalf("name must fall back to the coordinate string, got %q", res.Place.Name)
	}
	if maps.calls == 0 {
		t.Fatalf("static map tier should have run")
	}
}

func TestResolve_WaterfallOrdering_ProviderPhotosWin(t *testing.T) {
	ts := imgServer(t)
	places := &fakePlaces{
		photoBase: ts.URL,
		nearby:    []domain.PlaceCandidate{{ID: "poi-1", Name: "Tartine Bakery", Coordinates: pin}},
		detail: domain.Place{
			Coordinates: pin,
			Name:        "Tartine Bakery",
			Category:    "catering.bakery",
			Locality:    "San Francisco",
			Website:     "https://tartinebakery.com",
			WebsiteFrom: "provider",
			Source:      domain.SourceGoogle,
			SourceID:    "poi-1",
			PhotoRefs:   []string{"a", "b", "c"},
		},
	}
	kg := &fakeKG{}
	stock := &fakeStock{}
	scraper := &fakeScraper{}
	r := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  &fakeGeocoder{},
		KG:        kg,
		Scraper:   scraper,
		Stock:     stock,
		StaticMap: &fakeMaps{},
		Cache:     &fakeCache{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: true, MaxPhotos: 3})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(res.Images) != 3 {
		t.Fatalf("expected 3 provider photos, got %d", len(res.Images))
	}
	for _, img := range res.Images {
		if img.Source != domain.ImageSourceProvider {
			t.Fatalf("all images should be provider photos: %+v", img)
		}
		if !strings.HasPrefix(img.URL, "http://media.example/") {
			t.Fatalf("images must point at owned storage: %s", img.URL)
		}
	}
	// No later tier may have been invoked.
	if kg.calls != 0 {
		t.Fatalf("knowledge graph should not run after a provider-photo hit")
	}
	if len(stock.queries) != 0 {
		t.Fatalf("stock should not run after a provider-photo hit")
	}
	if scraper.calls != 0 {
		t.Fatalf("website scrape should not run when provider photos hit the max")
	}
}

func TestResolve_CacheIdempotence(t *testing.T) {
	ts := imgServer(t)
	places := &fakePlaces{
		photoBase: ts.URL,
		nearby:    []domain.PlaceCandidate{{ID: "poi-1", Name: "Tartine Bakery", Coordinates: pin}},
		detail: domain.Place{
			Coordinates: pin, Name: "Tartine Bakery", Source: domain.SourceGoogle,
			SourceID: "poi-1", PhotoRefs: []string{"a"},
		},
	}
	cache := &fakeCache{}
	r := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  &fakeGeocoder{},
		StaticMap: &fakeMaps{},
		Cache:     cache,
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: true})

	first, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// Same bucket, second resolution.
	second, err := r.Resolve(context.Background(), domain.Coords{Lat: 37.761401, Lon: -122.424102}, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if places.nearbyCalls != 1 || places.detailCalls != 1 {
		t.Fatalf("expected exactly one paid lookup, got nearby=%d detail=%d", places.nearbyCalls, places.detailCalls)
	}
	if second.Place.SourceID != first.Place.SourceID {
		t.Fatalf("sourceId mismatch: %q vs %q", second.Place.SourceID, first.Place.SourceID)
	}
	if !hasFallback(second.Diagnostics, "cache_hit") {
		t.Fatalf("second resolution should be a cache hit: %v", second.Diagnostics.FallbacksUsed)
	}
}

func TestResolve_DistanceRejection(t *testing.T) {
	far := domain.Coords{Lat: pin.Lat + 0.01, Lon: pin.Lon} // ~1.1 km away
	places := &fakePlaces{
		nearby: []domain.PlaceCandidate{{ID: "poi-x", Name: "Wrong Venue", Coordinates: far}},
		detail: domain.Place{Coordinates: far, Name: "Wrong Venue", Source: domain.SourceGoogle, SourceID: "poi-x"},
	}
	geo := &fakeGeocoder{place: domain.Place{
		Coordinates: pin, Name: "Valencia Street", Locality: "San Francisco",
		Source: domain.SourceGeoapify, SourceID: "geo-1", Category: "commercial.food",
	}}
	r := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  geo,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: true, MaxDetailDistanceM: 150})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !hasFallback(res.Diagnostics, "reject_far_candidate") {
		t.Fatalf("expected reject_far_candidate in %v", res.Diagnostics.FallbacksUsed)
	}
	if res.Place.Source != domain.SourceGeoapify {
		t.Fatalf("expected secondary lookup to win, got %+v", res.Place)
	}
	if geo.calls != 1 {
		t.Fatalf("secondary lookup should have run once, got %d", geo.calls)
	}
}

func TestResolve_QuotaExhaustion(t *testing.T) {
	places := &fakePlaces{
		nearby: []domain.PlaceCandidate{{ID: "poi-1", Name: "Spot", Coordinates: pin}},
		detail: domain.Place{Coordinates: pin, Name: "Spot", Source: domain.SourceGoogle, SourceID: "poi-1"},
	}
	quota := &fakeQuota{limit: 2}
	r := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  &fakeGeocoder{err: domain.ErrNotFound},
		StaticMap: &fakeMaps{},
		Quota:     quota,
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: true}) // no cache: every call goes to quota

	coords := []domain.Coords{
		{Lat: 37.1, Lon: -122.1},
		{Lat: 37.2, Lon: -122.2},
		{Lat: 37.3, Lon: -122.3},
	}
	for i, c := range coords {
		res, err := r.Resolve(context.Background(), c, "", "same-client")
		if err != nil {
			t.Fatalf("call %d err: %v", i+1, err)
		}
		if len(res.Images) == 0 {
			t.Fatalf("call %d returned no images", i+1)
		}
		if i == 2 && !hasFallback(res.Diagnostics, "quota_exhausted") {
			t.Fatalf("third call should record quota_exhausted: %v", res.Diagnostics.FallbacksUsed)
		}
	}
	if places.nearbyCalls != 2 {
		t.Fatalf("paid tier should have run exactly twice, got %d", places.nearbyCalls)
	}
}

func TestResolve_QuotaStoreError_FailsClosed(t *testing.T) {
	places := &fakePlaces{}
	r := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  &fakeGeocoder{place: domain.Place{Coordinates: pin, Name: "Corner Cafe", Source: domain.SourceGeoapify, SourceID: "geo-2"}},
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{err: context.DeadlineExceeded},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: true})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("quota store error must not fail the pipeline: %v", err)
	}
	if !hasFallback(res.Diagnostics, "quota_error_fail_closed") {
		t.Fatalf("expected fail-closed marker: %v", res.Diagnostics.FallbacksUsed)
	}
	if places.nearbyCalls != 0 {
		t.Fatalf("paid tier must be skipped when the counter is unavailable")
	}
}

func TestResolve_GenericHintGuards(t *testing.T) {
	ts := imgServer(t)
	search := &fakeSearch{url: "https://somewhere.example"}
	stock := &fakeStock{photos: []domain.StockPhoto{{URL: ts.URL + "/stock/1", Attribution: "Someone"}}}
	r := app.NewResolver(app.Deps{
		Geocoder: &fakeGeocoder{place: domain.Place{
			Coordinates: pin, Name: "Pinned Location", Category: "catering.restaurant",
			Locality: "Springfield", Source: domain.SourceGeoapify, SourceID: "geo-3",
		}},
		Search:    search,
		Scraper:   &fakeScraper{},
		Stock:     stock,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false, MaxPhotos: 3})

	res, err := r.Resolve(context.Background(), pin, "Nature Spot", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if search.calls != 0 {
		t.Fatalf("website discovery must be skipped for generic hint+name")
	}
	if !hasFallback(res.Diagnostics, "website_search_skip_generic") {
		t.Fatalf("expected generic-skip marker: %v", res.Diagnostics.FallbacksUsed)
	}
	if len(stock.queries) == 0 || stock.queries[0] != "restaurant Springfield landscape" {
		t.Fatalf("stock query should use the category+locality landscape form, got %v", stock.queries)
	}
}

func TestResolve_AddressNameGuards(t *testing.T) {
	ts := imgServer(t)
	search := &fakeSearch{url: "https://somewhere.example"}
	stock := &fakeStock{photos: []domain.StockPhoto{{URL: ts.URL + "/stock/2"}}}
	r := app.NewResolver(app.Deps{
		Geocoder: &fakeGeocoder{place: domain.Place{
			Coordinates: pin, Name: "123 Main Street", Category: "catering.restaurant",
			Locality: "Springfield", Source: domain.SourceGeoapify, SourceID: "geo-4",
		}},
		Search:    search,
		Scraper:   &fakeScraper{},
		Stock:     stock,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false, MaxPhotos: 3})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if search.calls != 0 {
		t.Fatalf("website discovery must be skipped for address-shaped names")
	}
	if !hasFallback(res.Diagnostics, "website_search_skip_address") {
		t.Fatalf("expected address-skip marker: %v", res.Diagnostics.FallbacksUsed)
	}
	if len(stock.queries) == 0 || stock.queries[0] != "restaurant Springfield landscape" {
		t.Fatalf("stock query should avoid the address name, got %v", stock.queries)
	}
}

func TestResolve_IngestFailureIsolation(t *testing.T) {
	ts := imgServer(t)
	scraper := &fakeScraper{meta: domain.PageMeta{
		Title: "Tartine Bakery",
		ImageURLs: []string{
			ts.URL + "/img/missing.jpg", // 404s at download
			ts.URL + "/img/ok1.jpg",
			ts.URL + "/img/ok2.jpg",
		},
	}}
	r := app.NewResolver(app.Deps{
		Geocoder: &fakeGeocoder{place: domain.Place{
			Coordinates: pin, Name: "Tartine Bakery", Locality: "San Francisco",
			Website: "https://tartinebakery.com", WebsiteFrom: "provider",
			Source: domain.SourceGeoapify, SourceID: "geo-5",
		}},
		Scraper:   scraper,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false, MaxPhotos: 3})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("two surviving candidates expected, got %d (%+v)", len(res.Images), res.Images)
	}
	if len(res.Diagnostics.UploadFailures) != 1 {
		t.Fatalf("expected one recorded failure, got %+v", res.Diagnostics.UploadFailures)
	}
	f := res.Diagnostics.UploadFailures[0]
	if f.Stage != "download" || !strings.Contains(f.URL, "missing") {
		t.Fatalf("unexpected failure record: %+v", f)
	}
}

func TestResolve_WebsiteBackfill_TitleValidation(t *testing.T) {
	// Site title does not mention the place: reject and keep website empty.
	search := &fakeSearch{url: "https://unrelated.example"}
	scraper := &fakeScraper{meta: domain.PageMeta{Title: "Totally Different Business"}}
	r := app.NewResolver(app.Deps{
		Geocoder: &fakeGeocoder{place: domain.Place{
			Coordinates: pin, Name: "Tartine Bakery", Locality: "San Francisco",
			Source: domain.SourceGeoapify, SourceID: "geo-6",
		}},
		Search:    search,
		Scraper:   scraper,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Place.Website != "" {
		t.Fatalf("non-official website should have been cleared: %q", res.Place.Website)
	}
	if !hasFallback(res.Diagnostics, "website_rejected_title") {
		t.Fatalf("expected title rejection marker: %v", res.Diagnostics.FallbacksUsed)
	}
}

func TestResolve_WebsiteBackfill_Denylist(t *testing.T) {
	search := &fakeSearch{url: "https://www.yelp.com/biz/tartine-bakery"}
	r := app.NewResolver(app.Deps{
		Geocoder: &fakeGeocoder{place: domain.Place{
			Coordinates: pin, Name: "Tartine Bakery", Locality: "San Francisco",
			Source: domain.SourceGeoapify, SourceID: "geo-7",
		}},
		Search:    search,
		Scraper:   &fakeScraper{meta: domain.PageMeta{Title: "Tartine Bakery - Yelp"}},
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Place.Website != "" {
		t.Fatalf("denylisted domain must be rejected regardless of title: %q", res.Place.Website)
	}
	if !hasFallback(res.Diagnostics, "website_rejected_denylist") {
		t.Fatalf("expected denylist marker: %v", res.Diagnostics.FallbacksUsed)
	}
}

func TestResolve_KGWebsiteBackfill(t *testing.T) {
	kg := &fakeKG{match: domain.KGMatch{EntityID: "Q1", Website: "https://www.moma.org"}}
	r := app.NewResolver(app.Deps{
		Geocoder: &fakeGeocoder{place: domain.Place{
			Coordinates: pin, Name: "Museum of Modern Art", Locality: "New York",
			Source: domain.SourceGeoapify, SourceID: "geo-8",
		}},
		KG:        kg,
		StaticMap: &fakeMaps{},
		Quota:     &fakeQuota{limit: 10},
		Blobs:     &fakeBlobs{},
	}, app.Options{PlacesEnabled: false})

	res, err := r.Resolve(context.Background(), pin, "", "client")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Place.Website != "https://www.moma.org" || res.Place.WebsiteFrom != "knowledge-graph" {
		t.Fatalf("expected KG website backfill, got %+v", res.Place)
	}
	if kg.calls != 1 {
		t.Fatalf("cross-match should run once (memoized), got %d", kg.calls)
	}
}
