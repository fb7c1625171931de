// internal/adapters/scrape/scraper.go
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"pinintel/internal/adapters/observability"
	"pinintel/internal/domain"
)

// Scraper extracts page metadata (title, Open Graph fields, candidate image
// URLs) from a website. Bounded in time and bytes; a slow or huge page is
// the provider's failure, not the pipeline's.
type Scraper struct {
	hc       *http.Client
	maxBytes int64
	maxImgs  int
}

func New() *Scraper {
	return &Scraper{
		hc:       &http.Client{Timeout: 6 * time.Second},
		maxBytes: 1 << 20, // 1 MiB of HTML is plenty for metadata
		maxImgs:  6,
	}
}

func (s *Scraper) Scrape(ctx context.Context, pageURL string) (domain.PageMeta, error) {
	base, err := url.Parse(pageURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return domain.PageMeta{}, fmt.Errorf("scrape: unusable url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.PageMeta{}, err
	}
	req.Header.Set("User-Agent", "pinintel/1.0")
	req.Header.Set("Accept", "text/html")

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		return domain.PageMeta{}, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("scrape", base.Host, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return domain.PageMeta{}, fmt.Errorf("scrape: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return domain.PageMeta{}, fmt.Errorf("scrape: non-html content-type %q", ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return domain.PageMeta{}, err
	}

	var meta domain.PageMeta
	s.walk(doc, base, &meta)
	return meta, nil
}

func (s *Scraper) walk(n *html.Node, base *url.URL, meta *domain.PageMeta) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			if meta.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				meta.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		case "meta":
			key := attr(n, "property")
			if key == "" {
				key = attr(n, "name")
			}
			content := strings.TrimSpace(attr(n, "content"))
			if content == "" {
				break
			}
			switch key {
			case "og:title":
				meta.OGTitle = content
			case "og:description":
				meta.OGDescription = content
			case "description":
				if meta.Description == "" {
					meta.Description = content
				}
			case "og:image", "og:image:url", "twitter:image":
				// og:image outranks content images; keep it first.
				if u := absolutize(base, content); u != "" {
					meta.ImageURLs = append([]string{u}, meta.ImageURLs...)
				}
			}
		case "img":
			if len(meta.ImageURLs) < s.maxImgs {
				src := attr(n, "src")
				if src == "" {
					src = attr(n, "data-src")
				}
				if u := absolutize(base, src); u != "" && !looksLikePixel(u) {
					meta.ImageURLs = append(meta.ImageURLs, u)
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c, base, meta)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func absolutize(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// looksLikePixel filters tracking pixels, spacers and icon sprites.
func looksLikePixel(u string) bool {
	low := strings.ToLower(u)
	for _, frag := range []string{"pixel", "spacer", "1x1", "favicon", "sprite", "logo-small", ".svg"} {
		if strings.Contains(low, frag) {
			return true
		}
	}
	return false
}
