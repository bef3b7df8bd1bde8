// Package resolver fetches citation URLs and extracts title, publisher and
// publication year from the page metadata.
package resolver

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/synthesis-cli/internal/resilience"
)

// maxBodyBytes caps how much of a page is parsed.
const maxBodyBytes = 1 << 20

// Metadata is what could be learned about one URL.
type Metadata struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Year      int    `json:"year,omitempty"`
}

// Resolver resolves citation metadata for a batch of URLs.
type Resolver interface {
	// Resolve returns metadata for the URLs it could fetch. It fails only
	// when ctx is done or every URL failed.
	Resolve(ctx context.Context, urls []string) ([]Metadata, error)
}

// Option configures the HTTP resolver.
type Option func(*httpResolver)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *httpResolver) { r.http = hc }
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(r *httpResolver) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *httpResolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *httpResolver) { r.retry = cfg }
}

type httpResolver struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	retry     resilience.RetryConfig
}

// New creates an HTTP-backed resolver.
func New(timeout time.Duration, opts ...Option) Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &httpResolver{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(5), 1),
		userAgent: "synthesis-cli/1.0",
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = resilience.RetryLogger("resolver", "fetch")
	}
	return r
}

func (r *httpResolver) Resolve(ctx context.Context, urls []string) ([]Metadata, error) {
	out := make([]Metadata, 0, len(urls))
	var lastErr error
	for _, u := range urls {
		if err := r.limiter.Wait(ctx); err != nil {
			return out, eris.Wrap(err, "resolver: rate limit wait")
		}
		md, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (Metadata, error) {
			return r.fetch(ctx, u)
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			lastErr = err
			zap.L().Debug("resolver: fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		out = append(out, md)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, eris.Wrapf(lastErr, "resolver: all %d urls failed", len(urls))
	}
	return out, nil
}

func (r *httpResolver) fetch(ctx context.Context, u string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Metadata{}, eris.Wrap(err, "resolver: create request")
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.http.Do(req)
	if err != nil {
		return Metadata{}, resilience.NewTransientError(eris.Wrap(err, "resolver: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		err := eris.Errorf("resolver: unexpected status %d for %s", resp.StatusCode, u)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return Metadata{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return Metadata{}, err
	}

	body, err := decodeBody(resp.Header.Get("Content-Type"), io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Metadata{}, err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return Metadata{}, eris.Wrap(err, "resolver: parse html")
	}
	return Extract(u, doc), nil
}

// decodeBody converts a non-UTF-8 body using the charset from the
// Content-Type header.
func decodeBody(contentType string, body io.Reader) (io.Reader, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, nil
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return body, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(body), nil
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var (
	titleSelectors = []string{
		"meta[property='og:title']",
		"meta[name='twitter:title']",
		"meta[name='citation_title']",
	}
	publisherSelectors = []string{
		"meta[property='og:site_name']",
		"meta[name='publisher']",
		"meta[name='citation_publisher']",
		"meta[name='application-name']",
	}
	dateSelectors = []string{
		"meta[property='article:published_time']",
		"meta[name='citation_publication_date']",
		"meta[name='dc.date']",
		"meta[name='date']",
	}
)

// Extract pulls metadata out of a parsed page. The publisher falls back to
// the host name and the year to the first <time datetime>.
func Extract(pageURL string, doc *goquery.Document) Metadata {
	md := Metadata{URL: pageURL}
	md.Title = firstContent(doc, titleSelectors)
	if md.Title == "" {
		md.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if md.Title == "" {
		md.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	md.Publisher = firstContent(doc, publisherSelectors)
	if md.Publisher == "" {
		if pu, err := url.Parse(pageURL); err == nil {
			md.Publisher = strings.TrimPrefix(pu.Hostname(), "www.")
		}
	}

	date := firstContent(doc, dateSelectors)
	if date == "" {
		date, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	md.Year = parseYear(date)
	return md
}

func firstContent(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func parseYear(s string) int {
	m := yearRe.FindString(s)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// Batches splits urls into at most maxBatches chunks of size.
func Batches(urls []string, size, maxBatches int) [][]string {
	if size <= 0 {
		size = 20
	}
	var out [][]string
	for i := 0; i < len(urls) && (maxBatches <= 0 || len(out) < maxBatches); i += size {
		end := i + size
		if end > len(urls) {
			end = len(urls)
		}
		out = append(out, urls[i:end])
	}
	return out
}
