package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/synthesis-cli/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testResolver(t *testing.T) Resolver {
	t.Helper()
	tr := &http.Transport{DisableKeepAlives: true}
	t.Cleanup(tr.CloseIdleConnections)
	return New(time.Second,
		WithHTTPClient(&http.Client{Timeout: time.Second, Transport: tr}),
		WithRateLimit(1000),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
		WithUserAgent("test-agent"),
	)
}

const articleHTML = `<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Payers Tighten Reimbursement">
<meta property="og:site_name" content="Health Wire">
<meta property="article:published_time" content="2025-03-14T09:00:00Z">
</head><body><h1>Heading</h1></body></html>`

func TestResolve(t *testing.T) {
	var gotUA atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML))
		case "/plain":
			_, _ = w.Write([]byte(`<html><head><title> Plain Page </title></head><body><time datetime="2019-07-01">July</time></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	mds, err := testResolver(t).Resolve(context.Background(), []string{ts.URL + "/article", ts.URL + "/missing", ts.URL + "/plain"})
	require.NoError(t, err)
	require.Len(t, mds, 2)

	assert.Equal(t, Metadata{URL: ts.URL + "/article", Title: "Payers Tighten Reimbursement", Publisher: "Health Wire", Year: 2025}, mds[0])
	assert.Equal(t, "Plain Page", mds[1].Title)
	assert.Equal(t, "127.0.0.1", mds[1].Publisher)
	assert.Equal(t, 2019, mds[1].Year)
	assert.Equal(t, "test-agent", gotUA.Load())
}

func TestResolve_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer ts.Close()

	mds, err := testResolver(t).Resolve(context.Background(), []string{ts.URL})
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolve_AllFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := testResolver(t).Resolve(context.Background(), []string{ts.URL + "/a", ts.URL + "/b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 urls failed")
}

func TestResolve_Empty(t *testing.T) {
	mds, err := testResolver(t).Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, mds)
}

func TestResolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testResolver(t).Resolve(ctx, []string{"http://127.0.0.1:1/x"})
	require.Error(t, err)
}

func TestResolve_Latin1Charset(t *testing.T) {
	enc, err := charmap.ISO8859_1.NewEncoder().String(`<html><head><title>Café Société</title></head></html>`)
	require.NoError(t, err)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		_, _ = w.Write([]byte(enc))
	}))
	defer ts.Close()

	mds, err := testResolver(t).Resolve(context.Background(), []string{ts.URL})
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, "Café Société", mds[0].Title)
}

func TestExtract_Fallbacks(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><h1> Only Heading </h1><meta name="citation_publication_date" content="2021/05/02"></body></html>`))
	require.NoError(t, err)

	md := Extract("https://www.example.org/paper", doc)
	assert.Equal(t, "Only Heading", md.Title)
	assert.Equal(t, "example.org", md.Publisher)
	assert.Equal(t, 2021, md.Year)
}

func TestBatches(t *testing.T) {
	urls := make([]string, 75)
	for i := range urls {
		urls[i] = "u"
	}
	b := Batches(urls, 20, 3)
	require.Len(t, b, 3)
	assert.Len(t, b[0], 20)
	assert.Len(t, b[2], 20)

	b = Batches(urls[:45], 20, 3)
	require.Len(t, b, 3)
	assert.Len(t, b[2], 5)

	assert.Len(t, Batches(urls, 20, 0), 4)
	assert.Empty(t, Batches(nil, 20, 3))
}
