package crossref

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chemlit-registry/config"
)

// testConfig liefert eine Fetcher-Konfiguration mit winzigen Wartezeiten,
// damit die Retry-Tests schnell durchlaufen.
func testConfig(baseURL string) *config.Config {
	return &config.Config{
		CrossRefBaseURL:       baseURL,
		CrossRefUserAgent:     "chemlit-registry-test/1.0",
		CrossRefMailto:        "dev@example.org",
		CrossRefRatePerMinute: 60000,
		CrossRefTimeoutSec:    5,
		CrossRefMaxRetries:    3,
		CrossRefBackoffMillis: 1,
	}
}

const worksResponse = `{
	"status": "ok",
	"message": {
		"DOI": "10.1000/example.doi",
		"title": ["Curcumin Bioavailability Revisited"],
		"container-title": ["Journal of Natural Products"],
		"volume": "85",
		"issue": "3",
		"page": "512-523",
		"publisher": "ACS",
		"URL": "https://doi.org/10.1000/example.doi",
		"published-print": {"date-parts": [[2022, 3, 14]]},
		"published-online": {"date-parts": [[2021, 12, 1]]},
		"author": [
			{"given": "Ada", "family": "Lovelace", "ORCID": "https://orcid.org/0000-0002-1825-0097", "sequence": "first"},
			{"given": "Grace", "family": "Hopper", "sequence": "additional"}
		]
	}
}`

func TestFetchByDOI_Success(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/works/10.1000%2Fexample.doi", r.URL.EscapedPath())
		assert.Contains(t, r.Header.Get("User-Agent"), "mailto:dev@example.org")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(worksResponse))
	}))
	defer ts.Close()

	f := NewFetcher(testConfig(ts.URL), zap.NewNop())
	meta, err := f.FetchByDOI(context.Background(), "10.1000/example.doi")
	require.NoError(t, err)

	assert.Equal(t, "10.1000/example.doi", meta.DOI)
	assert.Equal(t, "Curcumin Bioavailability Revisited", meta.Title)
	assert.Equal(t, "Journal of Natural Products", meta.Journal)
	assert.Equal(t, "85", meta.Volume)
	assert.Equal(t, "3", meta.Issue)
	assert.Equal(t, "512-523", meta.Pages)
	require.NotNil(t, meta.Year)
	assert.Equal(t, 2022, *meta.Year) // published-print gewinnt vor published-online

	require.Len(t, meta.Authors, 2)
	assert.Equal(t, "Ada", meta.Authors[0].FirstName)
	assert.Equal(t, "Lovelace", meta.Authors[0].LastName)
	assert.Equal(t, "0000-0002-1825-0097", meta.Authors[0].ORCID)
	assert.Empty(t, meta.Authors[1].ORCID)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchByDOI_OnlineYearFallback(t *testing.T) {
	body := `{"status":"ok","message":{"DOI":"10.1000/x","title":["T"],
		"published-online":{"date-parts":[[2019]]},
		"author":[{"given":"A","family":"B"}]}}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	}))
	defer ts.Close()

	f := NewFetcher(testConfig(ts.URL), zap.NewNop())
	meta, err := f.FetchByDOI(context.Background(), "10.1000/x")
	require.NoError(t, err)
	require.NotNil(t, meta.Year)
	assert.Equal(t, 2019, *meta.Year)
}

func TestFetchByDOI_NotFoundNoRetry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewFetcher(testConfig(ts.URL), zap.NewNop())
	_, err := f.FetchByDOI(context.Background(), "10.1000/missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	// 404 ist endgültig, es darf genau ein Versuch stattfinden
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchByDOI_RetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(worksResponse))
	}))
	defer ts.Close()

	f := NewFetcher(testConfig(ts.URL), zap.NewNop())
	meta, err := f.FetchByDOI(context.Background(), "10.1000/example.doi")
	require.NoError(t, err)
	assert.Equal(t, "Curcumin Bioavailability Revisited", meta.Title)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchByDOI_RetriesExhausted(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	f := NewFetcher(cfg, zap.NewNop())
	_, err := f.FetchByDOI(context.Background(), "10.1000/example.doi")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindUpstreamError, fe.Kind)
	assert.Equal(t, int32(cfg.CrossRefMaxRetries+1), atomic.LoadInt32(&calls))
}

func TestFetchByDOI_MalformedResponse(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"status":"ok","message":`))
	}))
	defer ts.Close()

	f := NewFetcher(testConfig(ts.URL), zap.NewNop())
	_, err := f.FetchByDOI(context.Background(), "10.1000/example.doi")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindMalformedResponse, fe.Kind)
	// Kaputte Antworten sind nicht transient
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchByDOI_MessageWithoutDOI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok","message":{}}`))
	}))
	defer ts.Close()

	f := NewFetcher(testConfig(ts.URL), zap.NewNop())
	_, err := f.FetchByDOI(context.Background(), "10.1000/example.doi")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindMalformedResponse, fe.Kind)
}
