package scrape_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/registry"
	"github.com/chainmon/substrate-exporter/scrape"
)

func startServer(t *testing.T, cfg *config.ScrapeConfig, reg *registry.Registry, options ...scrape.Option) (*scrape.Server, string) {
	t.Helper()
	s := scrape.NewServer(cfg, reg, options...)
	s.SetLogger(log.TestingLogger())
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		if s.IsRunning() {
			_ = s.Stop()
		}
	})
	return s, "http://" + s.Addr().String()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestScrapeNotReady(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Declare("block_height", registry.Gauge, "Number of the last processed block."))
	_, base := startServer(t, config.TestScrapeConfig(), reg)

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, body)
}

func TestScrapeServesSortedExposition(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Declare("block_height", registry.Gauge, "Number of the last processed block."))
	require.NoError(t, reg.Declare("extrinsics_total", registry.Counter, "Extrinsics by outcome.", "outcome"))
	require.NoError(t, reg.SetGauge("block_height", nil, 102))
	require.NoError(t, reg.IncrementCounter("extrinsics_total", registry.Labels{"outcome": "success"}, 8))
	reg.MarkReady()

	process := prometheus.NewRegistry()
	process.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "aaa_total", Help: "First."}))
	_, base := startServer(t, config.TestScrapeConfig(), reg, scrape.WithGatherer(process))

	code, body := get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# TYPE block_height gauge\nblock_height 102\n")
	assert.Contains(t, body, `extrinsics_total{outcome="success"} 8`)

	a, b, e := strings.Index(body, "aaa_total"), strings.Index(body, "block_height"), strings.Index(body, "extrinsics_total")
	require.True(t, a >= 0 && b >= 0 && e >= 0, body)
	assert.True(t, a < b && b < e, "families are sorted by name")

	// Unchanged registry renders identically.
	_, again := get(t, base+"/metrics")
	assert.Equal(t, body, again)
}

func TestScrapeOrdersSeriesByLabelValue(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Declare("extrinsics_total", registry.Counter, "Extrinsics by outcome.", "outcome"))
	require.NoError(t, reg.IncrementCounter("extrinsics_total", registry.Labels{"outcome": "success"}, 2))
	require.NoError(t, reg.IncrementCounter("extrinsics_total", registry.Labels{"outcome": "failed"}, 1))
	reg.MarkReady()
	_, base := startServer(t, config.TestScrapeConfig(), reg)

	_, body := get(t, base+"/metrics")
	failed, success := strings.Index(body, `outcome="failed"`), strings.Index(body, `outcome="success"`)
	require.True(t, failed >= 0 && success >= 0, body)
	assert.Less(t, failed, success, "scrape sorts series by label values")

	// WriteText keeps insertion order
	var buf strings.Builder
	require.NoError(t, reg.WriteText(&buf))
	text := buf.String()
	assert.Less(t, strings.Index(text, `outcome="success"`), strings.Index(text, `outcome="failed"`))
}

func TestScrapeKeepsServingAfterFailure(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Declare("block_height", registry.Gauge, "Height."))
	require.NoError(t, reg.SetGauge("block_height", nil, 5))
	reg.MarkReady()
	_, base := startServer(t, config.TestScrapeConfig(), reg)

	code, _ := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)

	reg.Fail(registry.ErrNegativeDelta{Name: "x", Delta: -1})
	code, _ = get(t, base+"/metrics")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestScrapeRejectsWrites(t *testing.T) {
	reg := registry.New()
	reg.MarkReady()
	_, base := startServer(t, config.TestScrapeConfig(), reg)

	resp, err := http.Post(base+"/metrics", "text/plain", strings.NewReader("x")) //nolint:gosec
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	var connected atomic.Bool
	_, base := startServer(t, config.TestScrapeConfig(), registry.New(), scrape.WithHealth(connected.Load))

	code, _ := get(t, base+scrape.HealthPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	connected.Store(true)
	code, body := get(t, base+scrape.HealthPath)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestInstrumentation(t *testing.T) {
	reg := registry.New()
	reg.MarkReady()
	promReg := prometheus.NewRegistry()
	_, base := startServer(t, config.TestScrapeConfig(), reg, scrape.WithInstrumentation(promReg, "test"))

	for i := 0; i < 3; i++ {
		code, _ := get(t, base+"/metrics")
		require.Equal(t, http.StatusOK, code)
	}
	n, err := testutil.GatherAndCount(promReg, "test_scrape_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP test_scrape_requests_total Scrape requests by status code.
# TYPE test_scrape_requests_total counter
test_scrape_requests_total{code="200"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected), "test_scrape_requests_total"))
}

func TestCORS(t *testing.T) {
	cfg := config.TestScrapeConfig()
	cfg.CORSAllowedOrigins = []string{"https://dashboard.example"}
	reg := registry.New()
	reg.MarkReady()
	_, base := startServer(t, cfg, reg)

	req, err := http.NewRequest(http.MethodGet, base+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://dashboard.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStopClosesListener(t *testing.T) {
	s, base := startServer(t, config.TestScrapeConfig(), registry.New())
	require.NoError(t, s.Stop())

	_, err := http.Get(base + scrape.HealthPath) //nolint:gosec
	assert.Error(t, err)
}

func TestListen(t *testing.T) {
	_, err := scrape.Listen("127.0.0.1:0", 0)
	assert.Error(t, err, "address without protocol")

	l, err := scrape.Listen("tcp://127.0.0.1:0", 2)
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

func TestRecoverAndLogHandler(t *testing.T) {
	h := scrape.RecoverAndLogHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(fmt.Errorf("boom"))
	}), log.TestingLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Server-Time"))
}
