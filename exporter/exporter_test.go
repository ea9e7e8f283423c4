package exporter_test

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain/chaintest"
	"github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/exporter"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/registry"
	"github.com/chainmon/substrate-exporter/supervisor"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func newExporter(t *testing.T, node *chaintest.Node) *exporter.Exporter {
	t.Helper()
	cfg := config.TestConfig()
	cfg.Chain.Endpoint = node.URL()
	cfg.Collector.Queries = []string{config.QueryNodeHealth}
	e, err := exporter.NewExporter(cfg, log.TestingLogger())
	require.NoError(t, err)
	return e
}

func TestExporterServesBlocks(t *testing.T) {
	node := chaintest.NewNode(t)
	node.AddRemarkBlock(100, 1_700_000_000_000, 3, 0)
	e := newExporter(t, node)
	require.NoError(t, e.Start())
	base := "http://" + e.ScrapeAddr().String()

	code, _ := get(t, base+"/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before the first block")

	require.Eventually(t, e.Supervisor().Running, 5*time.Second, 10*time.Millisecond)
	code, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	require.Eventually(t, func() bool { return node.Calls("chain_subscribeNewHeads") == 1 }, 5*time.Second, 10*time.Millisecond)
	node.NewHead(100)
	require.Eventually(t, func() bool {
		code, _ := get(t, base+"/metrics")
		return code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	_, body = get(t, base+"/metrics")
	assert.Contains(t, body, "block_height 100\n")
	assert.Contains(t, body, `extrinsics_total{outcome="success"} 4`)
	assert.Contains(t, body, "node_peers 3\n")

	require.NoError(t, e.Stop())
	assert.Equal(t, supervisor.Terminated, e.Supervisor().State())
	assert.NoError(t, e.Err())
}

func TestExporterReconnectsAndKeepsServing(t *testing.T) {
	node := chaintest.NewNode(t)
	node.AddBlock(1, nil, nil)
	e := newExporter(t, node)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	base := "http://" + e.ScrapeAddr().String()

	require.Eventually(t, func() bool { return node.Calls("chain_subscribeNewHeads") == 1 }, 5*time.Second, 10*time.Millisecond)
	node.NewHead(1)
	require.Eventually(t, e.Registry().Ready, 5*time.Second, 10*time.Millisecond)

	node.DropConnections()
	require.Eventually(t, func() bool { return node.Calls("chain_subscribeNewHeads") == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, e.Supervisor().Running, 5*time.Second, 10*time.Millisecond)

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "block_height 1\n")
}

func TestExporterTerminatesOnContractViolation(t *testing.T) {
	node := chaintest.NewNode(t)
	e := newExporter(t, node)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	require.Eventually(t, e.Supervisor().Running, 5*time.Second, 10*time.Millisecond)

	e.Registry().Fail(registry.ErrNegativeDelta{Name: "extrinsics_total", Delta: -1})
	select {
	case <-e.Fatal():
	case <-time.After(5 * time.Second):
		t.Fatal("exporter did not terminate")
	}
	var fatal supervisor.ErrFatal
	assert.ErrorAs(t, e.Err(), &fatal)
}
