package commands

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain/chaintest"
	cfg "github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/exporter"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/registry"
)

type exitCoder interface {
	ExitCode() int
}

func startExporter(t *testing.T) *exporter.Exporter {
	t.Helper()
	node := chaintest.NewNode(t)
	conf := cfg.TestConfig()
	conf.Chain.Endpoint = node.URL()
	conf.Collector.Queries = []string{cfg.QueryNodeHealth}
	e, err := exporter.NewExporter(conf, log.TestingLogger())
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })
	require.Eventually(t, e.Supervisor().Running, 5*time.Second, 10*time.Millisecond)
	return e
}

func TestCreationError(t *testing.T) {
	err := creationError(registry.ErrDuplicateMetric{Name: "block_height", Existing: registry.Gauge, Declared: registry.Counter})
	var coder exitCoder
	require.ErrorAs(t, err, &coder)
	assert.Equal(t, ExitContractViolation, coder.ExitCode())
	var dup registry.ErrDuplicateMetric
	assert.ErrorAs(t, err, &dup)

	err = creationError(errors.New("unknown query"))
	assert.False(t, errors.As(err, &coder))
	assert.Contains(t, err.Error(), "failed to create exporter")
}

func TestWaitForExitAfterStop(t *testing.T) {
	e := startExporter(t)
	addr := e.ScrapeAddr().String()

	go func() { _ = e.Stop() }()
	require.NoError(t, waitForExit(e))

	// shutdown has completed once waitForExit returns
	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestWaitForExitOnContractViolation(t *testing.T) {
	e := startExporter(t)
	addr := e.ScrapeAddr().String()

	e.Registry().Fail(registry.ErrNegativeDelta{Name: "extrinsics_total", Delta: -1})
	err := waitForExit(e)
	var coder exitCoder
	require.ErrorAs(t, err, &coder)
	assert.Equal(t, ExitContractViolation, coder.ExitCode())
	assert.False(t, e.IsRunning())

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}
