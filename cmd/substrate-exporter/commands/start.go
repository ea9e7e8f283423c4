package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainmon/substrate-exporter/exporter"
	sxos "github.com/chainmon/substrate-exporter/libs/os"
	"github.com/chainmon/substrate-exporter/registry"
)

// ExitContractViolation is the exit code of an exporter terminated by a
// metric contract violation.
const ExitContractViolation = 2

// fatalError carries ExitContractViolation to cli.Executor.
type fatalError struct {
	err error
}

func (e fatalError) Error() string { return fmt.Sprintf("exporter terminated: %v", e.err) }
func (e fatalError) Unwrap() error { return e.err }
func (fatalError) ExitCode() int   { return ExitContractViolation }

// AddExporterFlags exposes the most common configuration options on the
// command line.
func AddExporterFlags(cmd *cobra.Command) {
	// chain flags
	cmd.Flags().String("chain.endpoint", config.Chain.Endpoint, "websocket JSON-RPC endpoint of the node")
	cmd.Flags().String("chain.follow", config.Chain.Follow, "heads to follow: best | finalized")
	cmd.Flags().Int("chain.ss58_prefix", config.Chain.SS58Prefix, "SS58 prefix of account labels (-1 reads it from the runtime)")

	// collector flags
	cmd.Flags().String("collector.namespace", config.Collector.Namespace, "prefix of chain metric names")
	cmd.Flags().Duration("collector.query_interval", config.Collector.QueryInterval, "interval between periodic queries")
	cmd.Flags().Duration("collector.query_timeout", config.Collector.QueryTimeout, "deadline of a single periodic query")
	cmd.Flags().StringSlice("collector.queries", config.Collector.Queries, "enabled periodic queries")

	// scrape flags
	cmd.Flags().String("scrape.listen_address", config.Scrape.ListenAddress, "scrape server listen address")
	cmd.Flags().String("scrape.path", config.Scrape.Path, "path serving the metrics")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", config.Instrumentation.Prometheus, "serve runtime and exporter self metrics")
}

// NewStartCmd returns the command that runs the exporter until it is
// interrupted or terminated by a contract violation.
func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the exporter",
		RunE: func(_ *cobra.Command, _ []string) error {
			e, err := exporter.NewExporter(config, logger)
			if err != nil {
				return creationError(err)
			}

			if err := e.Start(); err != nil {
				return fmt.Errorf("failed to start exporter: %w", err)
			}

			logger.Info("Started exporter",
				"endpoint", config.Chain.Endpoint,
				"scrape", e.ScrapeAddr().String(),
			)

			// Stop upon receiving SIGTERM or CTRL-C.
			sxos.TrapSignal(logger, func() {
				if e.IsRunning() {
					if err := e.Stop(); err != nil {
						logger.Error("unable to stop the exporter", "error", err)
					}
				}
			})

			return waitForExit(e)
		},
	}

	AddExporterFlags(cmd)
	return cmd
}

// creationError keeps the contract violation exit code for metric
// declaration clashes found while building the exporter.
func creationError(err error) error {
	if registry.IsContractViolation(err) {
		return fatalError{err: err}
	}
	return fmt.Errorf("failed to create exporter: %w", err)
}

// waitForExit blocks until the exporter is terminated by a contract
// violation or stopped by a signal, and its shutdown has completed.
func waitForExit(e *exporter.Exporter) error {
	<-e.Fatal()
	ferr := e.Err()
	if e.IsRunning() {
		if err := e.Stop(); err != nil {
			logger.Error("unable to stop the exporter", "error", err)
		}
	}
	// the scrape server is still draining when the supervisor is done
	<-e.Quit()
	if ferr == nil {
		return nil
	}
	return fatalError{err: ferr}
}
