package commands

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/cli"
	sxflags "github.com/chainmon/substrate-exporter/libs/cli/flags"
	"github.com/chainmon/substrate-exporter/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewLogger(log.NewSyncWriter(os.Stdout))
)

func init() {
	registerFlagsRootCmd(RootCmd)
}

func registerFlagsRootCmd(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log_level", config.LogLevel, "log level")
	cmd.PersistentFlags().String("log_format", config.LogFormat, "log format: plain | json")
}

// ParseConfig retrieves the default environment configuration, sets up the
// exporter root and ensures that the root exists.
func ParseConfig(cmd *cobra.Command) (*cfg.Config, error) {
	conf := cfg.DefaultConfig()
	// lists given by the user replace the defaults instead of overlaying them
	if err := viper.Unmarshal(conf, func(dc *mapstructure.DecoderConfig) { dc.ZeroFields = true }); err != nil {
		return nil, err
	}

	home, err := cmd.Flags().GetString(cli.HomeFlag)
	if err != nil {
		return nil, err
	}
	if h := viper.GetString(cli.HomeFlag); h != "" {
		home = h
	}
	conf.SetRoot(home)

	cfg.EnsureRoot(conf.RootDir)
	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command for the exporter.
var RootCmd = &cobra.Command{
	Use:   "substrate-exporter",
	Short: "Prometheus exporter for Substrate based chains",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		config, err = ParseConfig(cmd)
		if err != nil {
			return err
		}

		if config.LogFormat == cfg.LogFormatJSON {
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
		}

		logger, err = sxflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
		if err != nil {
			return err
		}
		return nil
	},
}
