package commands

import (
	"github.com/spf13/cobra"

	cfg "github.com/chainmon/substrate-exporter/config"
	sxos "github.com/chainmon/substrate-exporter/libs/os"
)

var overwrite bool

// InitFilesCmd writes the configuration file of a fresh exporter home.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the exporter home directory",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config file")
	AddExporterFlags(InitFilesCmd)
}

func initFiles(*cobra.Command, []string) error {
	return initFilesWithConfig(config)
}

// initFilesWithConfig renders conf, including values given as flags, into
// the home directory. An existing file is kept unless overwrite is set.
func initFilesWithConfig(conf *cfg.Config) error {
	configFile := conf.ConfigFile()
	if sxos.FileExists(configFile) && !overwrite {
		logger.Info("Found config file", "path", configFile)
		return nil
	}
	cfg.WriteConfigFile(configFile, conf)
	logger.Info("Generated config file", "path", configFile)
	return nil
}
