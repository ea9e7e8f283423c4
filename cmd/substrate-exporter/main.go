package main

import (
	"os"
	"path/filepath"

	cmd "github.com/chainmon/substrate-exporter/cmd/substrate-exporter/commands"
	"github.com/chainmon/substrate-exporter/libs/cli"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.ProbeCmd,
		cmd.VersionCmd,
		cmd.NewStartCmd(),
	)

	exec := cli.PrepareBaseCmd(rootCmd, "EXPORTER", os.ExpandEnv(filepath.Join("$HOME", ".substrate-exporter")))
	if err := exec.Execute(); err != nil {
		os.Exit(1)
	}
}
