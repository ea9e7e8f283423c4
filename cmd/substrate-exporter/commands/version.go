package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainmon/substrate-exporter/version"
)

var verbose bool

// VersionCmd ...
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		if verbose {
			values, err := json.MarshalIndent(struct {
				Exporter           string `json:"exporter"`
				MinMetadataVersion int    `json:"min_metadata_version"`
				MaxMetadataVersion int    `json:"max_metadata_version"`
			}{
				Exporter:           version.Version,
				MinMetadataVersion: version.MinMetadataVersion,
				MaxMetadataVersion: version.MaxMetadataVersion,
			}, "", "  ")
			if err != nil {
				panic(fmt.Sprintf("failed to marshal version info: %v", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(values))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		}
	},
}

func init() {
	VersionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show supported metadata versions")
}
