package version

const (
	// SemVer is used as the fallback version of the exporter
	// when not using git describe. It uses semantic versioning format.
	SemVer = "0.3.0-dev"

	// MinMetadataVersion and MaxMetadataVersion bound the runtime metadata
	// versions the exporter decodes.
	MinMetadataVersion = 14
	MaxMetadataVersion = 15
)

// GitCommitHash uses git rev-parse HEAD to find commit hash which is helpful
// for the engineering team when working with the exporter binary. See Makefile.
var GitCommitHash = ""

// Version is the version string of the exporter.
var Version = SemVer

func init() {
	if GitCommitHash != "" {
		Version += "+" + GitCommitHash
	}
}
