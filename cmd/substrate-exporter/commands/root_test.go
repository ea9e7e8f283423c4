package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmon/substrate-exporter/chain/chaintest"
	cfg "github.com/chainmon/substrate-exporter/config"
	"github.com/chainmon/substrate-exporter/libs/cli"
	"github.com/chainmon/substrate-exporter/libs/log"
	"github.com/chainmon/substrate-exporter/version"
)

// clearConfig clears env vars and resets viper.
func clearConfig(t *testing.T) {
	t.Helper()
	for _, k := range []string{"EXPORTER_HOME", "EXPORTER_LOG_LEVEL", "EXPORTER_CHAIN_ENDPOINT"} {
		require.NoError(t, os.Unsetenv(k))
	}
	viper.Reset()
	config = cfg.DefaultConfig()
}

// prepare new rootCmd
func testRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               RootCmd.Use,
		PersistentPreRunE: RootCmd.PersistentPreRunE,
		Run:               func(*cobra.Command, []string) {},
	}
	registerFlagsRootCmd(rootCmd)
	AddExporterFlags(rootCmd)
	return rootCmd
}

func testSetup(t *testing.T, root string, args []string, env map[string]string) error {
	t.Helper()
	clearConfig(t)
	t.Cleanup(func() { clearConfig(t) })

	rootCmd := testRootCmd()
	cmd := cli.PrepareBaseCmd(rootCmd, "EXPORTER", root)
	cmd.Exit = func(int) {}

	// run with the args and env
	args = append([]string{rootCmd.Use}, args...)
	return cli.RunWithArgs(cmd, args, env)
}

func writeConfigFile(t *testing.T, root, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, cfg.DefaultConfigDir), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, cfg.DefaultConfigDir, cfg.DefaultConfigFileName), []byte(contents), 0o600))
}

func TestRootHome(t *testing.T) {
	root := t.TempDir()
	newRoot := t.TempDir()

	cases := []struct {
		args []string
		env  map[string]string
		root string
	}{
		{nil, nil, root},
		{[]string{"--home", newRoot}, nil, newRoot},
		{nil, map[string]string{"EXPORTER_HOME": newRoot}, newRoot},
	}

	for i, tc := range cases {
		require.NoError(t, testSetup(t, root, tc.args, tc.env), "case %d", i)
		assert.Equal(t, tc.root, config.RootDir, "case %d", i)
		// the default config is written on first use
		assert.FileExists(t, config.ConfigFile(), "case %d", i)
	}
}

func TestRootFlagsEnv(t *testing.T) {
	defaults := cfg.DefaultConfig()

	cases := []struct {
		args     []string
		env      map[string]string
		logLevel string
		endpoint string
	}{
		{nil, nil, defaults.LogLevel, defaults.Chain.Endpoint},
		{[]string{"--log_level", "debug"}, nil, "debug", defaults.Chain.Endpoint},
		{nil, map[string]string{"EXPORTER_LOG_LEVEL": "debug"}, "debug", defaults.Chain.Endpoint},
		{[]string{"--chain.endpoint", "ws://flag:9944"}, nil, defaults.LogLevel, "ws://flag:9944"},
		{nil, map[string]string{"EXPORTER_CHAIN_ENDPOINT": "ws://env:9944"}, defaults.LogLevel, "ws://env:9944"},
		// flags win over env
		{
			[]string{"--chain.endpoint", "ws://flag:9944"},
			map[string]string{"EXPORTER_CHAIN_ENDPOINT": "ws://env:9944"},
			defaults.LogLevel, "ws://flag:9944",
		},
	}

	for i, tc := range cases {
		require.NoError(t, testSetup(t, t.TempDir(), tc.args, tc.env), "case %d", i)
		assert.Equal(t, tc.logLevel, config.LogLevel, "case %d", i)
		assert.Equal(t, tc.endpoint, config.Chain.Endpoint, "case %d", i)
	}
}

func TestRootConfigFile(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, root, `
log_level = "chain:debug,*:info"

[chain]
endpoint = "wss://rpc.example.org:443"
follow = "finalized"

[collector]
query_interval = "15s"
queries = ["node_health", "staking"]
`)

	require.NoError(t, testSetup(t, root, nil, nil))
	assert.Equal(t, "chain:debug,*:info", config.LogLevel)
	assert.Equal(t, "wss://rpc.example.org:443", config.Chain.Endpoint)
	assert.Equal(t, cfg.FollowFinalized, config.Chain.Follow)
	assert.Equal(t, 15*time.Second, config.Collector.QueryInterval)
	assert.Equal(t, []string{"node_health", "staking"}, config.Collector.Queries)

	// flags override the file
	require.NoError(t, testSetup(t, root, []string{"--chain.endpoint", "ws://127.0.0.1:9944"}, nil))
	assert.Equal(t, "ws://127.0.0.1:9944", config.Chain.Endpoint)

	// a shorter list replaces the default one
	require.NoError(t, testSetup(t, root, []string{"--collector.queries", "node_health"}, nil))
	assert.Equal(t, []string{"node_health"}, config.Collector.Queries)
}

func TestRootInvalidConfig(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, root, "[chain]\nfollow = \"sideways\"\n")

	err := testSetup(t, root, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error in config file")
	var section cfg.ErrInSection
	assert.ErrorAs(t, err, &section)
}

func TestInitFiles(t *testing.T) {
	defer func() { overwrite = false }()

	root := t.TempDir()
	conf := cfg.DefaultConfig().SetRoot(root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, cfg.DefaultConfigDir), 0o700))
	conf.Chain.Endpoint = "wss://rpc.example.org:443"
	require.NoError(t, initFilesWithConfig(conf))

	var rendered struct {
		Chain struct {
			Endpoint string `toml:"endpoint"`
		} `toml:"chain"`
	}
	_, err := toml.DecodeFile(conf.ConfigFile(), &rendered)
	require.NoError(t, err)
	assert.Equal(t, "wss://rpc.example.org:443", rendered.Chain.Endpoint)

	// an existing file is kept
	conf.Chain.Endpoint = "ws://other:9944"
	require.NoError(t, initFilesWithConfig(conf))
	_, err = toml.DecodeFile(conf.ConfigFile(), &rendered)
	require.NoError(t, err)
	assert.Equal(t, "wss://rpc.example.org:443", rendered.Chain.Endpoint)

	overwrite = true
	require.NoError(t, initFilesWithConfig(conf))
	_, err = toml.DecodeFile(conf.ConfigFile(), &rendered)
	require.NoError(t, err)
	assert.Equal(t, "ws://other:9944", rendered.Chain.Endpoint)
}

func TestVersionCmd(t *testing.T) {
	defer func() { verbose = false }()

	var buf bytes.Buffer
	VersionCmd.SetOut(&buf)
	defer VersionCmd.SetOut(nil)

	VersionCmd.Run(VersionCmd, nil)
	assert.Equal(t, version.Version+"\n", buf.String())

	buf.Reset()
	verbose = true
	VersionCmd.Run(VersionCmd, nil)
	assert.Contains(t, buf.String(), `"min_metadata_version": 14`)
}

func TestProbe(t *testing.T) {
	node := chaintest.NewNode(t)
	node.AddRemarkBlock(5, 1_700_000_000_000, 2, 0)

	config = cfg.TestConfig()
	logger = log.TestingLogger()
	defer func() {
		config = cfg.DefaultConfig()
		logger = log.NewLogger(log.NewSyncWriter(os.Stdout))
	}()
	config.Chain.Endpoint = node.URL()
	config.Collector.Queries = []string{cfg.QueryRuntimeVersion}

	go func() {
		for node.Calls("chain_subscribeNewHeads") == 0 {
			time.Sleep(10 * time.Millisecond)
		}
		node.NewHead(5)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var buf bytes.Buffer
	require.NoError(t, probe(ctx, &buf))

	out := buf.String()
	assert.Contains(t, out, "block_height 5\n")
	assert.Contains(t, out, "runtime_spec_version 100\n")
	assert.Contains(t, out, `extrinsics_total{outcome="success"} 3`)
}
