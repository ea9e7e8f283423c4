package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitErr struct{ code int }

func (e exitErr) Error() string { return "exit" }
func (e exitErr) ExitCode() int { return e.code }

func TestSetupConfig(t *testing.T) {
	defer viper.Reset()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.toml"),
		[]byte("[chain]\nendpoint = \"ws://node:9944\"\n"), 0o600))

	var endpoint, home string
	cmd := &cobra.Command{
		Use: "reader",
		RunE: func(*cobra.Command, []string) error {
			endpoint = viper.GetString("chain.endpoint")
			home = viper.GetString(HomeFlag)
			return nil
		},
	}
	exec := PrepareBaseCmd(cmd, "EXPORTER", "/nonexistent")
	exec.SetArgs([]string{"--home", dir})
	require.NoError(t, exec.Execute())

	assert.Equal(t, "ws://node:9944", endpoint)
	assert.Equal(t, dir, home)
}

func TestSetupMissingConfigIsTolerated(t *testing.T) {
	defer viper.Reset()

	ran := false
	cmd := &cobra.Command{
		Use: "noop",
		Run: func(*cobra.Command, []string) { ran = true },
	}
	exec := PrepareBaseCmd(cmd, "EXPORTER", t.TempDir())
	exec.SetArgs([]string{})
	require.NoError(t, exec.Execute())
	assert.True(t, ran)
}

func TestExecutorExitCode(t *testing.T) {
	defer viper.Reset()

	cases := []struct {
		err  error
		code int
	}{
		{errors.New("boom"), 1},
		{exitErr{code: 3}, 3},
	}
	for _, tc := range cases {
		err := tc.err
		cmd := &cobra.Command{
			Use:  "fail",
			RunE: func(*cobra.Command, []string) error { return err },
		}
		exec := PrepareBaseCmd(cmd, "EXPORTER", t.TempDir())
		exec.SetArgs([]string{})
		got := -1
		exec.Exit = func(code int) { got = code }
		assert.Equal(t, tc.err, exec.Execute())
		assert.Equal(t, tc.code, got)
	}
}

func TestConcatCobraCmdFuncs(t *testing.T) {
	var calls []string
	f := concatCobraCmdFuncs(
		func(*cobra.Command, []string) error { calls = append(calls, "a"); return nil },
		nil,
		func(*cobra.Command, []string) error { return errors.New("stop") },
		func(*cobra.Command, []string) error { calls = append(calls, "c"); return nil },
	)
	assert.EqualError(t, f(nil, nil), "stop")
	assert.Equal(t, []string{"a"}, calls)
}
