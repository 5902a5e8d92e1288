package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoad_AppliesYAMLThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: /etc/zapret/strategy.bat\ninterface: eth0\n"), 0o644))

	t.Setenv("ZAPRET_INTERFACE", "eth1")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "eth1", cfg.Interface)
	require.Equal(t, "/etc/zapret/strategy.bat", cfg.StrategyFile)
}

func TestLoad_MissingConfigFileIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"), "")
	require.NoError(t, err)
	require.Equal(t, AnyInterface, cfg.Interface)
}

func TestValidate_RejectsMissingStrategyFile(t *testing.T) {
	cfg := &Config{StrategyFile: "/does/not/exist", WorkerBinary: "/bin/true", Interface: AnyInterface}
	require.Error(t, cfg.Validate(testLogger()))
}

func TestValidate_RejectsMissingWorkerBinary(t *testing.T) {
	dir := t.TempDir()
	strategy := filepath.Join(dir, "strategy.bat")
	require.NoError(t, os.WriteFile(strategy, []byte(""), 0o644))

	cfg := &Config{StrategyFile: strategy, WorkerBinary: "/does/not/exist", Interface: AnyInterface}
	require.Error(t, cfg.Validate(testLogger()))
}

func TestValidate_UnknownInterfaceWarnsButSucceeds(t *testing.T) {
	dir := t.TempDir()
	strategy := filepath.Join(dir, "strategy.bat")
	require.NoError(t, os.WriteFile(strategy, []byte(""), 0o644))
	bin := filepath.Join(dir, "nfqws")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	cfg := &Config{StrategyFile: strategy, WorkerBinary: bin, Interface: "zz-nonexistent-iface"}
	require.NoError(t, cfg.Validate(testLogger()))
}

func TestDebug_RaisesLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestRedacted_ReturnsCopy(t *testing.T) {
	cfg := &Config{StrategyFile: "/a", Interface: AnyInterface}
	r := cfg.Redacted()
	r.StrategyFile = "/b"
	require.Equal(t, "/a", cfg.StrategyFile)
}
