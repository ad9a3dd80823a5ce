package main

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/config"
	"github.com/vertti/healthwatch/pkg/probe"
	"github.com/vertti/healthwatch/pkg/scheduler"
	"github.com/vertti/healthwatch/pkg/snapshot"
	"github.com/vertti/healthwatch/pkg/state"
	"github.com/vertti/healthwatch/pkg/testutil"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	resetFlags(rootCmd)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

type stubBuilder struct {
	checks check.Checks
	calls  atomic.Int32
}

func (b *stubBuilder) Build(_ context.Context, machineID string) (snapshot.Snapshot, error) {
	b.calls.Add(1)
	return testutil.NewSnapshot(machineID, time.Now().UTC(), b.checks), nil
}

var compliantChecks = testutil.CompliantChecks()

// useBuilder swaps the snapshot builder for the duration of the test.
func useBuilder(t *testing.T, checks check.Checks) *stubBuilder {
	t.Helper()
	b := &stubBuilder{checks: checks}
	old := newBuilder
	newBuilder = func(probe.Options) scheduler.Builder { return b }
	t.Cleanup(func() { newBuilder = old })
	return b
}

// collector starts a test collector and returns a config file pointing at it.
func collector(t *testing.T) (*testutil.Collector, string) {
	t.Helper()
	c := testutil.NewCollector(t)
	cfgPath := filepath.Join(t.TempDir(), config.FileName)
	_, err := executeCommand("config", "set", "endpoint", c.URL, "--config", cfgPath)
	require.NoError(t, err)
	return c, cfgPath
}

func TestVersionFlag(t *testing.T) {
	output, err := executeCommand("--version")
	require.NoError(t, err)
	assert.Contains(t, output, "healthwatch")
}

func TestHelpFlag(t *testing.T) {
	output, err := executeCommand("--help")
	require.NoError(t, err)
	assert.Contains(t, output, "healthwatch")
	for _, sub := range []string{"run", "check", "status", "config", "service"} {
		assert.Contains(t, output, sub)
	}
}

func TestConfigCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), config.FileName)

	output, err := executeCommand("config", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "endpoint: "+config.DefaultEndpoint)
	assert.Contains(t, output, "interval: 30")

	output, err = executeCommand("config", "set", "interval", "45", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "interval updated")

	output, err = executeCommand("config", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "interval: 45")

	tests := []struct {
		name string
		args []string
	}{
		{"disallowed interval", []string{"config", "set", "interval", "20"}},
		{"read-only machine id", []string{"config", "set", "machine_id", "abc"}},
		{"unknown key", []string{"config", "set", "colour", "blue"}},
		{"bad endpoint", []string{"config", "set", "endpoint", "ftp://example.com"}},
		{"missing value", []string{"config", "set", "interval"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(append(tt.args, "--config", cfgPath)...)
			assert.Error(t, err)
		})
	}
}

func TestCheckDryRun(t *testing.T) {
	b := useBuilder(t, compliantChecks)
	cfgPath := filepath.Join(t.TempDir(), config.FileName)

	output, err := executeCommand("check", "--dry-run", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "[OK] Disk encryption")
	assert.Contains(t, output, "status: Healthy")
	assert.NotContains(t, output, "report:")
	assert.Equal(t, int32(1), b.calls.Load())

	// dry run does not create the state database
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfgPath), "state.db"))
}

func TestCheckStrict(t *testing.T) {
	failing := compliantChecks
	failing.OSUpdates = check.OSUpdates{Details: "4 updates available"}
	useBuilder(t, failing)
	cfgPath := filepath.Join(t.TempDir(), config.FileName)

	output, err := executeCommand("check", "--dry-run", "--strict", "--config", cfgPath)
	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.Contains(t, output, "[FAIL] OS updates")

	_, err = executeCommand("check", "--dry-run", "--config", cfgPath)
	assert.NoError(t, err, "non-strict check succeeds regardless of findings")
}

func TestCheckReports(t *testing.T) {
	b := useBuilder(t, compliantChecks)
	c, cfgPath := collector(t)

	output, err := executeCommand("check", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "report: delivered")
	assert.Equal(t, 1, c.Hits())

	output, err = executeCommand("check", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "report: unchanged since last delivery")
	assert.Equal(t, 1, c.Hits())

	b.checks.SleepSettings = check.NewSleepSettings(30, "Screen timeout: 30 min")
	c.SetStatus(http.StatusBadGateway)
	output, err = executeCommand("check", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "report: delivery failed, queued for retry (1 queued)")

	output, err = executeCommand("status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "queued reports: 1")
	assert.Contains(t, output, "last status: Healthy")

	c.SetStatus(http.StatusOK)
	output, err = executeCommand("check", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "report: delivered")
	received := c.Received()
	require.Len(t, received, 3, "first report, drained retry, fresh report")
	assert.False(t, received[2].Checks.SleepSettings.Compliant)

	output, err = executeCommand("status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "queued reports: 0")
	assert.Contains(t, output, "last status: Issues")
}

func TestCheckKeepsMachineID(t *testing.T) {
	useBuilder(t, compliantChecks)
	_, cfgPath := collector(t)

	_, err := executeCommand("check", "--config", cfgPath)
	require.NoError(t, err)

	mgr, err := config.Load(cfgPath, logger)
	require.NoError(t, err)
	cfg, err := mgr.Config()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.MachineID)

	_, err = executeCommand("check", "--config", cfgPath)
	require.NoError(t, err)
	reloaded, err := config.Load(cfgPath, logger)
	require.NoError(t, err)
	cfg2, err := reloaded.Config()
	require.NoError(t, err)
	assert.Equal(t, cfg.MachineID, cfg2.MachineID)
}

func TestStatusBeforeFirstReport(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), config.FileName)
	output, err := executeCommand("status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "machine id: (not generated yet)")
	assert.Contains(t, output, "last report: never")
	assert.Contains(t, output, "interval: 30 minutes")
	assert.Contains(t, output, "queued reports: 0")

	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfgPath), state.DBFile), "status is read-only")
	assert.NoFileExists(t, cfgPath)
}

func TestStatusMissingDataDir(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	dataDir := filepath.Join(dir, "data")
	_, err := executeCommand("config", "set", "data_dir", dataDir, "--config", cfgPath)
	require.NoError(t, err)

	output, err := executeCommand("status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "last report: never")
	assert.NoDirExists(t, dataDir)
}

func TestServiceCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing action", []string{"service"}},
		{"unknown action", []string{"service", "reboot"}},
		{"too many args", []string{"service", "start", "stop"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	cfgPath := writeTempFile(t, config.FileName, "interval: 7\n")
	_, err := executeCommand("check", "--dry-run", "--config", cfgPath)
	assert.ErrorIs(t, err, config.ErrInvalidInterval)
}
