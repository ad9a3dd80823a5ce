package main

import (
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/vertti/healthwatch/pkg/gate"
	"github.com/vertti/healthwatch/pkg/output"
	"github.com/vertti/healthwatch/pkg/snapshot"
)

var (
	checkDryRun bool
	checkStrict bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run all compliance checks now",
	Long: `Run one full check cycle immediately: retry queued reports, probe every
category, and report the snapshot if it changed since the last delivery.

Examples:
  healthwatch check
  healthwatch check --dry-run
  healthwatch check --strict   # exit 1 if any category is non-compliant`,
	Args: cobra.NoArgs,
	RunE: runCheckCmd,
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "probe and print only; do not report or touch agent state")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "fail when any category is non-compliant")
	rootCmd.AddCommand(checkCmd)
}

func runCheckCmd(cmd *cobra.Command, args []string) error {
	var (
		snap snapshot.Snapshot
		err  error
	)
	if checkDryRun {
		snap, err = dryRun(cmd)
	} else {
		snap, err = checkAndReport(cmd)
	}
	if err != nil {
		return err
	}

	if checkStrict && snap.Checks.HasIssues() {
		return ErrCheckFailed
	}
	return nil
}

func dryRun(cmd *cobra.Command) (snapshot.Snapshot, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	machineID := cfg.MachineID
	if machineID == "" {
		machineID = "unregistered"
	}

	snap, err := newBuilder(cfg.ProbeOptions()).Build(cmd.Context(), machineID)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	output.PrintSnapshot(cmd.OutOrStdout(), snap)
	return snap, nil
}

func checkAndReport(cmd *cobra.Command) (snapshot.Snapshot, error) {
	a, err := openAgent(cmd.Context())
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	defer a.Close()

	var delivered atomic.Bool
	unsubscribe := a.sched.Subscribe(func(snapshot.Snapshot) { delivered.Store(true) })
	defer unsubscribe()

	snap, err := a.sched.RunNow(cmd.Context())
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	output.PrintSnapshot(cmd.OutOrStdout(), snap)
	w := cmd.OutOrStdout()
	switch {
	case delivered.Load():
		fmt.Fprintf(w, "report: delivered to %s\n", a.cfg.Endpoint)
	case !gate.ShouldReport(snap, a.state.LastSnapshot()):
		fmt.Fprintln(w, "report: unchanged since last delivery")
	default:
		fmt.Fprintf(w, "report: delivery failed, queued for retry (%d queued)\n", a.queue.Len())
	}
	return snap, nil
}
