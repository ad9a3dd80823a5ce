package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vertti/healthwatch/pkg/output"
	"github.com/vertti/healthwatch/pkg/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last report and retry queue depth",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s := output.Status{
		MachineID: cfg.MachineID,
		Endpoint:  cfg.Endpoint,
		Interval:  cfg.Interval.String(),
	}
	if s.MachineID == "" {
		s.MachineID = "(not generated yet)"
	}

	// A missing database means no cycle has run yet; don't create one here.
	dbPath := filepath.Join(cfg.DataDir, state.DBFile)
	if _, err := os.Stat(dbPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		output.PrintStatus(cmd.OutOrStdout(), s)
		return nil
	}

	store, err := state.OpenSQLite(cmd.Context(), dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	r, ok, err := store.LoadReport(cmd.Context())
	if err != nil {
		return err
	}
	if ok {
		s.LastReport = r.ReportedAt
		s.Last = &r.Snapshot
	}

	queued, err := store.LoadQueue(cmd.Context())
	if err != nil {
		return err
	}
	s.QueueDepth = len(queued)

	output.PrintStatus(cmd.OutOrStdout(), s)
	return nil
}
