package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertti/healthwatch/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change agent settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting and save the config file",
	Long: `Change a setting and save the config file. A running agent picks up
endpoint and interval changes without a restart.

Keys: endpoint, interval (15, 30, 45 or 60 minutes), data_dir,
command_timeout, update_timeout, ca_file. The machine id cannot be changed.

Examples:
  healthwatch config set endpoint https://collector.example.com/api/report
  healthwatch config set interval 15`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	mgr, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "# %s\n", mgr.Path())
	for _, kv := range mgr.Settings() {
		fmt.Fprintf(w, "%s: %s\n", kv[0], kv[1])
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	mgr, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}
	if err := mgr.Set(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s updated in %s\n", args[0], mgr.Path())
	return nil
}
