package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var serviceCmd = &cobra.Command{
	Use:   "service <install|uninstall|start|stop|restart>",
	Short: "Manage the agent as an OS service",
	Long: `Register the agent with the operating system's service manager
(systemd, launchd or the Windows service control manager) or control the
installed service. The service runs "healthwatch run" with the current
config file.

Examples:
  healthwatch service install
  healthwatch service start`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: service.ControlAction[:],
	RunE:      runServiceControl,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}

func runServiceControl(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := service.New(&program{}, serviceConfig(mgr))
	if err != nil {
		return err
	}
	if err := service.Control(s, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", args[0])
	return nil
}
