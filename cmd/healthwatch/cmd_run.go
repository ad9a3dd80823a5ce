package main

import (
	"context"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/vertti/healthwatch/pkg/config"
	"github.com/vertti/healthwatch/pkg/snapshot"
)

// stopTimeout bounds how long Stop waits for an in-flight cycle.
const stopTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground or under the service manager",
	Long: `Run checks immediately and then every configured interval, reporting
changed snapshots to the collector. Failed reports are queued and retried
at the start of each cycle.

Examples:
  healthwatch run
  healthwatch run --config /etc/healthwatch/healthwatch.yaml --verbose`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// program adapts the agent to the service manager lifecycle.
type program struct {
	agent  *agent
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	if err := p.agent.watchConfig(); err != nil {
		logger.Error(err, "config watch disabled")
	}
	p.agent.sched.Subscribe(func(s snapshot.Snapshot) {
		logger.Info("compliance status reported", "issues", s.Checks.HasIssues(), "severe", s.Checks.Severe())
	})

	go func() {
		defer close(p.done)
		_ = p.agent.sched.Run(ctx)
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	logger.Info("stopping healthwatch agent")
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := p.agent.sched.Wait(ctx); err != nil {
		logger.Info("in-flight cycle still running at shutdown", "waited", stopTimeout.String())
	}
	return p.agent.Close()
}

func serviceConfig(mgr *config.Manager) *service.Config {
	return &service.Config{
		Name:        config.AppName,
		DisplayName: "Healthwatch Agent",
		Description: "Reports endpoint compliance status to the central collector",
		Arguments:   []string{"run", "--config", mgr.Path()},
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	a, err := openAgent(cmd.Context())
	if err != nil {
		return err
	}

	s, err := service.New(&program{agent: a}, serviceConfig(a.mgr))
	if err != nil {
		_ = a.Close()
		return err
	}

	logger.Info("starting healthwatch agent",
		"version", Version,
		"machineId", a.cfg.MachineID,
		"endpoint", a.cfg.Endpoint,
		"interval", a.cfg.Interval.String(),
		"interactive", service.Interactive())
	return s.Run()
}
