package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/vertti/healthwatch/pkg/config"
	"github.com/vertti/healthwatch/pkg/probe"
	"github.com/vertti/healthwatch/pkg/report"
	"github.com/vertti/healthwatch/pkg/retryqueue"
	"github.com/vertti/healthwatch/pkg/scheduler"
	"github.com/vertti/healthwatch/pkg/snapshot"
	"github.com/vertti/healthwatch/pkg/state"
)

// newBuilder is replaced in tests.
var newBuilder = func(opts probe.Options) scheduler.Builder {
	return snapshot.NewBuilder(nil, opts)
}

// agent wires the reporting pipeline for one config file.
type agent struct {
	mgr        *config.Manager
	cfg        config.Config
	store      state.Store
	state      *state.State
	queue      *retryqueue.Queue
	dispatcher *report.Dispatcher
	sched      *scheduler.Scheduler
}

func loadConfig() (*config.Manager, config.Config, error) {
	path := configPath
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, config.Config{}, err
		}
		path = abs
	}

	mgr, err := config.Load(path, logger)
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg, err := mgr.Config()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("invalid configuration in %s: %w", mgr.Path(), err)
	}
	return mgr, cfg, nil
}

// openAgent loads configuration and state. A machine id that cannot be
// obtained or persisted is fatal.
func openAgent(ctx context.Context) (*agent, error) {
	mgr, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.MachineID, err = mgr.EnsureMachineID(); err != nil {
		return nil, err
	}

	store, err := state.OpenSQLite(ctx, filepath.Join(cfg.DataDir, state.DBFile))
	if err != nil {
		return nil, err
	}

	a, err := newAgent(ctx, mgr, cfg, store)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return a, nil
}

func newAgent(ctx context.Context, mgr *config.Manager, cfg config.Config, store state.Store) (*agent, error) {
	st, err := state.Load(ctx, store, cfg.MachineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent state: %w", err)
	}
	queue, err := retryqueue.Open(ctx, store, logger)
	if err != nil {
		return nil, err
	}

	var transport http.RoundTripper
	if cfg.CAFile != "" {
		t, err := report.NewTransport(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		transport = t
	}
	dispatcher := report.New(cfg.Endpoint, queue, logger, report.Options{Transport: transport})

	sched := scheduler.New(scheduler.Deps{
		Builder:    newBuilder(cfg.ProbeOptions()),
		Dispatcher: dispatcher,
		Queue:      queue,
		State:      st,
	}, cfg.Interval.Duration(), logger)

	return &agent{
		mgr:        mgr,
		cfg:        cfg,
		store:      store,
		state:      st,
		queue:      queue,
		dispatcher: dispatcher,
		sched:      sched,
	}, nil
}

// watchConfig applies endpoint and interval edits to the running pipeline.
func (a *agent) watchConfig() error {
	return a.mgr.Watch(func(c config.Config) {
		if c.Endpoint != a.dispatcher.Endpoint() {
			a.dispatcher.SetEndpoint(c.Endpoint)
		}
		if d := c.Interval.Duration(); d != a.sched.Interval() {
			a.sched.SetInterval(d)
		}
	})
}

func (a *agent) Close() error {
	return a.store.Close()
}
