// Package snapshot assembles point-in-time compliance snapshots of the local machine.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/hostinfo"
	"github.com/vertti/healthwatch/pkg/probe"
)

// ErrEmptyMachineID is returned when a snapshot is requested without a machine id.
var ErrEmptyMachineID = errors.New("machine id is required")

// Snapshot is one point-in-time bundle of all compliance check results for a machine.
// It is a value type; copies are independent.
type Snapshot struct {
	MachineID string            `json:"machineId"`
	Timestamp time.Time         `json:"timestamp"`
	Hostname  string            `json:"hostname"`
	Platform  hostinfo.Platform `json:"platform"`
	OSVersion string            `json:"osVersion"`
	Model     string            `json:"model"`
	Checks    check.Checks      `json:"checks"`
}

// Builder runs the platform probes and stamps the result with host metadata.
type Builder struct {
	Probe probe.Platform
	Host  hostinfo.Provider
	Now   func() time.Time // injected for testing
}

// NewBuilder returns a Builder for the running platform.
func NewBuilder(runner probe.Runner, opts probe.Options) *Builder {
	return &Builder{
		Probe: probe.New(hostinfo.Detect(), runner, opts),
		Host:  hostinfo.RealProvider{},
	}
}

// Build probes every category in turn and returns the completed snapshot.
// The timestamp is taken after all probes finish. A panic escaping the probe
// layer aborts the build with an error.
func (b *Builder) Build(ctx context.Context, machineID string) (snap Snapshot, err error) {
	if machineID == "" {
		return Snapshot{}, ErrEmptyMachineID
	}

	defer func() {
		if r := recover(); r != nil {
			snap, err = Snapshot{}, fmt.Errorf("snapshot build aborted: %v", r)
		}
	}()

	info := b.Host.Info()
	checks := check.Checks{
		DiskEncryption: b.Probe.DiskEncryption(ctx),
		OSUpdates:      b.Probe.OSUpdates(ctx),
		Antivirus:      b.Probe.Antivirus(ctx),
		SleepSettings:  b.Probe.SleepSettings(ctx),
	}
	model := b.Probe.Model(ctx)

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	return Snapshot{
		MachineID: machineID,
		Timestamp: now().UTC(),
		Hostname:  info.Hostname,
		Platform:  info.Platform,
		OSVersion: info.OSVersion,
		Model:     model,
		Checks:    checks,
	}, nil
}
