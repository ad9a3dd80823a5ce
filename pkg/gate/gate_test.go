package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/snapshot"
)

func snap(at time.Time, checks check.Checks) snapshot.Snapshot {
	return snapshot.Snapshot{MachineID: "m-1", Timestamp: at, Hostname: "host", Checks: checks}
}

func baseChecks() check.Checks {
	return check.Checks{
		DiskEncryption: check.DiskEncryption{Encrypted: true, Details: "FileVault is On."},
		OSUpdates:      check.OSUpdates{UpToDate: true, Details: "System is up to date"},
		Antivirus:      check.Antivirus{Installed: true, Enabled: true, Details: "XProtect (built-in)"},
		SleepSettings:  check.NewSleepSettings(5, "Display sleep: 5 min, System sleep: 10 min"),
	}
}

func TestShouldReport_FirstRun(t *testing.T) {
	for _, c := range []check.Checks{baseChecks(), check.Unsupported(), {}} {
		assert.True(t, ShouldReport(snap(time.Now(), c), nil))
	}
}

func TestShouldReport_IgnoresTimestampAndHost(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	last := snap(t0, baseChecks())
	next := snap(t0.Add(30*time.Minute), baseChecks())
	next.Hostname = "renamed-host"
	next.OSVersion = "23.6.0"

	assert.False(t, ShouldReport(next, &last))
}

func TestShouldReport_DetectsChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*check.Checks)
	}{
		{"encryption toggled", func(c *check.Checks) { c.DiskEncryption.Encrypted = false }},
		{"update details changed", func(c *check.Checks) { c.OSUpdates.Details = "1 updates available" }},
		{"antivirus disabled", func(c *check.Checks) { c.Antivirus.Enabled = false }},
		{"sleep timeout changed", func(c *check.Checks) { c.SleepSettings = check.NewSleepSettings(7, "Display sleep: 7 min") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := snap(time.Now(), baseChecks())
			changed := baseChecks()
			tt.mutate(&changed)
			assert.True(t, ShouldReport(snap(time.Now(), changed), &last))
		})
	}
}

func TestShouldReport_ValueNotReferenceEquality(t *testing.T) {
	a := baseChecks()
	b := baseChecks()
	last := snap(time.Now(), a)
	assert.False(t, ShouldReport(snap(time.Now(), b), &last))
}
