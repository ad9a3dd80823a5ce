// Package testutil holds test doubles shared across packages.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/hostinfo"
	"github.com/vertti/healthwatch/pkg/snapshot"
)

// Collector is an in-process report collector. It answers every POST with
// the configured status and records the decoded snapshots.
type Collector struct {
	URL string

	mu       sync.Mutex
	status   int
	hits     int
	received []snapshot.Snapshot
}

// NewCollector starts a collector answering 200 until told otherwise. It is
// closed when the test ends.
func NewCollector(t testing.TB) *Collector {
	t.Helper()
	c := &Collector{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(srv.Close)
	c.URL = srv.URL + "/api/report"
	return c
}

func (c *Collector) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
	if c.status >= 200 && c.status < 300 {
		var s snapshot.Snapshot
		if err := json.Unmarshal(body, &s); err == nil {
			c.received = append(c.received, s)
		}
	}
	w.WriteHeader(c.status)
}

// SetStatus changes the status code returned from now on.
func (c *Collector) SetStatus(code int) {
	c.mu.Lock()
	c.status = code
	c.mu.Unlock()
}

// Hits returns the number of requests seen, accepted or not.
func (c *Collector) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Received returns the snapshots accepted so far.
func (c *Collector) Received() []snapshot.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]snapshot.Snapshot(nil), c.received...)
}

// CompliantChecks returns a fully compliant set of results.
func CompliantChecks() check.Checks {
	return check.Checks{
		DiskEncryption: check.DiskEncryption{Encrypted: true, Details: "LUKS encryption detected"},
		OSUpdates:      check.OSUpdates{UpToDate: true, Details: "System is up to date"},
		Antivirus:      check.Antivirus{Installed: true, Enabled: true, Details: "ClamAV detected (clamscan)"},
		SleepSettings:  check.NewSleepSettings(5, "Screen timeout: 5 min"),
	}
}

// NewSnapshot returns a linux snapshot carrying checks.
func NewSnapshot(machineID string, ts time.Time, checks check.Checks) snapshot.Snapshot {
	return snapshot.Snapshot{
		MachineID: machineID,
		Timestamp: ts,
		Hostname:  "ci-runner-12",
		Platform:  hostinfo.Linux,
		OSVersion: "6.8.0-45-generic",
		Model:     "KVM",
		Checks:    checks,
	}
}

// ContainsDetail checks if any detail string contains the given substring.
func ContainsDetail(details []string, substr string) bool {
	for _, d := range details {
		if strings.Contains(d, substr) {
			return true
		}
	}
	return false
}
