// Package gate decides whether a snapshot differs enough from the last
// delivered one to be worth reporting.
package gate

import "github.com/vertti/healthwatch/pkg/snapshot"

// ShouldReport returns true on first run (lastKnown is nil) or when the check
// results differ by value. Timestamp and host metadata are not compared.
func ShouldReport(next snapshot.Snapshot, lastKnown *snapshot.Snapshot) bool {
	if lastKnown == nil {
		return true
	}
	return next.Checks != lastKnown.Checks
}
