package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jwalton/go-supportscolor"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/snapshot"
)

var (
	green  = "\033[32m"
	red    = "\033[31m"
	yellow = "\033[33m"
	dim    = "\033[2m"
	reset  = "\033[0m"
)

func init() {
	if !supportscolor.Stdout().SupportsColor {
		green, red, yellow, dim, reset = "", "", "", "", ""
	}
}

var categoryNames = map[check.Category]string{
	check.CategoryDiskEncryption: "Disk encryption",
	check.CategoryOSUpdates:      "OS updates",
	check.CategoryAntivirus:      "Antivirus",
	check.CategorySleepSettings:  "Sleep settings",
}

// Overall summarizes a set of checks the way the dashboard does.
func Overall(c check.Checks) string {
	switch {
	case c.Severe():
		return "Critical"
	case c.HasIssues():
		return "Issues"
	default:
		return "Healthy"
	}
}

// PrintResult writes a check result with colored status.
func PrintResult(w io.Writer, r check.Result) {
	name := categoryNames[r.Category]
	if name == "" {
		name = string(r.Category)
	}

	indent := "     "
	if r.OK() {
		fmt.Fprintf(w, "%s[OK]%s %s\n", green, reset, name)
	} else {
		fmt.Fprintf(w, "%s[FAIL]%s %s\n", red, reset, name)
		indent = "       "
	}
	for _, d := range r.Details {
		fmt.Fprintf(w, "%s%s\n", indent, formatLabel(d))
	}
}

// PrintSnapshot writes the host header, every check and the overall status.
func PrintSnapshot(w io.Writer, snap snapshot.Snapshot) {
	fmt.Fprintln(w, formatLabel("host: "+snap.Hostname))
	fmt.Fprintln(w, formatLabel(fmt.Sprintf("platform: %s %s", snap.Platform, snap.OSVersion)))
	fmt.Fprintln(w, formatLabel("model: "+snap.Model))
	fmt.Fprintln(w, formatLabel("checked: "+snap.Timestamp.Format(time.RFC3339)))
	fmt.Fprintln(w)

	for _, r := range snap.Checks.Results() {
		PrintResult(w, r)
	}

	fmt.Fprintln(w)
	overall := Overall(snap.Checks)
	color := green
	switch overall {
	case "Critical":
		color = red
	case "Issues":
		color = yellow
	}
	fmt.Fprintf(w, "%sstatus:%s %s%s%s\n", dim, reset, color, overall, reset)
}

// Status is the agent summary shown by the status command.
type Status struct {
	MachineID  string
	Endpoint   string
	Interval   string
	LastReport time.Time
	Last       *snapshot.Snapshot
	QueueDepth int
}

// PrintStatus writes the agent summary.
func PrintStatus(w io.Writer, s Status) {
	fmt.Fprintln(w, formatLabel("machine id: "+s.MachineID))
	fmt.Fprintln(w, formatLabel("endpoint: "+s.Endpoint))
	fmt.Fprintln(w, formatLabel("interval: "+s.Interval))

	last := "never"
	if !s.LastReport.IsZero() {
		last = s.LastReport.Local().Format(time.RFC3339)
	}
	fmt.Fprintln(w, formatLabel("last report: "+last))
	fmt.Fprintln(w, formatLabel(fmt.Sprintf("queued reports: %d", s.QueueDepth)))

	if s.Last != nil {
		fmt.Fprintln(w, formatLabel("last status: "+Overall(s.Last.Checks)))
	}
}

// formatLabel dims the "label:" prefix of a detail line.
func formatLabel(s string) string {
	label, rest, ok := strings.Cut(s, ": ")
	if !ok || dim == "" {
		return s
	}
	return dim + label + ":" + reset + " " + rest
}
