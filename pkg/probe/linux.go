package probe

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vertti/healthwatch/pkg/check"
)

const (
	debianMarker   = "/etc/debian_version"
	fedoraMarker   = "/etc/fedora-release"
	redhatMarker   = "/etc/redhat-release"
	dmiProductName = "/sys/devices/virtual/dmi/id/product_name"

	// dnf check-update exits 100 when updates are available.
	dnfUpdatesAvailable = 100
)

var (
	aptUpgradedRe = regexp.MustCompile(`(?m)^(\d+) upgraded`)
	xsetTimeoutRe = regexp.MustCompile(`timeout:\s+(\d+)`)

	// Installed implies enabled: there is no portable enablement signal on Linux.
	linuxScanners = []string{"clamscan", "clamdscan", "clamd"}
)

type linux struct {
	base
}

func (l linux) diskEncryption(ctx context.Context) (check.DiskEncryption, error) {
	out, err := l.output(ctx, "lsblk", "-f")
	if err != nil {
		return check.DiskEncryption{}, err
	}
	if strings.Contains(out, "crypto_LUKS") {
		return check.DiskEncryption{Encrypted: true, Details: "LUKS encryption detected"}, nil
	}
	return check.FailDiskEncryption("No encryption detected"), nil
}

func (l linux) osUpdates(ctx context.Context) (check.OSUpdates, error) {
	switch {
	case l.runner.FileExists(debianMarker):
		return l.aptUpdates(ctx)
	case l.runner.FileExists(fedoraMarker), l.runner.FileExists(redhatMarker):
		return l.dnfUpdates(ctx)
	default:
		return check.FailOSUpdates("Unsupported Linux distribution"), nil
	}
}

func (l linux) aptUpdates(ctx context.Context) (check.OSUpdates, error) {
	stdout, _, err := l.run(ctx, l.opts.UpdateTimeout, "apt-get", "-s", "upgrade")
	if err != nil {
		return check.OSUpdates{}, err
	}
	count, ok := firstInt(aptUpgradedRe, stdout)
	if !ok {
		return check.OSUpdates{}, fmt.Errorf("no upgrade summary in apt-get output")
	}
	return updateCountResult(count), nil
}

func (l linux) dnfUpdates(ctx context.Context) (check.OSUpdates, error) {
	stdout, _, err := l.run(ctx, l.opts.UpdateTimeout, "dnf", "check-update", "--quiet")
	pending := err != nil
	if err != nil {
		if code, ok := ExitCode(err); !ok || code != dnfUpdatesAvailable {
			return check.OSUpdates{}, err
		}
	}

	count := countDNFPackages(stdout)
	if pending && count == 0 {
		return check.FailOSUpdates("Updates available"), nil
	}
	return updateCountResult(count), nil
}

// countDNFPackages counts "name.arch version repo" rows, skipping section
// headers and wrapped continuation lines.
func countDNFPackages(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || strings.HasSuffix(line, ":") {
			continue
		}
		n++
	}
	return n
}

func updateCountResult(count int) check.OSUpdates {
	if count == 0 {
		return check.OSUpdates{UpToDate: true, Details: systemUpToDate}
	}
	return check.FailOSUpdates(fmt.Sprintf(updatesAvailableF, count))
}

func (l linux) antivirus(context.Context) (check.Antivirus, error) {
	for _, name := range linuxScanners {
		if _, err := l.runner.LookPath(name); err == nil {
			return check.Antivirus{Installed: true, Enabled: true, Details: "ClamAV detected (" + name + ")"}, nil
		}
	}
	return check.FailAntivirus("No antivirus detected"), nil
}

func (l linux) sleepSettings(ctx context.Context) (check.SleepSettings, error) {
	out, err := l.output(ctx, "xset", "q")
	if err != nil {
		return check.SleepSettings{}, err
	}
	seconds, ok := firstInt(xsetTimeoutRe, out)
	if !ok {
		return check.SleepSettings{}, fmt.Errorf("no screen saver timeout in xset output")
	}
	minutes := float64(seconds) / 60
	return check.NewSleepSettings(minutes, fmt.Sprintf("Screen timeout: %s min", formatMinutes(minutes))), nil
}

func (l linux) model(context.Context) (string, error) {
	if !l.runner.FileExists(dmiProductName) {
		return "Unknown Linux Machine", nil
	}
	data, err := l.runner.ReadFile(dmiProductName)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
