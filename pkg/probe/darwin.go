package probe

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/vertti/healthwatch/pkg/check"
)

const (
	fileVaultOn       = "FileVault is On"
	noNewSoftware     = "No new software available"
	xprotectDetails   = "XProtect (built-in)"
	systemUpToDate    = "System is up to date"
	updatesAvailableF = "%d updates available"
)

var (
	pmsetDisplaySleepRe = regexp.MustCompile(`(?m)^\s*displaysleep\s+(\d+)`)
	pmsetSystemSleepRe  = regexp.MustCompile(`(?m)^\s*sleep\s+(\d+)`)
	softwareUpdateRe    = regexp.MustCompile(`(?m)^\s*\*\s*(?:Label:\s*)?(\S.*)$`)
)

type darwin struct {
	base
}

func (d darwin) diskEncryption(ctx context.Context) (check.DiskEncryption, error) {
	out, err := d.output(ctx, "fdesetup", "status")
	if err != nil {
		return check.DiskEncryption{}, err
	}
	if out == "" {
		return check.FailDiskEncryption("fdesetup returned no status"), nil
	}
	return check.DiskEncryption{
		Encrypted: strings.Contains(out, fileVaultOn),
		Details:   out,
	}, nil
}

// softwareupdate prints the "no updates" marker on stderr, labels on stdout.
func (d darwin) osUpdates(ctx context.Context) (check.OSUpdates, error) {
	stdout, stderr, err := d.run(ctx, d.opts.UpdateTimeout, "softwareupdate", "-l")
	if err != nil {
		return check.OSUpdates{}, err
	}
	combined := stdout + "\n" + stderr
	if strings.Contains(combined, noNewSoftware) {
		return check.OSUpdates{UpToDate: true, Details: systemUpToDate}, nil
	}

	pending := len(softwareUpdateRe.FindAllString(stdout, -1))
	if pending == 0 {
		return check.FailOSUpdates(fmt.Sprintf("Could not determine update status: %s", strings.TrimSpace(combined))), nil
	}
	return check.FailOSUpdates(fmt.Sprintf(updatesAvailableF, pending)), nil
}

func (d darwin) antivirus(context.Context) (check.Antivirus, error) {
	return check.Antivirus{Installed: true, Enabled: true, Details: xprotectDetails}, nil
}

func (d darwin) sleepSettings(ctx context.Context) (check.SleepSettings, error) {
	out, err := d.output(ctx, "pmset", "-g")
	if err != nil {
		return check.SleepSettings{}, err
	}

	display, displayOK := firstInt(pmsetDisplaySleepRe, out)
	system, systemOK := firstInt(pmsetSystemSleepRe, out)
	if !displayOK && !systemOK {
		return check.SleepSettings{}, fmt.Errorf("no sleep timeouts in pmset output")
	}

	minutes := math.Inf(1)
	if displayOK {
		minutes = math.Min(minutes, float64(display))
	}
	if systemOK {
		minutes = math.Min(minutes, float64(system))
	}

	details := fmt.Sprintf("Display sleep: %s min, System sleep: %s min",
		intOrUnknown(display, displayOK), intOrUnknown(system, systemOK))
	return check.NewSleepSettings(minutes, details), nil
}

func (d darwin) model(ctx context.Context) (string, error) {
	return d.output(ctx, "sysctl", "-n", "hw.model")
}

// firstInt returns the first capture group of re in s as an integer.
func firstInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func intOrUnknown(n int, ok bool) string {
	if !ok {
		return "unknown"
	}
	return strconv.Itoa(n)
}
