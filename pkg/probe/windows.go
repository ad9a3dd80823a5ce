package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vertti/healthwatch/pkg/check"
)

const (
	bitLockerScript = `Get-BitLockerVolume | Select-Object -Property MountPoint,ProtectionStatus | ConvertTo-Json`
	updatesScript   = `$s = New-Object -ComObject Microsoft.Update.Session; ` +
		`$s.CreateUpdateSearcher().Search("IsInstalled=0 and IsHidden=0").Updates.Count`
	defenderScript = `Get-MpComputerStatus | Select-Object -Property AntivirusEnabled,RealTimeProtectionEnabled | ConvertTo-Json`
	modelScript    = `(Get-CimInstance -ClassName Win32_ComputerSystemProduct).Name`

	systemDrive = "C:"
)

var powercfgACIndexRe = regexp.MustCompile(`AC Power Setting Index:\s*0x([0-9a-fA-F]+)`)

type windows struct {
	base
}

// powershell runs script and returns its trimmed, BOM-stripped output.
func (w windows) powershell(ctx context.Context, timeout time.Duration, script string) (string, error) {
	stdout, _, err := w.run(ctx, timeout, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(stdout)
	return strings.TrimPrefix(out, "\xef\xbb\xbf"), nil
}

func (w windows) diskEncryption(ctx context.Context) (check.DiskEncryption, error) {
	out, err := w.powershell(ctx, w.opts.CommandTimeout, bitLockerScript)
	if err != nil {
		return check.DiskEncryption{}, err
	}
	if !gjson.Valid(out) {
		return check.DiskEncryption{}, fmt.Errorf("unparsable BitLocker output: %q", out)
	}

	volumes := gjson.Parse(out)
	volume := volumes
	if volumes.IsArray() {
		volume = volumes.Get(`#(MountPoint%"*` + systemDrive + `*")`)
	}
	if !volume.Exists() || !volume.Get("ProtectionStatus").Exists() {
		return check.FailDiskEncryption("BitLocker: Unknown"), nil
	}

	if protectionOn(volume.Get("ProtectionStatus")) {
		return check.DiskEncryption{Encrypted: true, Details: "BitLocker: On"}, nil
	}
	return check.FailDiskEncryption("BitLocker: Off"), nil
}

// protectionOn accepts both the numeric and the string form of the
// ProtectionStatus enum, depending on the PowerShell version.
func protectionOn(status gjson.Result) bool {
	if status.Type == gjson.String {
		return strings.EqualFold(status.String(), "On")
	}
	return status.Type == gjson.Number && status.Int() == 1
}

func (w windows) osUpdates(ctx context.Context) (check.OSUpdates, error) {
	out, err := w.powershell(ctx, w.opts.UpdateTimeout, updatesScript)
	if err != nil {
		return check.OSUpdates{}, err
	}
	count, err := strconv.Atoi(out)
	if err != nil {
		return check.OSUpdates{}, fmt.Errorf("unparsable update count %q", out)
	}
	if count == 0 {
		return check.OSUpdates{UpToDate: true, Details: systemUpToDate}, nil
	}
	return check.FailOSUpdates(fmt.Sprintf(updatesAvailableF, count)), nil
}

func (w windows) antivirus(ctx context.Context) (check.Antivirus, error) {
	out, err := w.powershell(ctx, w.opts.CommandTimeout, defenderScript)
	if err != nil {
		return check.Antivirus{}, err
	}
	if !gjson.Valid(out) {
		return check.Antivirus{}, fmt.Errorf("unparsable Defender output: %q", out)
	}

	status := gjson.Parse(out)
	installed := status.Get("AntivirusEnabled").Bool()
	realtime := status.Get("RealTimeProtectionEnabled").Bool()

	return check.Antivirus{
		Installed: installed,
		Enabled:   installed && realtime,
		Details: fmt.Sprintf("Windows Defender: %s, Real-time protection: %s",
			choose(installed, "Installed", "Not installed"),
			choose(realtime, "Enabled", "Disabled")),
	}, nil
}

func (w windows) sleepSettings(ctx context.Context) (check.SleepSettings, error) {
	out, err := w.output(ctx, "powercfg", "/q", "SCHEME_CURRENT", "SUB_VIDEO", "VIDEOIDLE")
	if err != nil {
		return check.SleepSettings{}, err
	}
	m := powercfgACIndexRe.FindStringSubmatch(out)
	if m == nil {
		return check.SleepSettings{}, fmt.Errorf("no AC power setting index in powercfg output")
	}
	seconds, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return check.SleepSettings{}, fmt.Errorf("parse screen timeout %q: %w", m[1], err)
	}

	minutes := float64(seconds) / 60
	return check.NewSleepSettings(minutes, fmt.Sprintf("Screen timeout: %s min", formatMinutes(minutes))), nil
}

func (w windows) model(ctx context.Context) (string, error) {
	return w.powershell(ctx, w.opts.CommandTimeout, modelScript)
}

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}
