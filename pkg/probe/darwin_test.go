package probe

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vertti/healthwatch/pkg/hostinfo"
)

const pmsetOutput = `System-wide power settings:
Currently in use:
 standby              1
 Sleep On Power Button 1
 hibernatefile        /var/vm/sleepimage
 powernap             1
 networkoversleep     0
 disksleep            10
 sleep                %s
 hibernatemode        3
 ttyskeepawake        1
 displaysleep         %s
 tcpkeepalive         1
 lowpowermode         0
 womp                 1
`

func TestDarwin_DiskEncryption(t *testing.T) {
	tests := []struct {
		name          string
		stdout        string
		wantEncrypted bool
		wantDetails   string
	}{
		{"filevault on", "FileVault is On.\n", true, "FileVault is On."},
		{"filevault off", "FileVault is Off.\n", false, "FileVault is Off."},
		{"encryption in progress", "Encryption in progress: Percent completed = 42\n", false, "Encryption in progress: Percent completed = 42"},
		{"empty output", "", false, "fdesetup returned no status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := commandRunner(map[string]cmdResult{"fdesetup": {stdout: tt.stdout}})
			got := New(hostinfo.Darwin, runner, Options{}).DiskEncryption(context.Background())
			assert.Equal(t, tt.wantEncrypted, got.Encrypted)
			assert.Equal(t, tt.wantDetails, got.Details)
		})
	}
}

func TestDarwin_OSUpdates(t *testing.T) {
	tests := []struct {
		name         string
		result       cmdResult
		wantUpToDate bool
		wantDetails  string
	}{
		{
			name:         "no updates marker on stderr",
			result:       cmdResult{stdout: "Software Update Tool\n\nFinding available software\n", stderr: "No new software available.\n"},
			wantUpToDate: true,
			wantDetails:  "System is up to date",
		},
		{
			name: "labels pending",
			result: cmdResult{stdout: `Software Update Tool

Finding available software
Software Update found the following new or updated software:
* Label: Safari17.5VenturaAuto-17.5
	Title: Safari, Version: 17.5, Size: 153690KiB, Recommended: YES,
* Label: macOS Ventura 13.6.7-22G720
	Title: macOS Ventura 13.6.7, Version: 13.6.7, Size: 1158156KiB, Recommended: YES, Action: restart,
`},
			wantUpToDate: false,
			wantDetails:  "2 updates available",
		},
		{
			name:         "legacy format",
			result:       cmdResult{stdout: "   * Security Update 2020-001-10.14.6\n\tSecurity Update 2020-001 (10.14.6), 1.2G [recommended]\n"},
			wantUpToDate: false,
			wantDetails:  "1 updates available",
		},
		{
			name:         "ambiguous output",
			result:       cmdResult{stdout: "Software Update Tool\n"},
			wantUpToDate: false,
			wantDetails:  "Could not determine update status: Software Update Tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := commandRunner(map[string]cmdResult{"softwareupdate": tt.result})
			got := New(hostinfo.Darwin, runner, Options{}).OSUpdates(context.Background())
			assert.Equal(t, tt.wantUpToDate, got.UpToDate)
			assert.Equal(t, tt.wantDetails, got.Details)
		})
	}
}

func TestDarwin_Antivirus(t *testing.T) {
	got := New(hostinfo.Darwin, &MockRunner{}, Options{}).Antivirus(context.Background())
	assert.True(t, got.Installed)
	assert.True(t, got.Enabled)
	assert.Equal(t, "XProtect (built-in)", got.Details)
}

func TestDarwin_SleepSettings(t *testing.T) {
	tests := []struct {
		name          string
		stdout        string
		wantMinutes   float64
		wantCompliant bool
		wantDetails   string
	}{
		{"display shorter", sprintfPmset("30", "5"), 5, true, "Display sleep: 5 min, System sleep: 30 min"},
		{"system shorter", sprintfPmset("3", "10"), 3, true, "Display sleep: 10 min, System sleep: 3 min"},
		{"both too long", sprintfPmset("60", "30"), 30, false, "Display sleep: 30 min, System sleep: 60 min"},
		{"system never sleeps", sprintfPmset("0", "10"), 0, false, "Display sleep: 10 min, System sleep: 0 min"},
		{"display only", " displaysleep 8\n disksleep 10\n", 8, true, "Display sleep: 8 min, System sleep: unknown min"},
		{"system only", " sleep 12\n", 12, false, "Display sleep: unknown min, System sleep: 12 min"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := commandRunner(map[string]cmdResult{"pmset": {stdout: tt.stdout}})
			got := New(hostinfo.Darwin, runner, Options{}).SleepSettings(context.Background())
			assert.Equal(t, tt.wantMinutes, got.TimeoutMinutes)
			assert.Equal(t, tt.wantCompliant, got.Compliant)
			assert.Equal(t, tt.wantDetails, got.Details)
		})
	}
}

func TestDarwin_SleepSettingsUnparsable(t *testing.T) {
	runner := commandRunner(map[string]cmdResult{"pmset": {stdout: "garbage"}})
	got := New(hostinfo.Darwin, runner, Options{}).SleepSettings(context.Background())
	assert.False(t, got.Compliant)
	assert.Equal(t, "Error: no sleep timeouts in pmset output", got.Details)
}

func TestDarwin_Model(t *testing.T) {
	runner := commandRunner(map[string]cmdResult{"sysctl": {stdout: "MacBookPro18,3\n"}})
	assert.Equal(t, "MacBookPro18,3", New(hostinfo.Darwin, runner, Options{}).Model(context.Background()))
}

func sprintfPmset(system, display string) string {
	return fmt.Sprintf(pmsetOutput, system, display)
}
