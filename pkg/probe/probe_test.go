package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/hostinfo"
)

type cmdResult struct {
	stdout string
	stderr string
	err    error
}

// commandRunner answers RunCommandContext from a table keyed by command name.
func commandRunner(results map[string]cmdResult) *MockRunner {
	return &MockRunner{
		RunCommandContextFunc: func(ctx context.Context, name string, args ...string) (string, string, error) {
			r, ok := results[name]
			if !ok {
				return "", "", errors.New("unexpected command " + name)
			}
			return r.stdout, r.stderr, r.err
		},
	}
}

var allPlatforms = []hostinfo.Platform{hostinfo.Darwin, hostinfo.Windows, hostinfo.Linux, hostinfo.Other}

func assertAllFailClosed(t *testing.T, p Platform) {
	t.Helper()
	ctx := context.Background()

	disk := p.DiskEncryption(ctx)
	assert.False(t, disk.Encrypted)
	assert.NotEmpty(t, disk.Details)

	updates := p.OSUpdates(ctx)
	assert.False(t, updates.UpToDate)
	assert.NotEmpty(t, updates.Details)

	av := p.Antivirus(ctx)
	assert.False(t, av.Enabled)
	assert.NotEmpty(t, av.Details)

	sleep := p.SleepSettings(ctx)
	assert.False(t, sleep.Compliant)
	assert.NotEmpty(t, sleep.Details)
}

func TestProbe_CommandErrorsFailClosed(t *testing.T) {
	runner := &MockRunner{
		RunCommandContextFunc: func(ctx context.Context, name string, args ...string) (string, string, error) {
			return "", "permission denied", &ExitError{Name: name, Code: 1, Stderr: "permission denied"}
		},
		FileExistsFunc: func(path string) bool { return path == debianMarker },
	}

	for _, platform := range []hostinfo.Platform{hostinfo.Windows, hostinfo.Linux} {
		t.Run(string(platform), func(t *testing.T) {
			assertAllFailClosed(t, New(platform, runner, Options{}))
		})
	}

	t.Run("darwin", func(t *testing.T) {
		p := New(hostinfo.Darwin, runner, Options{})
		ctx := context.Background()
		assert.Contains(t, p.DiskEncryption(ctx).Details, "Error: fdesetup exited with code 1")
		assert.False(t, p.OSUpdates(ctx).UpToDate)
		assert.False(t, p.SleepSettings(ctx).Compliant)
	})
}

type panickingRunner struct {
	MockRunner
}

func (panickingRunner) RunCommandContext(context.Context, string, ...string) (string, string, error) {
	panic("runner exploded")
}

func (panickingRunner) FileExists(string) bool {
	panic("stat exploded")
}

func TestProbe_PanicsFailClosed(t *testing.T) {
	for _, platform := range []hostinfo.Platform{hostinfo.Windows, hostinfo.Linux} {
		t.Run(string(platform), func(t *testing.T) {
			p := New(platform, &panickingRunner{}, Options{})
			assertAllFailClosed(t, p)
			assert.Contains(t, p.DiskEncryption(context.Background()).Details, "panic: runner exploded")
			assert.Equal(t, unknownModel, p.Model(context.Background()))
		})
	}
}

func TestProbe_Timeout(t *testing.T) {
	runner := &MockRunner{
		RunCommandContextFunc: func(ctx context.Context, name string, args ...string) (string, string, error) {
			<-ctx.Done()
			return "", "", ctx.Err()
		},
	}

	p := New(hostinfo.Linux, runner, Options{CommandTimeout: 10 * time.Millisecond})
	start := time.Now()
	result := p.DiskEncryption(context.Background())

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, result.Encrypted)
	assert.Contains(t, result.Details, "lsblk timed out after 10ms")
}

func TestProbe_Unsupported(t *testing.T) {
	p := New(hostinfo.Other, nil, Options{})
	ctx := context.Background()

	assert.Equal(t, check.FailDiskEncryption(check.UnsupportedPlatform), p.DiskEncryption(ctx))
	assert.Equal(t, check.FailOSUpdates(check.UnsupportedPlatform), p.OSUpdates(ctx))
	assert.Equal(t, check.FailAntivirus(check.UnsupportedPlatform), p.Antivirus(ctx))
	assert.Equal(t, check.FailSleepSettings(check.UnsupportedPlatform), p.SleepSettings(ctx))
	assert.Equal(t, "Unknown Machine", p.Model(ctx))

	got := check.Checks{
		DiskEncryption: p.DiskEncryption(ctx),
		OSUpdates:      p.OSUpdates(ctx),
		Antivirus:      p.Antivirus(ctx),
		SleepSettings:  p.SleepSettings(ctx),
	}
	assert.Equal(t, check.Unsupported(), got)
}

func TestProbe_EmptyModelIsUnknown(t *testing.T) {
	runner := commandRunner(map[string]cmdResult{"sysctl": {stdout: "  \n"}})
	assert.Equal(t, unknownModel, New(hostinfo.Darwin, runner, Options{}).Model(context.Background()))
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultCommandTimeout, o.CommandTimeout)
	assert.Equal(t, DefaultUpdateTimeout, o.UpdateTimeout)

	o = Options{CommandTimeout: time.Second, UpdateTimeout: time.Minute}.withDefaults()
	assert.Equal(t, time.Second, o.CommandTimeout)
	assert.Equal(t, time.Minute, o.UpdateTimeout)
}

func TestExitError(t *testing.T) {
	err := &ExitError{Name: "dnf", Code: 100, Stderr: "  \n"}
	assert.Equal(t, "dnf exited with code 100", err.Error())

	err = &ExitError{Name: "lsblk", Code: 32, Stderr: "lsblk: failed\n"}
	assert.True(t, strings.HasSuffix(err.Error(), ": lsblk: failed"))

	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 32, code)

	_, ok = ExitCode(errors.New("other"))
	assert.False(t, ok)
}

func TestMockRunner_Defaults(t *testing.T) {
	m := &MockRunner{}

	_, err := m.LookPath("clamscan")
	assert.Error(t, err)
	_, _, err = m.RunCommandContext(context.Background(), "lsblk")
	assert.Error(t, err)
	_, err = m.ReadFile("/etc/os-release")
	assert.Error(t, err)
	assert.False(t, m.FileExists("/etc/os-release"))
}

func TestRealRunner(t *testing.T) {
	r := &RealRunner{}

	path, err := r.LookPath("sh")
	if err != nil {
		t.Skipf("sh not found in PATH, skipping: %v", err)
	}
	assert.NotEmpty(t, path)

	stdout, _, err := r.RunCommandContext(context.Background(), "sh", "-c", "echo hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)

	_, _, err = r.RunCommandContext(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	code, ok := ExitCode(err)
	assert.True(t, ok, "err = %v", err)
	assert.Equal(t, 3, code)
	assert.Contains(t, err.Error(), "oops")

	assert.False(t, r.FileExists("/nonexistent-healthwatch-path-12345"))
}
