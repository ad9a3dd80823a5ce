// Package probe inspects the local machine's security posture using
// platform-native tools. Every probe fails closed: an error or an unparsable
// answer yields a non-compliant result with the diagnostic text in Details.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vertti/healthwatch/pkg/check"
	"github.com/vertti/healthwatch/pkg/hostinfo"
)

const (
	// DefaultCommandTimeout bounds a single inspection command.
	DefaultCommandTimeout = 60 * time.Second
	// DefaultUpdateTimeout bounds update listing, which may contact remote catalogs.
	DefaultUpdateTimeout = 5 * time.Minute

	unknownModel = "Unknown"
)

// Platform probes the four compliance categories and the hardware model.
// Implementations never panic and never return partially built results.
type Platform interface {
	DiskEncryption(ctx context.Context) check.DiskEncryption
	OSUpdates(ctx context.Context) check.OSUpdates
	Antivirus(ctx context.Context) check.Antivirus
	SleepSettings(ctx context.Context) check.SleepSettings
	Model(ctx context.Context) string
}

// Options tunes probe execution.
type Options struct {
	CommandTimeout time.Duration // per inspection command (default: 60s)
	UpdateTimeout  time.Duration // for update listing commands (default: 5m)
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.UpdateTimeout <= 0 {
		o.UpdateTimeout = DefaultUpdateTimeout
	}
	return o
}

// prober is implemented per OS family. Errors are converted to fail-closed
// results by failClosed.
type prober interface {
	diskEncryption(ctx context.Context) (check.DiskEncryption, error)
	osUpdates(ctx context.Context) (check.OSUpdates, error)
	antivirus(ctx context.Context) (check.Antivirus, error)
	sleepSettings(ctx context.Context) (check.SleepSettings, error)
	model(ctx context.Context) (string, error)
}

// New returns the Platform implementation for the given OS family.
// A nil runner uses the real system.
func New(platform hostinfo.Platform, runner Runner, opts Options) Platform {
	if runner == nil {
		runner = &RealRunner{}
	}
	b := base{runner: runner, opts: opts.withDefaults()}

	var p prober
	switch platform {
	case hostinfo.Darwin:
		p = darwin{b}
	case hostinfo.Windows:
		p = windows{b}
	case hostinfo.Linux:
		p = linux{b}
	default:
		p = unsupported{checks: check.Unsupported()}
	}
	return failClosed{p: p}
}

type failClosed struct {
	p prober
}

func (f failClosed) DiskEncryption(ctx context.Context) check.DiskEncryption {
	return guard(check.FailDiskEncryption, func() (check.DiskEncryption, error) { return f.p.diskEncryption(ctx) })
}

func (f failClosed) OSUpdates(ctx context.Context) check.OSUpdates {
	return guard(check.FailOSUpdates, func() (check.OSUpdates, error) { return f.p.osUpdates(ctx) })
}

func (f failClosed) Antivirus(ctx context.Context) check.Antivirus {
	return guard(check.FailAntivirus, func() (check.Antivirus, error) { return f.p.antivirus(ctx) })
}

func (f failClosed) SleepSettings(ctx context.Context) check.SleepSettings {
	return guard(check.FailSleepSettings, func() (check.SleepSettings, error) { return f.p.sleepSettings(ctx) })
}

func (f failClosed) Model(ctx context.Context) string {
	model := guard(func(string) string { return unknownModel }, func() (string, error) { return f.p.model(ctx) })
	if model == "" {
		return unknownModel
	}
	return model
}

// guard runs fn and converts an error or panic into fail(details).
func guard[T any](fail func(details string) T, fn func() (T, error)) (result T) {
	defer func() {
		if r := recover(); r != nil {
			result = fail(check.ErrorDetails(fmt.Errorf("panic: %v", r)))
		}
	}()

	result, err := fn()
	if err != nil {
		return fail(check.ErrorDetails(err))
	}
	return result
}

type base struct {
	runner Runner
	opts   Options
}

// run executes name under timeout. Stdout and stderr are returned even on error.
func (b base) run(ctx context.Context, timeout time.Duration, name string, args ...string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err = b.runner.RunCommandContext(ctx, name, args...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout, stderr, fmt.Errorf("%s timed out after %s", name, timeout)
	}
	return stdout, stderr, err
}

// output runs name with the default command timeout and returns trimmed stdout.
func (b base) output(ctx context.Context, name string, args ...string) (string, error) {
	stdout, _, err := b.run(ctx, b.opts.CommandTimeout, name, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

type unsupported struct {
	checks check.Checks
}

func (u unsupported) diskEncryption(context.Context) (check.DiskEncryption, error) {
	return u.checks.DiskEncryption, nil
}

func (u unsupported) osUpdates(context.Context) (check.OSUpdates, error) {
	return u.checks.OSUpdates, nil
}

func (u unsupported) antivirus(context.Context) (check.Antivirus, error) {
	return u.checks.Antivirus, nil
}

func (u unsupported) sleepSettings(context.Context) (check.SleepSettings, error) {
	return u.checks.SleepSettings, nil
}

func (unsupported) model(context.Context) (string, error) {
	return "Unknown Machine", nil
}
