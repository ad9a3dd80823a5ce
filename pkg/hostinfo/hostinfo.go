// Package hostinfo reports identity metadata of the local machine.
package hostinfo

import (
	"os"
	"runtime"
)

// Platform is the operating system family tag carried in snapshots.
type Platform string

const (
	Darwin  Platform = "darwin"
	Windows Platform = "win32"
	Linux   Platform = "linux"
	Other   Platform = "other"
)

// FromGOOS maps a Go GOOS value to a Platform.
func FromGOOS(goos string) Platform {
	switch goos {
	case "darwin":
		return Darwin
	case "windows":
		return Windows
	case "linux":
		return Linux
	default:
		return Other
	}
}

// Detect returns the platform of the running process.
func Detect() Platform {
	return FromGOOS(runtime.GOOS)
}

// Info holds host metadata that does not require probing external tools.
type Info struct {
	Hostname  string
	Platform  Platform
	OSVersion string
}

// Provider abstracts host metadata lookup for testability.
type Provider interface {
	Info() Info
}

// RealProvider reads metadata from the running system.
type RealProvider struct{}

// Info returns the hostname, platform and OS release of this machine.
func (RealProvider) Info() Info {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return Info{
		Hostname:  hostname,
		Platform:  Detect(),
		OSVersion: OSRelease(),
	}
}
