//go:build windows

package hostinfo

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// OSRelease returns the Windows version as major.minor.build.
// RtlGetVersion reports the real version regardless of the application manifest.
func OSRelease() string {
	v := windows.RtlGetVersion()
	return fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}
