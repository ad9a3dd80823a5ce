//go:build linux || darwin || freebsd || netbsd || openbsd

package hostinfo

import "golang.org/x/sys/unix"

// OSRelease returns the kernel release string, e.g. "6.8.0-45-generic" or "23.5.0".
func OSRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}
