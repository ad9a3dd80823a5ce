//go:build !(linux || darwin || freebsd || netbsd || openbsd || windows)

package hostinfo

// OSRelease is not available on this platform.
func OSRelease() string {
	return ""
}
