package check

import "fmt"

// UnsupportedPlatform is the detail text every category reports on an unknown OS.
const UnsupportedPlatform = "Unsupported platform"

// ErrorDetails formats a probe error as check detail text.
func ErrorDetails(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

// FailDiskEncryption returns the fail-closed disk encryption result.
func FailDiskEncryption(details string) DiskEncryption {
	return DiskEncryption{Details: details}
}

// FailOSUpdates returns the fail-closed OS updates result.
func FailOSUpdates(details string) OSUpdates {
	return OSUpdates{Details: details}
}

// FailAntivirus returns the fail-closed antivirus result.
func FailAntivirus(details string) Antivirus {
	return Antivirus{Details: details}
}

// FailSleepSettings returns the fail-closed sleep settings result.
func FailSleepSettings(details string) SleepSettings {
	return SleepSettings{Details: details}
}

// Unsupported returns the degraded result set for a platform without probes.
func Unsupported() Checks {
	return Checks{
		DiskEncryption: FailDiskEncryption(UnsupportedPlatform),
		OSUpdates:      FailOSUpdates(UnsupportedPlatform),
		Antivirus:      FailAntivirus(UnsupportedPlatform),
		SleepSettings:  FailSleepSettings(UnsupportedPlatform),
	}
}
