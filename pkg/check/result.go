package check

// Status represents the compliance outcome of a check.
type Status string

const (
	StatusOK   Status = "OK"
	StatusFail Status = "FAIL"
)

// Category identifies one of the four compliance categories.
type Category string

const (
	CategoryDiskEncryption Category = "diskEncryption"
	CategoryOSUpdates      Category = "osUpdates"
	CategoryAntivirus      Category = "antivirus"
	CategorySleepSettings  Category = "sleepSettings"
)

// DiskEncryption reports whether the system volume is encrypted.
type DiskEncryption struct {
	Encrypted bool   `json:"encrypted"`
	Details   string `json:"details"`
}

// OSUpdates reports whether the operating system has pending updates.
type OSUpdates struct {
	UpToDate bool   `json:"upToDate"`
	Details  string `json:"details"`
}

// Antivirus reports presence and enablement of a malware scanner.
type Antivirus struct {
	Installed bool   `json:"installed"`
	Enabled   bool   `json:"enabled"`
	Details   string `json:"details"`
}

// SleepSettings reports the idle timeout after which the display or system sleeps.
type SleepSettings struct {
	Compliant      bool    `json:"compliant"`
	TimeoutMinutes float64 `json:"timeoutMinutes"`
	Details        string  `json:"details"`
}

// MaxSleepMinutes is the longest idle timeout still considered compliant.
const MaxSleepMinutes = 10

// NewSleepSettings derives compliance from a timeout in minutes.
func NewSleepSettings(minutes float64, details string) SleepSettings {
	return SleepSettings{
		Compliant:      minutes > 0 && minutes <= MaxSleepMinutes,
		TimeoutMinutes: minutes,
		Details:        details,
	}
}

// Checks is the fixed record of all four category results of a snapshot.
// All fields are comparable, so two Checks can be compared with ==.
type Checks struct {
	DiskEncryption DiskEncryption `json:"diskEncryption"`
	OSUpdates      OSUpdates      `json:"osUpdates"`
	Antivirus      Antivirus      `json:"antivirus"`
	SleepSettings  SleepSettings  `json:"sleepSettings"`
}

// HasIssues reports whether any category is non-compliant.
func (c Checks) HasIssues() bool {
	return !c.DiskEncryption.Encrypted ||
		!c.OSUpdates.UpToDate ||
		!c.Antivirus.Enabled ||
		!c.SleepSettings.Compliant
}

// Severe reports an unencrypted disk combined with either disabled antivirus
// or pending updates.
func (c Checks) Severe() bool {
	unencrypted := !c.DiskEncryption.Encrypted
	return (unencrypted && !c.Antivirus.Enabled) || (unencrypted && !c.OSUpdates.UpToDate)
}

// Result is a flattened, category-agnostic view of one check, used for display.
type Result struct {
	Category Category
	Status   Status
	Details  []string
}

// OK returns true if the check is compliant.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Results returns the four checks in display order.
func (c Checks) Results() []Result {
	return []Result{
		newResult(CategoryDiskEncryption, c.DiskEncryption.Encrypted, c.DiskEncryption.Details),
		newResult(CategoryOSUpdates, c.OSUpdates.UpToDate, c.OSUpdates.Details),
		newResult(CategoryAntivirus, c.Antivirus.Enabled, c.Antivirus.Details),
		newResult(CategorySleepSettings, c.SleepSettings.Compliant, c.SleepSettings.Details),
	}
}

func newResult(category Category, ok bool, details string) Result {
	r := Result{Category: category, Status: StatusFail}
	if ok {
		r.Status = StatusOK
	}
	if details != "" {
		r.Details = append(r.Details, details)
	}
	return r
}
