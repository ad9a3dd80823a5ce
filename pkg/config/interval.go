package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval is returned for a reporting interval outside the allowed set.
var ErrInvalidInterval = errors.New("interval must be one of 15, 30, 45 or 60 minutes")

// Interval is the period between scheduled check cycles, in minutes.
type Interval int

const (
	Interval15 Interval = 15
	Interval30 Interval = 30
	Interval45 Interval = 45
	Interval60 Interval = 60

	DefaultInterval = Interval30
)

// Intervals lists the allowed values in ascending order.
var Intervals = []Interval{Interval15, Interval30, Interval45, Interval60}

// ParseInterval accepts minutes as a bare number ("30") or a duration ("30m").
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return NewInterval(n)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d%time.Minute != 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return NewInterval(int(d / time.Minute))
}

// NewInterval validates minutes.
func NewInterval(minutes int) (Interval, error) {
	i := Interval(minutes)
	if !i.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidInterval, minutes)
	}
	return i, nil
}

func (i Interval) Valid() bool {
	for _, v := range Intervals {
		if i == v {
			return true
		}
	}
	return false
}

func (i Interval) Duration() time.Duration {
	return time.Duration(i) * time.Minute
}

func (i Interval) String() string {
	return fmt.Sprintf("%d minutes", int(i))
}
