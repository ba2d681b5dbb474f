package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support day and week units in YAML.
type Duration time.Duration

// Common durations.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration parses a duration string. On top of time.ParseDuration it
// accepts d (day) and w (week), alone or combined ("2d12h").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.ContainsAny(s, "dw") {
		return parseExtendedDuration(s)
	}
	return time.ParseDuration(s)
}

var units = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  Day,
	"w":  Week,
}

var durationPart = regexp.MustCompile(`([0-9]*\.?[0-9]+)([a-zµ]+)`)

// parseExtendedDuration sums value/unit pairs. Every byte of s must belong
// to a pair.
func parseExtendedDuration(s string) (time.Duration, error) {
	var total time.Duration
	consumed := 0
	for _, loc := range durationPart.FindAllStringSubmatchIndex(s, -1) {
		if loc[0] != consumed {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		consumed = loc[1]

		val, err := strconv.ParseFloat(s[loc[2]:loc[3]], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in duration %q: %w", s, err)
		}
		unit, ok := units[s[loc[4]:loc[5]]]
		if !ok {
			return 0, fmt.Errorf("unknown unit %q in duration %q", s[loc[4]:loc[5]], s)
		}
		total += time.Duration(val * float64(unit))
	}
	if consumed == 0 || consumed != len(s) {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return total, nil
}
