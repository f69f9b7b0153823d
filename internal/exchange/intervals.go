package exchange

import (
	"fmt"
	"time"
)

// Interval durations. Matching is case-sensitive: "1m" is one minute,
// "1M" is one month.
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// ValidInterval reports whether s is a supported kline interval.
func ValidInterval(s string) bool {
	_, ok := intervalDurations[s]
	return ok
}

// IntervalDuration returns the duration of one bar of the given interval.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
	return d, nil
}

// DefaultWindow computes the [startMs, endMs) request window for a kline
// query without explicit bounds: endMs is one bar past now so the still-open
// bar is included, startMs reaches back limit bars.
func DefaultWindow(interval string, limit int, now time.Time) (startMs, endMs int64, err error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return 0, 0, err
	}
	endMs = now.UnixMilli() + d.Milliseconds()
	startMs = endMs - int64(limit)*d.Milliseconds()
	return startMs, endMs, nil
}

// Intervals returns the supported interval names.
func Intervals() []string {
	out := make([]string, 0, len(intervalDurations))
	for k := range intervalDurations {
		out = append(out, k)
	}
	return out
}
