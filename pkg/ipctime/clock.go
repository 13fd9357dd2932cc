// Package ipctime provides the monotonic/realtime clock and duration
// primitives shared by every component that waits on a cross-process
// lock or stamps a published frame.
package ipctime

import (
	"math"
	"time"
)

// Time is a {sec, nsec} pair, matching the wire layout of a POSIX
// struct timespec so it can be written directly into a shared-memory
// region (see pkg/sharedarray's ts_sec/ts_nsec fields).
type Time struct {
	Sec  int64
	Nsec int64
}

// invalid is the sentinel produced by FromSeconds for NaN input.
var invalid = Time{Sec: 0, Nsec: -1}

// maxTime is the saturation value used for absolute deadlines computed
// from an overflowing duration; it mirrors the source's TIME_T_MAX
// sentinel.
var maxTime = Time{Sec: math.MaxInt64, Nsec: 999999999}

var minTime = Time{Sec: math.MinInt64, Nsec: 0}

// NowMonotonic returns the current monotonic-clock reading. Frame
// capture timestamps (pkg/sharedarray) are always monotonic so that
// consumers never observe time running backwards between publications.
func NowMonotonic() Time {
	return fromDuration(time.Duration(nowMonotonicNanos()))
}

// NowRealtime returns the current wall-clock reading, used only for
// absolute deadline computation (timed waits) and for human-facing
// logging/metrics, never for frame timestamps.
func NowRealtime() Time {
	now := time.Now()
	return Time{Sec: now.Unix(), Nsec: int64(now.Nanosecond())}
}

// nowMonotonicNanos returns a process-local monotonic nanosecond count.
// time.Now() already carries a monotonic reading in its internal
// representation; Sub against a fixed epoch extracts it without ever
// touching the wall-clock component.
var monotonicEpoch = time.Now()

func nowMonotonicNanos() int64 {
	return int64(time.Since(monotonicEpoch))
}

func fromDuration(d time.Duration) Time {
	return normalizeSigned(Time{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)})
}

// Add returns a + b, normalized.
func Add(a, b Time) Time {
	return Normalize(Time{Sec: a.Sec + b.Sec, Nsec: a.Nsec + b.Nsec})
}

// Sub returns a - b, normalized.
func Sub(a, b Time) Time {
	return normalizeSigned(Time{Sec: a.Sec - b.Sec, Nsec: a.Nsec - b.Nsec})
}

// ToSeconds converts t to a float64 number of seconds.
func ToSeconds(t Time) float64 {
	return float64(t.Sec) + float64(t.Nsec)/1e9
}

// FromSeconds builds a Time from a floating-point second count,
// saturating at the edges rather than overflowing: NaN maps to the
// {0,-1} invalid sentinel, values at or beyond
// math.MaxInt64 seconds saturate to the maximum representable Time,
// and symmetrically for the minimum.
func FromSeconds(s float64) Time {
	if math.IsNaN(s) {
		return invalid
	}
	if s >= float64(math.MaxInt64) {
		return Time{Sec: math.MaxInt64, Nsec: 0}
	}
	if s <= float64(math.MinInt64) {
		return Time{Sec: math.MinInt64, Nsec: 0}
	}
	sec := int64(math.Floor(s))
	nsec := int64(math.Round((s - math.Floor(s)) * 1e9))
	return Normalize(Time{Sec: sec, Nsec: nsec})
}

// Normalize reduces Nsec into [0, 1e9), carrying the remainder into
// Sec. It is idempotent: Normalize(Normalize(t)) == Normalize(t).
func Normalize(t Time) Time {
	if t.Nsec == -1 && t.Sec == 0 {
		// Invalid sentinel passes through untouched.
		return t
	}
	sec, nsec := t.Sec, t.Nsec
	if nsec >= 1e9 {
		sec += nsec / 1e9
		nsec %= 1e9
	} else if nsec < 0 {
		borrow := (-nsec + 1e9 - 1) / 1e9
		sec -= borrow
		nsec += borrow * 1e9
	}
	return Time{Sec: sec, Nsec: nsec}
}

// normalizeSigned is Normalize applied to differences: a negative
// total duration stays negative through Sec, while Nsec is still
// reduced into [0, 1e9).
func normalizeSigned(t Time) Time {
	return Normalize(t)
}

// AbsoluteDeadline reads realtime now and adds d, saturating to
// maxTime on overflow. d must be >= 0; the producer/consumer code
// that calls this always derives d from a caller-supplied
// non-negative timeout. Even the largest time.Duration (about 292
// years) stays far below the int64 second limit, so it yields a finite
// deadline.
func AbsoluteDeadline(d time.Duration) Time {
	now := NowRealtime()
	sec := d / time.Second
	nsec := d % time.Second
	if now.Sec > math.MaxInt64-int64(sec)-1 {
		return maxTime
	}
	return Normalize(Time{Sec: now.Sec + int64(sec), Nsec: now.Nsec + int64(nsec)})
}

// IsFinite reports whether deadline is not the saturated "never"
// sentinel produced by AbsoluteDeadline on overflow.
func IsFinite(deadline Time) bool {
	return deadline != maxTime
}

// Duration converts t to a time.Duration, for handing to a select/
// context timeout. Saturating Times clamp to the representable range.
func Duration(t Time) time.Duration {
	if t == maxTime {
		return time.Duration(math.MaxInt64)
	}
	if t == minTime {
		return time.Duration(math.MinInt64)
	}
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Nsec)
}
