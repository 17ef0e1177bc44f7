/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// LocalWallClock is a calendar date and time with no zone attached. The same
// tuple names different physical instants in different zones; it only becomes
// an absolute time when paired with a zone through the Converter. Values are
// immutable once constructed.
type LocalWallClock struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// ParseWallClock validates a user-entered date and time pair. dateStr must be
// a real calendar date in YYYY-MM-DD form; timeStr must be HH:MM on the
// 24-hour clock. Malformed input is rejected, never defaulted.
func ParseWallClock(dateStr, timeStr string) (LocalWallClock, error) {
	d, err := time.Parse(dateLayout, dateStr)
	// The canonical round-trip rejects inputs the layout parser would
	// otherwise normalize, e.g. missing zero padding.
	if err != nil || d.Format(dateLayout) != dateStr {
		return LocalWallClock{}, &ParseError{Reason: ParseInvalidDate, Input: dateStr}
	}

	tm, err := time.Parse(timeLayout, timeStr)
	if err != nil || tm.Format(timeLayout) != timeStr {
		return LocalWallClock{}, &ParseError{Reason: ParseInvalidTime, Input: timeStr}
	}

	return LocalWallClock{
		Year:   d.Year(),
		Month:  int(d.Month()),
		Day:    d.Day(),
		Hour:   tm.Hour(),
		Minute: tm.Minute(),
	}, nil
}

// Before reports calendar ordering against other.
func (wc LocalWallClock) Before(other LocalWallClock) bool {
	return wc.naive().Before(other.naive())
}

// String renders the wall clock for display, e.g. "2025-06-15 14:30".
func (wc LocalWallClock) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", wc.Year, wc.Month, wc.Day, wc.Hour, wc.Minute)
}

// naive reads the wall-clock fields as if they were UTC. The result is not a
// physical instant; it is the fixed-point seed used by the Converter and the
// comparison key for calendar ordering.
func (wc LocalWallClock) naive() time.Time {
	return time.Date(wc.Year, time.Month(wc.Month), wc.Day, wc.Hour, wc.Minute, wc.Second, 0, time.UTC)
}
