/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import "time"

// maxOffsetIterations bounds the fixed-point correction. An offset can change
// at most once within the narrow window the correction moves the candidate
// through, so two passes always suffice.
const maxOffsetIterations = 2

// overlapProbe is how far around a candidate the converter looks for the
// other offset of a fall-back overlap. DST transitions in the same zone are
// months apart, so twelve hours cannot cross a second transition.
const overlapProbe = 12 * time.Hour

// Converter turns local wall-clock values into UTC instants and back using a
// TimezoneResolver. It holds no state beyond the resolver and is safe for
// concurrent use.
type Converter struct {
	resolver TimezoneResolver
}

// NewConverter creates a converter backed by the given resolver.
func NewConverter(resolver TimezoneResolver) *Converter {
	return &Converter{resolver: resolver}
}

// ToUTC computes the UTC instant at which the wall clock reads wc in the
// given zone.
//
// The UTC offset depends on the instant, and the instant is what is being
// computed, so a single offset lookup is not exact near a DST boundary. The
// candidate is seeded by reading the wall-clock fields as UTC and corrected
// by fixed-point iteration on the offset.
//
// A wall clock inside a spring-forward gap names no local time and yields a
// ParseError with ParseInvalidDate. A wall clock inside a fall-back overlap
// occurs twice; the earlier occurrence (pre-transition offset) is returned,
// deterministically.
func (c *Converter) ToUTC(wc LocalWallClock, zone string) (time.Time, error) {
	seed := wc.naive()

	offset, err := c.resolver.OffsetMinutesAt(zone, seed)
	if err != nil {
		return time.Time{}, err
	}

	candidate := seed.Add(-offsetDuration(offset))
	offsets := []int{offset}
	for i := 0; i < maxOffsetIterations; i++ {
		next, err := c.resolver.OffsetMinutesAt(zone, candidate)
		if err != nil {
			return time.Time{}, err
		}
		if next == offset {
			break
		}
		offset = next
		offsets = append(offsets, next)
		candidate = seed.Add(-offsetDuration(next))
	}

	// A fall-back overlap maps the same wall clock through two offsets, and
	// the iteration converges on only one of them. Probe either side of the
	// candidate so both occurrences are considered.
	for _, probe := range []time.Time{candidate.Add(-overlapProbe), candidate.Add(overlapProbe)} {
		off, err := c.resolver.OffsetMinutesAt(zone, probe)
		if err != nil {
			return time.Time{}, err
		}
		offsets = append(offsets, off)
	}

	var best time.Time
	seen := make(map[int]struct{}, len(offsets))
	for _, off := range offsets {
		if _, dup := seen[off]; dup {
			continue
		}
		seen[off] = struct{}{}

		cand := seed.Add(-offsetDuration(off))
		ok, err := c.reproduces(cand, zone, wc)
		if err != nil {
			return time.Time{}, err
		}
		if ok && (best.IsZero() || cand.Before(best)) {
			best = cand
		}
	}

	if best.IsZero() {
		// No offset maps this wall clock back onto itself: the time falls in
		// a spring-forward gap and does not exist in the zone.
		return time.Time{}, &ParseError{Reason: ParseInvalidDate, Input: wc.String()}
	}
	return best, nil
}

// ToLocalDisplay is the inverse of ToUTC, used for UI echo. For any wall
// clock outside a DST gap, ToLocalDisplay(ToUTC(wc, zone), zone) == wc.
func (c *Converter) ToLocalDisplay(utc time.Time, zone string) (LocalWallClock, error) {
	offset, err := c.resolver.OffsetMinutesAt(zone, utc)
	if err != nil {
		return LocalWallClock{}, err
	}
	local := utc.UTC().Add(offsetDuration(offset))
	return LocalWallClock{
		Year:   local.Year(),
		Month:  int(local.Month()),
		Day:    local.Day(),
		Hour:   local.Hour(),
		Minute: local.Minute(),
		Second: local.Second(),
	}, nil
}

// reproduces reports whether reading candidate in the zone yields wc again.
func (c *Converter) reproduces(candidate time.Time, zone string, wc LocalWallClock) (bool, error) {
	got, err := c.ToLocalDisplay(candidate, zone)
	if err != nil {
		return false, err
	}
	return got == wc, nil
}

func offsetDuration(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}
