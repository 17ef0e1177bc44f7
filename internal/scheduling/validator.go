/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import "time"

// DefaultMinLeadMinutes is the product-wide minimum lead time between "now"
// and a scheduled publish instant. Callers may pass a different policy value;
// surfaces with stricter requirements override it through config.
const DefaultMinLeadMinutes = 2

// Validate checks a candidate publish instant against policy. It performs a
// pure comparison: nowUTC is supplied by the caller at the moment of
// validation and is never read from the system clock, so identical arguments
// always yield identical results.
func Validate(candidateUTC, nowUTC time.Time, minLeadMinutes int) error {
	if candidateUTC.IsZero() || nowUTC.IsZero() || minLeadMinutes < 0 {
		return &SchedulingError{Reason: ScheduleInvalid, MinLeadMinutes: minLeadMinutes}
	}

	earliest := nowUTC.Add(time.Duration(minLeadMinutes) * time.Minute)
	// Exactly at the boundary is accepted.
	if candidateUTC.Before(earliest) {
		return &SchedulingError{Reason: ScheduleTooSoon, MinLeadMinutes: minLeadMinutes}
	}
	return nil
}
