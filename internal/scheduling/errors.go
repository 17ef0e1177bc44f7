/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import "fmt"

// ParseReason classifies wall-clock parse failures.
type ParseReason string

const (
	ParseInvalidDate ParseReason = "invalid_date"
	ParseInvalidTime ParseReason = "invalid_time"
)

// ParseError reports malformed or non-existent wall-clock input. It is also
// returned when a syntactically valid wall clock falls inside a
// spring-forward gap and therefore names no local time at all.
type ParseError struct {
	Reason ParseReason
	Input  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.Reason, e.Input)
}

// UnknownZoneError reports an IANA zone identifier the resolver does not
// recognize. Unresolved zones are a hard error; the engine never falls back
// to UTC.
type UnknownZoneError struct {
	Zone string
}

func (e *UnknownZoneError) Error() string {
	return fmt.Sprintf("unknown timezone %q", e.Zone)
}

// ScheduleReason classifies validation failures.
type ScheduleReason string

const (
	ScheduleTooSoon ScheduleReason = "too_soon"
	ScheduleInvalid ScheduleReason = "invalid"
)

// SchedulingError reports a candidate instant that violates publish policy.
// MinLeadMinutes carries the violated threshold so the UI can render an
// actionable message.
type SchedulingError struct {
	Reason         ScheduleReason
	MinLeadMinutes int
}

func (e *SchedulingError) Error() string {
	if e.Reason == ScheduleTooSoon {
		return fmt.Sprintf("scheduled time must be at least %d minutes in the future", e.MinLeadMinutes)
	}
	return string(e.Reason)
}

// TransitionError reports a lifecycle event applied in a state that does not
// permit it. This indicates a caller contract violation, not user error;
// callers should log it and leave state unchanged.
type TransitionError struct {
	From  Status
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q not permitted in state %q", e.Event, e.From)
}
