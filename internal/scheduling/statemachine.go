/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import "time"

// Status enumerates the publication lifecycle states of a post.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// PostSchedule is a snapshot of a post's publication lifecycle. Transitions
// return a new snapshot and never mutate the receiver, so snapshots can be
// shared across goroutines freely; the persistence layer owns
// read-modify-write atomicity.
//
// ScheduledAt is set iff Status is StatusScheduled. It is the only persisted
// time form: an absolute UTC instant with no calendar ambiguity.
type PostSchedule struct {
	Status         Status
	ScheduledAt    *time.Time
	ScheduledLocal string
	ScheduledZone  string
}

// NewPostSchedule returns the initial lifecycle snapshot.
func NewPostSchedule() PostSchedule {
	return PostSchedule{Status: StatusDraft}
}

// ScheduleRequest carries a candidate publish instant into a transition.
// Ephemeral; constructed per call, never persisted.
type ScheduleRequest struct {
	At             time.Time
	Local          LocalWallClock
	Zone           string
	MinLeadMinutes int
}

// Schedule moves a Draft, Failed, or already-Scheduled post to Scheduled,
// replacing any previous instant. The validator guards the transition; on
// guard failure the snapshot is returned unchanged alongside the error.
func (ps PostSchedule) Schedule(req ScheduleRequest, nowUTC time.Time) (PostSchedule, error) {
	switch ps.Status {
	case StatusDraft, StatusScheduled, StatusFailed:
	default:
		return ps, &TransitionError{From: ps.Status, Event: "schedule"}
	}

	if err := Validate(req.At, nowUTC, req.MinLeadMinutes); err != nil {
		return ps, err
	}

	at := req.At.UTC()
	return PostSchedule{
		Status:         StatusScheduled,
		ScheduledAt:    &at,
		ScheduledLocal: req.Local.String(),
		ScheduledZone:  req.Zone,
	}, nil
}

// DispatchSucceeded moves a Scheduled post to Published once the dispatch
// collaborator reports success. The guard requires the scheduled instant to
// have elapsed; a success report before that point is a caller bug.
func (ps PostSchedule) DispatchSucceeded(nowUTC time.Time) (PostSchedule, error) {
	if ps.Status != StatusScheduled || ps.ScheduledAt == nil {
		return ps, &TransitionError{From: ps.Status, Event: "dispatch_succeeded"}
	}
	if nowUTC.Before(*ps.ScheduledAt) {
		return ps, &TransitionError{From: ps.Status, Event: "dispatch_succeeded"}
	}
	return PostSchedule{Status: StatusPublished}, nil
}

// DispatchFailed moves a Scheduled post to Failed. The local display fields
// are retained so the UI can offer rescheduling from the previous choice.
func (ps PostSchedule) DispatchFailed() (PostSchedule, error) {
	if ps.Status != StatusScheduled {
		return ps, &TransitionError{From: ps.Status, Event: "dispatch_failed"}
	}
	return PostSchedule{
		Status:         StatusFailed,
		ScheduledLocal: ps.ScheduledLocal,
		ScheduledZone:  ps.ScheduledZone,
	}, nil
}

// Abandon moves a Failed post back to Draft.
func (ps PostSchedule) Abandon() (PostSchedule, error) {
	if ps.Status != StatusFailed {
		return ps, &TransitionError{From: ps.Status, Event: "abandon"}
	}
	return PostSchedule{Status: StatusDraft}, nil
}
