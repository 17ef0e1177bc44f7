/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"errors"
	"testing"
	"time"
)

func scheduleFixture(t *testing.T) (PostSchedule, time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ps := NewPostSchedule()

	req := ScheduleRequest{
		At:             time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC),
		Local:          LocalWallClock{Year: 2025, Month: 6, Day: 15, Hour: 14, Minute: 30},
		Zone:           "America/New_York",
		MinLeadMinutes: DefaultMinLeadMinutes,
	}
	scheduled, err := ps.Schedule(req, now)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return scheduled, req.At
}

func TestLifecycleHappyPath(t *testing.T) {
	ps := NewPostSchedule()
	if ps.Status != StatusDraft {
		t.Fatalf("initial status = %q, want %q", ps.Status, StatusDraft)
	}
	if ps.ScheduledAt != nil {
		t.Fatalf("draft carries ScheduledAt %v, want nil", ps.ScheduledAt)
	}

	scheduled, at := scheduleFixture(t)
	if scheduled.Status != StatusScheduled {
		t.Fatalf("status after Schedule = %q, want %q", scheduled.Status, StatusScheduled)
	}
	if scheduled.ScheduledAt == nil || !scheduled.ScheduledAt.Equal(at) {
		t.Fatalf("ScheduledAt = %v, want %v", scheduled.ScheduledAt, at)
	}
	if scheduled.ScheduledLocal != "2025-06-15 14:30" {
		t.Fatalf("ScheduledLocal = %q, want %q", scheduled.ScheduledLocal, "2025-06-15 14:30")
	}
	if scheduled.ScheduledZone != "America/New_York" {
		t.Fatalf("ScheduledZone = %q, want %q", scheduled.ScheduledZone, "America/New_York")
	}

	published, err := scheduled.DispatchSucceeded(at.Add(time.Second))
	if err != nil {
		t.Fatalf("DispatchSucceeded: %v", err)
	}
	if published.Status != StatusPublished {
		t.Fatalf("status = %q, want %q", published.Status, StatusPublished)
	}
	if published.ScheduledAt != nil {
		t.Fatalf("published post carries ScheduledAt %v, want nil", published.ScheduledAt)
	}
}

func TestReschedule(t *testing.T) {
	scheduled, _ := scheduleFixture(t)
	now := time.Date(2025, 6, 15, 12, 5, 0, 0, time.UTC)

	later := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	req := ScheduleRequest{
		At:             later,
		Local:          LocalWallClock{Year: 2025, Month: 6, Day: 16, Hour: 6},
		Zone:           "America/New_York",
		MinLeadMinutes: DefaultMinLeadMinutes,
	}
	rescheduled, err := scheduled.Schedule(req, now)
	if err != nil {
		t.Fatalf("Schedule from scheduled: %v", err)
	}
	if rescheduled.ScheduledAt == nil || !rescheduled.ScheduledAt.Equal(later) {
		t.Fatalf("ScheduledAt = %v, want %v", rescheduled.ScheduledAt, later)
	}
	if rescheduled.ScheduledLocal != "2025-06-16 06:00" {
		t.Fatalf("ScheduledLocal = %q, want replaced value", rescheduled.ScheduledLocal)
	}
}

func TestScheduleGuardFailureLeavesStateUnchanged(t *testing.T) {
	ps := NewPostSchedule()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	req := ScheduleRequest{
		At:             now.Add(time.Minute), // inside the lead window
		Zone:           "UTC",
		MinLeadMinutes: DefaultMinLeadMinutes,
	}
	got, err := ps.Schedule(req, now)
	var schedErr *SchedulingError
	if !errors.As(err, &schedErr) || schedErr.Reason != ScheduleTooSoon {
		t.Fatalf("Schedule err = %v, want ScheduleTooSoon", err)
	}
	if got != ps {
		t.Fatalf("snapshot changed on guard failure: %+v", got)
	}
}

func TestDispatchFailedRetainsLocalFields(t *testing.T) {
	scheduled, _ := scheduleFixture(t)

	failed, err := scheduled.DispatchFailed()
	if err != nil {
		t.Fatalf("DispatchFailed: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", failed.Status, StatusFailed)
	}
	if failed.ScheduledAt != nil {
		t.Fatalf("failed post carries ScheduledAt %v, want nil", failed.ScheduledAt)
	}
	if failed.ScheduledLocal != scheduled.ScheduledLocal || failed.ScheduledZone != scheduled.ScheduledZone {
		t.Fatalf("local display fields not retained: %+v", failed)
	}
}

func TestFailedPostCanReschedule(t *testing.T) {
	scheduled, _ := scheduleFixture(t)
	failed, err := scheduled.DispatchFailed()
	if err != nil {
		t.Fatalf("DispatchFailed: %v", err)
	}

	now := time.Date(2025, 6, 15, 19, 0, 0, 0, time.UTC)
	req := ScheduleRequest{
		At:             now.Add(time.Hour),
		Local:          LocalWallClock{Year: 2025, Month: 6, Day: 15, Hour: 16},
		Zone:           "America/New_York",
		MinLeadMinutes: DefaultMinLeadMinutes,
	}
	rescheduled, err := failed.Schedule(req, now)
	if err != nil {
		t.Fatalf("Schedule from failed: %v", err)
	}
	if rescheduled.Status != StatusScheduled {
		t.Fatalf("status = %q, want %q", rescheduled.Status, StatusScheduled)
	}
}

func TestAbandon(t *testing.T) {
	scheduled, _ := scheduleFixture(t)
	failed, err := scheduled.DispatchFailed()
	if err != nil {
		t.Fatalf("DispatchFailed: %v", err)
	}

	draft, err := failed.Abandon()
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if draft.Status != StatusDraft || draft.ScheduledAt != nil {
		t.Fatalf("Abandon = %+v, want clean draft", draft)
	}

	if _, err := scheduled.Abandon(); err == nil {
		t.Fatalf("Abandon from scheduled succeeded, want TransitionError")
	}
}

func TestDispatchGuards(t *testing.T) {
	scheduled, at := scheduleFixture(t)

	// Success reported before the instant elapses is a caller bug.
	if _, err := scheduled.DispatchSucceeded(at.Add(-time.Second)); err == nil {
		t.Fatalf("early DispatchSucceeded succeeded, want TransitionError")
	}
	// Exactly at the instant is fine.
	if _, err := scheduled.DispatchSucceeded(at); err != nil {
		t.Fatalf("DispatchSucceeded at instant: %v", err)
	}

	published, err := scheduled.DispatchSucceeded(at.Add(time.Second))
	if err != nil {
		t.Fatalf("DispatchSucceeded: %v", err)
	}

	now := time.Date(2025, 6, 15, 19, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name string
		call func() error
	}{
		{"schedule published", func() error {
			_, err := published.Schedule(ScheduleRequest{At: now.Add(time.Hour), Zone: "UTC", MinLeadMinutes: 2}, now)
			return err
		}},
		{"dispatch draft", func() error {
			_, err := NewPostSchedule().DispatchSucceeded(now)
			return err
		}},
		{"fail draft", func() error {
			_, err := NewPostSchedule().DispatchFailed()
			return err
		}},
		{"fail published", func() error {
			_, err := published.DispatchFailed()
			return err
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var transErr *TransitionError
			if !errors.As(err, &transErr) {
				t.Fatalf("err = %v, want TransitionError", err)
			}
		})
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusScheduled, StatusPublished, StatusFailed} {
		if !ValidStatus(s) {
			t.Fatalf("ValidStatus(%q) = false", s)
		}
	}
	if ValidStatus("archived") {
		t.Fatalf("ValidStatus(archived) = true, want false")
	}
}
