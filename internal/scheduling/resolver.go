/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"sync"
	"time"
)

// TimezoneResolver reports the UTC offset of an IANA zone at a given instant.
// The offset is a function of the instant, not a per-zone constant, so
// implementations must reflect daylight-saving transitions.
type TimezoneResolver interface {
	OffsetMinutesAt(zone string, at time.Time) (int, error)
}

// LocationResolver resolves zones against the host IANA timezone database,
// caching loaded locations. Safe for concurrent use.
type LocationResolver struct {
	mu        sync.RWMutex
	locations map[string]*time.Location
}

// NewLocationResolver creates an empty resolver.
func NewLocationResolver() *LocationResolver {
	return &LocationResolver{locations: make(map[string]*time.Location)}
}

// OffsetMinutesAt returns the zone's UTC offset in minutes at the given
// instant. An unrecognized zone id is an UnknownZoneError.
func (r *LocationResolver) OffsetMinutesAt(zone string, at time.Time) (int, error) {
	loc, err := r.location(zone)
	if err != nil {
		return 0, err
	}
	_, offsetSeconds := at.In(loc).Zone()
	return offsetSeconds / 60, nil
}

func (r *LocationResolver) location(zone string) (*time.Location, error) {
	r.mu.RLock()
	loc, ok := r.locations[zone]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}

	// "" and "Local" are accepted by time.LoadLocation but are not IANA
	// identifiers; treating them as valid would reintroduce machine-local
	// interpretation of user input.
	if zone == "" || zone == "Local" {
		return nil, &UnknownZoneError{Zone: zone}
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, &UnknownZoneError{Zone: zone}
	}

	r.mu.Lock()
	r.locations[zone] = loc
	r.mu.Unlock()
	return loc, nil
}
