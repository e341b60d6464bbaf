package model

import "time"

// CalendarEvent is a feed event reduced to what presence matching needs:
// its summary and its start instant in the reference timezone.
type CalendarEvent struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// Snapshot is the materialized view of "today's events".
//
// The zero value is the Empty variant. NewSnapshot builds the Populated
// variant. A Snapshot is never modified after construction; the cache
// replaces it wholesale.
type Snapshot struct {
	populated   bool
	asOf        time.Time
	eventsToday []CalendarEvent
}

// NewSnapshot returns a Populated snapshot. The events slice is copied.
func NewSnapshot(asOf time.Time, events []CalendarEvent) Snapshot {
	cp := make([]CalendarEvent, len(events))
	copy(cp, events)
	return Snapshot{
		populated:   true,
		asOf:        asOf,
		eventsToday: cp,
	}
}

// Populated reports whether the snapshot holds the result of a refresh.
func (s Snapshot) Populated() bool {
	return s.populated
}

// AsOf returns the refresh instant and false for an Empty snapshot.
func (s Snapshot) AsOf() (time.Time, bool) {
	return s.asOf, s.populated
}

// EventsToday returns a copy of the events, nil for an Empty snapshot.
func (s Snapshot) EventsToday() []CalendarEvent {
	if !s.populated {
		return nil
	}
	cp := make([]CalendarEvent, len(s.eventsToday))
	copy(cp, s.eventsToday)
	return cp
}

// Len returns the number of events without copying.
func (s Snapshot) Len() int {
	return len(s.eventsToday)
}

// Each calls fn for every event until fn returns false. It avoids the copy
// made by EventsToday on hot read paths.
func (s Snapshot) Each(fn func(CalendarEvent) bool) {
	for _, ev := range s.eventsToday {
		if !fn(ev) {
			return
		}
	}
}

// PresenceState is a published presence reading for one device name.
type PresenceState struct {
	Device  string    `json:"device"`
	Present bool      `json:"present"`
	At      time.Time `json:"at"`
}
