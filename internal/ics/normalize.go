package ics

import (
	"time"

	"calpresence/internal/model"
)

// ReferenceLocation is the zone all dates are compared in: the feed's
// declared timezone if any, otherwise fallback (time.Local when nil).
func ReferenceLocation(feed Feed, fallback *time.Location) *time.Location {
	if feed.Timezone != nil && feed.Timezone.Location != nil {
		return feed.Timezone.Location
	}
	if fallback != nil {
		return fallback
	}
	return time.Local
}

// Normalize reduces a parsed feed to the events starting today.
//
// "Today" is the calendar day of now in the reference location and is
// computed once, so every kept event shares the same reference day. The
// returned asOf is now expressed in that location.
//
// Only the calendar-level timezone is used for conversion; per-event TZID
// values are honored solely through the parser's own instant.
func Normalize(feed Feed, now time.Time, fallback *time.Location) (time.Time, []model.CalendarEvent) {
	loc := ReferenceLocation(feed, fallback)
	asOf := now.In(loc)
	y, m, d := asOf.Date()

	events := make([]model.CalendarEvent, 0)
	for _, raw := range feed.Events {
		start := normalizeStart(raw, loc)
		sy, sm, sd := start.Date()
		if sy != y || sm != m || sd != d {
			continue
		}
		events = append(events, model.CalendarEvent{
			Name:  raw.Summary,
			Start: start,
		})
	}
	return asOf, events
}

func normalizeStart(raw RawEvent, loc *time.Location) time.Time {
	switch {
	case raw.AllDay:
		// A DATE value names a day, not an instant; keep the day.
		y, m, d := raw.Start.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case raw.Floating:
		y, m, d := raw.Start.Date()
		return time.Date(y, m, d, raw.Start.Hour(), raw.Start.Minute(), raw.Start.Second(), raw.Start.Nanosecond(), loc)
	default:
		return raw.Start.In(loc)
	}
}
