package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calpresence/internal/log"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RawEvent is a VEVENT as read from the feed, before any timezone
// conversion or day filtering.
type RawEvent struct {
	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool
	// Floating is set when DTSTART carries neither a UTC marker nor a TZID
	// the runtime could load. Start then holds a wall-clock reading that the
	// normalizer re-anchors in the reference location.
	Floating  bool
	StartTZID string
}

// TimezoneDef is the calendar-level timezone declared by the feed.
type TimezoneDef struct {
	ID       string
	Location *time.Location
}

// Feed is the parsed form of one calendar document.
type Feed struct {
	Events   []RawEvent
	Timezone *TimezoneDef
}

// Parse parses a single ICS payload.
//
//   - An empty document, or one whose root component is not VCALENDAR,
//     fails with *ParseError.
//   - A document that stops before END:VCALENDAR fails with *ParseError
//     wrapping ErrTruncatedCalendar.
//   - A calendar with zero events is valid.
//   - VEVENTs without a usable DTSTART are logged and skipped; an empty
//     SUMMARY is kept.
//   - RRULE and friends are ignored: each VEVENT yields one RawEvent.
func Parse(body []byte) (Feed, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	if len(bytes.TrimSpace(body)) == 0 {
		return Feed{}, &ParseError{Err: ErrNoCalendarData}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return Feed{}, &ParseError{Err: err}
	}
	if cal == nil {
		return Feed{}, &ParseError{Err: ErrNoCalendarData}
	}
	if !endsCalendar(body) {
		return Feed{}, &ParseError{Err: ErrTruncatedCalendar}
	}

	var feed Feed
	feed.Timezone = calendarTimezone(cal)

	vevents := cal.Events()
	feed.Events = make([]RawEvent, 0, len(vevents))
	for _, ve := range vevents {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "uid", ve.Id(), "err", perr)
			continue
		}
		feed.Events = append(feed.Events, ev)
	}

	tzID := ""
	if feed.Timezone != nil {
		tzID = feed.Timezone.ID
	}
	appLog.Debug("ics parse completed", "event_count", len(feed.Events), "timezone", tzID)
	return feed, nil
}

// endsCalendar reports whether the last non-blank line closes the calendar.
func endsCalendar(body []byte) bool {
	trimmed := bytes.TrimRight(body, " \t\r\n")
	last := trimmed[bytes.LastIndexByte(trimmed, '\n')+1:]
	return bytes.EqualFold(bytes.TrimSpace(last), []byte("END:VCALENDAR"))
}

// calendarTimezone resolves the calendar-level zone: the first VTIMEZONE,
// then X-WR-TIMEZONE. Names the runtime cannot load are ignored.
func calendarTimezone(cal *ical.Calendar) *TimezoneDef {
	var candidates []string
	for _, tz := range cal.Timezones() {
		if p := tz.GetProperty(ical.ComponentPropertyTzid); p != nil && p.Value != "" {
			candidates = append(candidates, p.Value)
			break
		}
	}
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, string(ical.PropertyXWRTimezone)) && p.Value != "" {
			candidates = append(candidates, p.Value)
			break
		}
	}

	for _, id := range candidates {
		loc, err := time.LoadLocation(strings.TrimSpace(id))
		if err != nil {
			appLog.Warn("ics timezone not loadable; ignoring", "tzid", id, "err", err)
			continue
		}
		return &TimezoneDef{ID: id, Location: loc}
	}
	return nil
}

func parseVEvent(ve *ical.VEvent) (RawEvent, error) {
	var out RawEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	val := strings.TrimSpace(dtStart.Value)

	// VALUE=DATE or no 'T' in the value -> all-day
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(val, "T") {
		out.AllDay = true
	}
	if tzs, ok := dtStart.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		out.StartTZID = tzs[0]
	}
	utc := strings.HasSuffix(strings.ToUpper(val), "Z")

	start, err := ve.GetStartAt()
	switch {
	case err == nil:
		out.Start = start
		out.Floating = !utc && out.StartTZID == ""
	default:
		// Usually a TZID the runtime does not know (e.g. Windows zone
		// names). Keep the wall clock and let the normalizer anchor it.
		t, perr := parseICSTime(val)
		if perr != nil {
			return out, err
		}
		out.Start = t
		out.Floating = !utc
	}

	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	return out, nil
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Non-UTC values are read in time.Local and flagged floating by the caller.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, time.Local)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, time.Local)
}
