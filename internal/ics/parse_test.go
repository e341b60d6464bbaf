package ics

import (
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calendar wraps body lines in a VCALENDAR with CRLF line endings.
func calendar(lines ...string) []byte {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//calpresence//test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func vevent(uid, summary, dtstart string) []string {
	lines := []string{"BEGIN:VEVENT", "UID:" + uid, "DTSTAMP:20261001T000000Z"}
	if summary != "-" {
		lines = append(lines, "SUMMARY:"+summary)
	}
	if dtstart != "" {
		lines = append(lines, dtstart)
	}
	return append(lines, "END:VEVENT")
}

var berlinTimezone = []string{
	"BEGIN:VTIMEZONE",
	"TZID:Europe/Berlin",
	"BEGIN:STANDARD",
	"DTSTART:19701025T030000",
	"TZOFFSETFROM:+0200",
	"TZOFFSETTO:+0100",
	"TZNAME:CET",
	"END:STANDARD",
	"END:VTIMEZONE",
}

func TestParseWithTimezone(t *testing.T) {
	lines := append([]string{}, berlinTimezone...)
	lines = append(lines, vevent("1", "Dentist", "DTSTART;TZID=Europe/Berlin:20261018T090000")...)

	feed, err := Parse(calendar(lines...))
	require.NoError(t, err)

	require.NotNil(t, feed.Timezone)
	assert.Equal(t, "Europe/Berlin", feed.Timezone.ID)
	require.Len(t, feed.Events, 1)

	berlin, _ := time.LoadLocation("Europe/Berlin")
	ev := feed.Events[0]
	assert.Equal(t, "Dentist", ev.Summary)
	assert.Equal(t, "1", ev.UID)
	assert.True(t, ev.Start.Equal(time.Date(2026, 10, 18, 9, 0, 0, 0, berlin)))
	assert.False(t, ev.Floating)
	assert.False(t, ev.AllDay)
	assert.Equal(t, "Europe/Berlin", ev.StartTZID)
}

func TestParseRootNotCalendar(t *testing.T) {
	body := []byte(strings.Join(vevent("1", "Dentist", "DTSTART:20261018T090000Z"), "\r\n"))

	_, err := Parse(body)
	require.Error(t, err)

	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestParseEmptyDocument(t *testing.T) {
	for _, body := range [][]byte{nil, []byte(""), []byte("  \r\n\r\n")} {
		_, err := Parse(body)
		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.ErrorIs(t, err, ErrNoCalendarData)
	}
}

func TestParseNotICSAtAll(t *testing.T) {
	_, err := Parse([]byte("<html><body>login required</body></html>"))

	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestParseZeroEvents(t *testing.T) {
	feed, err := Parse(calendar())
	require.NoError(t, err)
	assert.Empty(t, feed.Events)
	assert.Nil(t, feed.Timezone)
}

func TestParseKeepsEmptySummary(t *testing.T) {
	feed, err := Parse(calendar(vevent("1", "-", "DTSTART:20261018T090000Z")...))
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, "", feed.Events[0].Summary)
}

func TestParseSkipsEventWithoutStart(t *testing.T) {
	lines := vevent("1", "No start", "")
	lines = append(lines, vevent("2", "Gym", "DTSTART:20261018T170000Z")...)

	feed, err := Parse(calendar(lines...))
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, "Gym", feed.Events[0].Summary)
}

func TestParseUTCAndFloating(t *testing.T) {
	lines := vevent("1", "utc", "DTSTART:20261018T090000Z")
	lines = append(lines, vevent("2", "floating", "DTSTART:20261018T090000")...)
	lines = append(lines, vevent("3", "windows zone", "DTSTART;TZID=W. Europe Standard Time:20261018T090000")...)

	feed, err := Parse(calendar(lines...))
	require.NoError(t, err)
	require.Len(t, feed.Events, 3)

	assert.False(t, feed.Events[0].Floating)
	assert.True(t, feed.Events[0].Start.Equal(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)))

	assert.True(t, feed.Events[1].Floating)
	assert.Equal(t, 9, feed.Events[1].Start.Hour())

	assert.True(t, feed.Events[2].Floating)
	assert.Equal(t, "W. Europe Standard Time", feed.Events[2].StartTZID)
	assert.Equal(t, 9, feed.Events[2].Start.Hour())
}

func TestParseAllDay(t *testing.T) {
	feed, err := Parse(calendar(vevent("1", "Holiday", "DTSTART;VALUE=DATE:20261018")...))
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)

	ev := feed.Events[0]
	assert.True(t, ev.AllDay)
	y, m, d := ev.Start.Date()
	assert.Equal(t, []int{2026, 10, 18}, []int{y, int(m), d})
}

func TestParseXWRTimezone(t *testing.T) {
	feed, err := Parse(calendar("X-WR-TIMEZONE:America/New_York"))
	require.NoError(t, err)
	require.NotNil(t, feed.Timezone)
	assert.Equal(t, "America/New_York", feed.Timezone.ID)
}

func TestParseUnknownCalendarTimezoneIgnored(t *testing.T) {
	feed, err := Parse(calendar("X-WR-TIMEZONE:Mars/Olympus_Mons"))
	require.NoError(t, err)
	assert.Nil(t, feed.Timezone)
}

func TestParseStripsBOM(t *testing.T) {
	body := append([]byte{0xEF, 0xBB, 0xBF}, calendar(vevent("1", "Dentist", "DTSTART:20261018T090000Z")...)...)

	feed, err := Parse(body)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 1)
}

func TestParseTruncatedCalendar(t *testing.T) {
	full := string(calendar(vevent("1", "Dentist", "DTSTART:20261018T090000Z")...))
	cut := strings.TrimSuffix(strings.TrimRight(full, "\r\n"), "END:VCALENDAR")

	for name, body := range map[string]string{
		"header only":    "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n",
		"after an event": cut,
		"mid event":      "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nUID:1\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}

	_, err := Parse([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\n"))
	assert.ErrorIs(t, err, ErrTruncatedCalendar)

	_, err = Parse([]byte(full + "\r\n\r\n"))
	assert.NoError(t, err)
}
