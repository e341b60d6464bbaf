package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNormalizeDayFilter(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	feed := Feed{
		Timezone: &TimezoneDef{ID: "Europe/Berlin", Location: berlin},
		Events: []RawEvent{
			{Summary: "yesterday", Start: time.Date(2026, 10, 17, 23, 30, 0, 0, berlin)},
			{Summary: "today early", Start: time.Date(2026, 10, 18, 0, 0, 0, 0, berlin)},
			{Summary: "today late", Start: time.Date(2026, 10, 18, 23, 59, 0, 0, berlin)},
			{Summary: "tomorrow", Start: time.Date(2026, 10, 19, 0, 0, 0, 0, berlin)},
		},
	}
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, berlin)

	asOf, events := Normalize(feed, now, time.UTC)

	assert.Equal(t, berlin, asOf.Location())
	assert.True(t, asOf.Equal(now))
	require.Len(t, events, 2)
	assert.Equal(t, "today early", events[0].Name)
	assert.Equal(t, "today late", events[1].Name)
}

func TestNormalizeConvertsIntoFeedZone(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	// 22:30 UTC on the 17th is 00:30 on the 18th in Berlin (CEST, +2).
	feed := Feed{
		Timezone: &TimezoneDef{ID: "Europe/Berlin", Location: berlin},
		Events:   []RawEvent{{Summary: "late night", Start: time.Date(2026, 10, 17, 22, 30, 0, 0, time.UTC)}},
	}
	now := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

	_, events := Normalize(feed, now, time.UTC)

	require.Len(t, events, 1)
	assert.Equal(t, berlin, events[0].Start.Location())
	assert.Equal(t, 0, events[0].Start.Hour())
}

func TestNormalizeWithoutFeedZoneUsesFallback(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	// 02:00 UTC on the 18th is still the 17th in New York.
	feed := Feed{Events: []RawEvent{{Summary: "utc event", Start: time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC)}}}

	_, events := Normalize(feed, time.Date(2026, 10, 18, 15, 0, 0, 0, ny), ny)
	assert.Empty(t, events)

	_, events = Normalize(feed, time.Date(2026, 10, 17, 15, 0, 0, 0, ny), ny)
	assert.Len(t, events, 1)
}

func TestNormalizeFloatingAndAllDayKeepWallClock(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	feed := Feed{Events: []RawEvent{
		{Summary: "floating", Start: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), Floating: true},
		{Summary: "all day", Start: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), AllDay: true, Floating: true},
	}}

	_, events := Normalize(feed, time.Date(2026, 10, 18, 20, 0, 0, 0, tokyo), tokyo)

	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 0, 0, 0, tokyo), events[0].Start)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, tokyo), events[1].Start)
}

func TestNormalizeNilFallbackIsLocal(t *testing.T) {
	assert.Equal(t, time.Local, ReferenceLocation(Feed{}, nil))
}

func TestNormalizeEmptyFeed(t *testing.T) {
	_, events := Normalize(Feed{}, time.Now(), time.UTC)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}
