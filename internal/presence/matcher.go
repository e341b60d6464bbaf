// Package presence answers whether a named device is currently busy
// according to today's calendar events, and publishes that state.
package presence

import (
	"strings"

	"calpresence/internal/model"
)

// SnapshotSource yields the current calendar snapshot without blocking.
type SnapshotSource interface {
	Current() model.Snapshot
}

// Matcher reads presence from whatever snapshot its source currently holds.
type Matcher struct {
	src SnapshotSource
}

func NewMatcher(src SnapshotSource) *Matcher {
	return &Matcher{src: src}
}

// IsPresent reports whether any of today's events mentions name,
// case-insensitively. One event may match several names and one name may
// match several events. An Empty snapshot reports false for every name.
func (m *Matcher) IsPresent(name string) bool {
	needle := strings.ToLower(name)
	found := false
	m.src.Current().Each(func(ev model.CalendarEvent) bool {
		if strings.Contains(strings.ToLower(ev.Name), needle) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Matching returns the names of today's events that mention name.
func (m *Matcher) Matching(name string) []string {
	needle := strings.ToLower(name)
	var out []string
	m.src.Current().Each(func(ev model.CalendarEvent) bool {
		if strings.Contains(strings.ToLower(ev.Name), needle) {
			out = append(out, ev.Name)
		}
		return true
	})
	return out
}
