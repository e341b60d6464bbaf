package ics

import (
	"errors"
	"strings"
)

// ErrNoCalendarData is wrapped by ParseError when a document contains no
// VCALENDAR at all.
var ErrNoCalendarData = errors.New("no calendar data found")

// ErrTruncatedCalendar is wrapped by ParseError when a document is cut off
// before its closing END:VCALENDAR line.
var ErrTruncatedCalendar = errors.New("calendar began but did not end")

// InvalidURLError reports a feed URL that is missing or not http(s).
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return "calurl missing or invalid: [" + e.URL + "]"
}

// NetworkError reports a failed fetch: unreachable host, timeout or a
// non-2xx response.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	msg := "fetch " + redactURL(e.URL)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports a document that is not a usable calendar.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse calendar: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidateURL checks the feed URL before any fetch is attempted.
func ValidateURL(u string) error {
	if u == "" || !strings.HasPrefix(u, "http") {
		return &InvalidURLError{URL: u}
	}
	return nil
}
