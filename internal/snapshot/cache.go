// Package snapshot holds the single, atomically replaced view of today's
// calendar events and the staleness-gated refresh that produces it.
//
// One writer (the refresh scheduler) replaces the snapshot wholesale; any
// number of readers load it without locking.
package snapshot

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"calpresence/internal/ics"
	appLog "calpresence/internal/log"
	"calpresence/internal/model"
)

const (
	// StalenessThreshold is how long a snapshot stays usable; no fetch is
	// attempted while now < asOf + StalenessThreshold.
	StalenessThreshold = 4 * time.Hour

	// RefreshInterval is the cadence the scheduler attempts refreshes at.
	RefreshInterval = 10 * time.Minute
)

// Outcome describes what a single Refresh call did.
type Outcome int

const (
	// OutcomeRefreshed: a new snapshot was installed.
	OutcomeRefreshed Outcome = iota
	// OutcomeFresh: the current snapshot is not stale; nothing was fetched.
	OutcomeFresh
	// OutcomeBusy: another refresh is in flight.
	OutcomeBusy
	// OutcomeFailed: fetch, parse or URL validation failed.
	OutcomeFailed
	// OutcomeDiscarded: the attempt finished but its result was dropped.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeFresh:
		return "fresh"
	case OutcomeBusy:
		return "busy"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Observer is notified after every refresh attempt.
type Observer interface {
	RefreshCompleted(outcome Outcome, err error, took time.Duration, current model.Snapshot)
}

// Config wires a Cache to its collaborators.
type Config struct {
	// URL is the feed location. It is validated on every attempt.
	URL     string
	Fetcher ics.Fetcher
	// Now defaults to time.Now.
	Now func() time.Time
	// Location is used for day matching when the feed declares no zone.
	// Nil means time.Local.
	Location *time.Location
	Observer Observer
}

// Cache holds the current snapshot and serializes refreshes.
type Cache struct {
	url      string
	fetcher  ics.Fetcher
	now      func() time.Time
	fallback *time.Location
	observer Observer

	current    atomic.Pointer[model.Snapshot]
	refreshing atomic.Bool
}

// New returns a Cache holding the Empty snapshot.
func New(cfg Config) *Cache {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cache{
		url:      cfg.URL,
		fetcher:  cfg.Fetcher,
		now:      cfg.Now,
		fallback: cfg.Location,
		observer: cfg.Observer,
	}
	c.current.Store(&model.Snapshot{})
	return c
}

// Current returns the last installed snapshot. It never blocks.
func (c *Cache) Current() model.Snapshot {
	return *c.current.Load()
}

// LastRefresh returns the asOf instant of the current snapshot, or false
// while the cache is still Empty.
func (c *Cache) LastRefresh() (time.Time, bool) {
	return c.Current().AsOf()
}

// Refreshing reports whether an attempt is in flight.
func (c *Cache) Refreshing() bool {
	return c.refreshing.Load()
}

// IsFresh reports whether s is still usable at now. The Empty snapshot is
// never fresh.
func IsFresh(s model.Snapshot, now time.Time) bool {
	asOf, ok := s.AsOf()
	if !ok {
		return false
	}
	return now.Before(asOf.Add(StalenessThreshold))
}

// Refresh runs one attempt: staleness gate, fetch, parse, normalize and
// atomic install. Failures leave the current snapshot untouched and are
// returned alongside OutcomeFailed; the caller is not expected to retry.
func (c *Cache) Refresh(ctx context.Context) (Outcome, error) {
	if !c.refreshing.CompareAndSwap(false, true) {
		appLog.Debug("calendar refresh already in flight; skipping")
		if c.observer != nil {
			c.observer.RefreshCompleted(OutcomeBusy, nil, 0, c.Current())
		}
		return OutcomeBusy, nil
	}
	defer c.refreshing.Store(false)

	started := c.now()
	prev := c.Current()

	if IsFresh(prev, started) {
		c.observe(OutcomeFresh, nil, started)
		return OutcomeFresh, nil
	}

	outcome, err := c.refresh(ctx, prev)
	if err != nil {
		kv := []any{"url", ics.RedactURL(c.url)}
		if asOf, ok := prev.AsOf(); ok {
			kv = append(kv, "serving_as_of", asOf.Format(time.RFC3339))
		}
		appLog.Error("calendar refresh failed", err, kv...)
	}
	c.observe(outcome, err, started)
	return outcome, err
}

func (c *Cache) refresh(ctx context.Context, prev model.Snapshot) (Outcome, error) {
	if err := ics.ValidateURL(c.url); err != nil {
		return OutcomeFailed, err
	}

	appLog.Info("scraping calendar", "url", ics.RedactURL(c.url))

	body, err := c.fetcher.Fetch(ctx, c.url)
	if err != nil {
		var nerr *ics.NetworkError
		if !errors.As(err, &nerr) {
			err = &ics.NetworkError{URL: c.url, Err: err}
		}
		return OutcomeFailed, err
	}

	feed, err := ics.Parse(body)
	if err != nil {
		return OutcomeFailed, err
	}

	asOf, events := ics.Normalize(feed, c.now(), c.fallback)

	if ctx.Err() != nil {
		appLog.Info("calendar refresh finished after shutdown; result discarded")
		return OutcomeDiscarded, nil
	}
	if prevAsOf, ok := prev.AsOf(); ok && asOf.Before(prevAsOf) {
		appLog.Warn("clock moved backwards; keeping newer snapshot",
			"as_of", asOf.Format(time.RFC3339), "current_as_of", prevAsOf.Format(time.RFC3339))
		return OutcomeDiscarded, nil
	}

	next := model.NewSnapshot(asOf, events)
	c.current.Store(&next)

	appLog.Info("calendar refreshed", "events_today", len(events), "as_of", asOf.Format(time.RFC3339))
	return OutcomeRefreshed, nil
}

func (c *Cache) observe(outcome Outcome, err error, started time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.RefreshCompleted(outcome, err, c.now().Sub(started), c.Current())
}
