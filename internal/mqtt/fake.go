package mqtt

import (
	"sync"

	"calpresence/internal/model"
)

// FakePublisher records published readings for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// States contains all readings that were published.
	States []model.PresenceState

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// PublishError, if set, will be returned by PublishPresence.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// PublishPresence records the reading.
func (f *FakePublisher) PublishPresence(state model.PresenceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(state)
	if err != nil {
		return err
	}
	f.States = append(f.States, state)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// Published returns a copy of the recorded readings.
func (f *FakePublisher) Published() []model.PresenceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PresenceState(nil), f.States...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}
