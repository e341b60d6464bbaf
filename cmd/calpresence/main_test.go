package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calpresence/internal/config"
	"calpresence/internal/mqtt"
	"calpresence/internal/presence"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:1\r\n" +
	"SUMMARY:Team Standup\r\n" +
	"DTSTART:20261018T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:2\r\n" +
	"SUMMARY:Gym\r\n" +
	"DTSTART:20261019T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type stubFetcher struct {
	body []byte
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) ([]byte, error) {
	return s.body, s.err
}

func testDeps(f stubFetcher, pub *mqtt.FakePublisher) deps {
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	return deps{
		fetcher: f,
		now:     func() time.Time { return now },
		mqtt: func(mqtt.Options) (mqtt.Publisher, error) {
			if pub == nil {
				return nil, errors.New("no broker")
			}
			return pub, nil
		},
		sns: func(context.Context, string, *time.Location) (presence.Sink, error) {
			return nil, errors.New("no aws")
		},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.CalURL = "https://example.com/cal.ics"
	cfg.Timezone = "UTC"
	cfg.Events = []string{"standup", "gym"}
	cfg.Listen = ""
	cfg.PollInterval = "20ms"
	return cfg
}

func TestRunOnce(t *testing.T) {
	var out bytes.Buffer
	err := runOnce(context.Background(), testConfig(), testDeps(stubFetcher{body: []byte(feed)}, nil), &out)
	require.NoError(t, err)

	var report onceReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Events, 1)
	assert.Equal(t, "Team Standup", report.Events[0].Name)
	assert.Equal(t, map[string]bool{"standup": true, "gym": false}, report.Presence)
}

func TestRunOnceFailure(t *testing.T) {
	err := runOnce(context.Background(), testConfig(), testDeps(stubFetcher{err: errors.New("dns")}, nil), &bytes.Buffer{})
	assert.ErrorContains(t, err, "dns")
}

func TestAppPublishesPresenceAndStops(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"
	pub := mqtt.NewFakePublisher()

	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, testDeps(stubFetcher{body: []byte(feed)}, pub))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		for _, s := range pub.Published() {
			if s.Device == "standup" && s.Present {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.True(t, pub.Closed)
}

func TestAppExportsMQTTConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"
	pub := mqtt.NewFakePublisher()

	a, err := newApp(context.Background(), cfg, testDeps(stubFetcher{body: []byte(feed)}, pub))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "calpresence_mqtt_connected 1")
}

func TestNewAppErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"
	_, err := newApp(context.Background(), cfg, testDeps(stubFetcher{}, nil))
	assert.ErrorContains(t, err, "no broker")

	cfg = testConfig()
	cfg.Refresh = "not a schedule"
	_, err = newApp(context.Background(), cfg, testDeps(stubFetcher{}, nil))
	assert.ErrorContains(t, err, "invalid refresh spec")

	cfg = testConfig()
	cfg.SNS.TopicARN = "arn:aws:sns:us-east-1:1:t"
	_, err = newApp(context.Background(), cfg, testDeps(stubFetcher{}, nil))
	assert.ErrorContains(t, err, "no aws")
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "calpresence version "))
}
