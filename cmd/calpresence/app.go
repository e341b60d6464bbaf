package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calpresence/internal/config"
	"calpresence/internal/ics"
	appLog "calpresence/internal/log"
	"calpresence/internal/metrics"
	"calpresence/internal/model"
	"calpresence/internal/mqtt"
	"calpresence/internal/presence"
	"calpresence/internal/scheduler"
	"calpresence/internal/snapshot"
	"calpresence/internal/sns"
	"calpresence/internal/web"
)

const stopTimeout = 15 * time.Second

// deps are the outside-world collaborators an app is built from. Tests
// swap them for fakes.
type deps struct {
	fetcher ics.Fetcher
	now     func() time.Time
	mqtt    func(mqtt.Options) (mqtt.Publisher, error)
	sns     func(ctx context.Context, topicARN string, loc *time.Location) (presence.Sink, error)
}

func defaultDeps() deps {
	return deps{
		fetcher: ics.NewHTTPFetcher(nil, "calpresence/"+version),
		now:     time.Now,
		mqtt: func(o mqtt.Options) (mqtt.Publisher, error) {
			return mqtt.NewRealPublisher(o)
		},
		sns: func(ctx context.Context, arn string, loc *time.Location) (presence.Sink, error) {
			return sns.NewFromEnvironment(ctx, arn, loc)
		},
	}
}

// app owns every long-running component of the daemon.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	cache   *snapshot.Cache
	matcher *presence.Matcher
	sched   *scheduler.Scheduler
	pollers []*presence.Poller
	server  *web.Server
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, d deps) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	a.cache = snapshot.New(snapshot.Config{
		URL:      cfg.CalURL,
		Fetcher:  d.fetcher,
		Now:      d.now,
		Location: loc,
		Observer: a.metrics,
	})
	a.matcher = presence.NewMatcher(a.cache)

	a.sched, err = scheduler.New(func(ctx context.Context) {
		// Failures are logged and counted by the cache.
		_, _ = a.cache.Refresh(ctx)
	}, cfg.Refresh, loc)
	if err != nil {
		return nil, err
	}

	sinks := presence.Sinks{a.metrics}
	if cfg.MQTT.Broker != "" {
		pub, err := d.mqtt(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt %s: %w", cfg.MQTT.Broker, err)
		}
		a.closers = append(a.closers, pub.Close)
		if cs, ok := pub.(mqtt.ConnectionStatus); ok {
			a.metrics.TrackMQTT(cs.IsConnected)
		}
		sinks = append(sinks, countFailures{pub, a.metrics})
	}
	if cfg.SNS.TopicARN != "" {
		pub, err := d.sns(ctx, cfg.SNS.TopicARN, loc)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("sns: %w", err)
		}
		sinks = append(sinks, countFailures{pub, a.metrics})
	}

	for _, device := range cfg.Events {
		a.pollers = append(a.pollers, presence.NewPoller(device, cfg.Poll(), a.matcher, sinks, d.now))
	}

	if cfg.Listen != "" {
		a.server = web.NewServer(web.Options{
			Listen:    cfg.Listen,
			BasicAuth: cfg.BasicAuth,
			Devices:   cfg.Events,
			Snapshots: a.cache,
			Presence:  a.matcher,
			Metrics:   a.metrics.Handler(),
			Now:       d.now,
		})
	}
	return a, nil
}

// run blocks until ctx is cancelled, then stops everything in reverse
// order of startup.
func (a *app) run(ctx context.Context) error {
	a.sched.Start()
	for _, p := range a.pollers {
		p.Start()
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serverErr <- a.server.Serve(ctx)
		}()
	}

	appLog.Info("calpresence running",
		"devices", len(a.pollers),
		"refresh", a.cfg.Refresh,
		"poll_interval", a.cfg.Poll().String(),
		"listen", a.cfg.Listen,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		appLog.Error("HTTP server stopped", runErr)
	}

	a.stop()
	wg.Wait()
	return runErr
}

func (a *app) stop() {
	for _, p := range a.pollers {
		p.Stop()
	}

	done := a.sched.Stop()
	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		appLog.Warn("refresh still running at shutdown; abandoning it")
	}
	a.close()
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			appLog.Warn("close failed", "error", err.Error())
		}
	}
	a.closers = nil
}

// countFailures counts failed publishes of a real sink in the metrics.
type countFailures struct {
	presence.Sink
	m *metrics.Metrics
}

func (c countFailures) PublishPresence(state model.PresenceState) error {
	err := c.Sink.PublishPresence(state)
	if err != nil {
		c.m.PublishFailed(state.Device)
	}
	return err
}
