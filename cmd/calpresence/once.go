package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"calpresence/internal/config"
	"calpresence/internal/model"
	"calpresence/internal/presence"
	"calpresence/internal/snapshot"
)

func newOnceCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Refresh once and print today's events and device presence as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runOnce(ctx, cfg, defaultDeps(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up on the refresh after this long")
	return cmd
}

type onceReport struct {
	AsOf     time.Time             `json:"as_of"`
	Events   []model.CalendarEvent `json:"events"`
	Presence map[string]bool       `json:"presence"`
}

func runOnce(ctx context.Context, cfg *config.Config, d deps, out io.Writer) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	cache := snapshot.New(snapshot.Config{
		URL:      cfg.CalURL,
		Fetcher:  d.fetcher,
		Now:      d.now,
		Location: loc,
	})
	outcome, err := cache.Refresh(ctx)
	if err != nil {
		return err
	}
	if outcome != snapshot.OutcomeRefreshed {
		return fmt.Errorf("refresh did not complete: %s", outcome)
	}

	snap := cache.Current()
	asOf, _ := snap.AsOf()
	matcher := presence.NewMatcher(cache)
	report := onceReport{
		AsOf:     asOf,
		Events:   snap.EventsToday(),
		Presence: make(map[string]bool, len(cfg.Events)),
	}
	for _, device := range cfg.Events {
		report.Presence[device] = matcher.IsPresent(device)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
