package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paltabrain/sdk/internal/analytics"
	"paltabrain/sdk/internal/analytics/event"
	"paltabrain/sdk/internal/deadletter"
	"paltabrain/sdk/internal/kv"
	"paltabrain/sdk/internal/transport"
)

func newTrackCommand(a *app) *cobra.Command {
	var (
		props  []string
		userID string
		url    string
	)
	cmd := &cobra.Command{
		Use:   "track <event-type>",
		Short: "Track one event and upload everything buffered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			properties, err := parseProperties(props)
			if err != nil {
				return err
			}
			if url != "" {
				a.cfg.AnalyticsURL = url
			}
			return runTrack(cmd.Context(), a, args[0], properties, userID)
		},
	}
	cmd.Flags().StringArrayVar(&props, "prop", nil, "event property as key=value (repeatable)")
	cmd.Flags().StringVar(&userID, "user", "", "user id attached to the event")
	cmd.Flags().StringVar(&url, "url", "", "override the analytics ingest URL")
	return cmd
}

func runTrack(ctx context.Context, a *app, eventType string, properties event.Properties, userID string) error {
	store, err := kv.Open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	archiveStore, err := deadletter.Open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer archiveStore.Close()

	tracker := analytics.New(analytics.SettingsFromConfig(a.cfg), analytics.Deps{
		Store:    store,
		Client:   transport.NewRestyClient(15 * time.Second),
		Device:   analytics.StaticDevice{AppVersion: a.cfg.SDKVersion},
		Archiver: deadletter.NewArchive(archiveStore, deadletter.DefaultPrefix),
		Logger:   a.log,
	})
	if err := tracker.Start(ctx); err != nil {
		return err
	}
	if userID != "" {
		tracker.SetUserID(&userID)
	}

	tracker.Track(eventType, properties)
	if err := tracker.Flush(ctx); err != nil {
		a.log.WithError(err).WithField("pending", tracker.Pending()).Warn("upload failed, events kept for the next run")
		return err
	}
	a.log.WithField("session_id", tracker.SessionID()).Info("events uploaded")
	return nil
}

// parseProperties reads key=value pairs. Integers, floats and true/false keep
// their type.
func parseProperties(raw []string) (event.Properties, error) {
	props := event.Properties{}
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return event.Properties{}, fmt.Errorf("property %q must be key=value", entry)
		}
		props.Set(key, propertyValue(value))
	}
	return props, nil
}

func propertyValue(raw string) event.Value {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return event.Int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return event.Float(f)
	}
	switch raw {
	case "true":
		return event.Bool(true)
	case "false":
		return event.Bool(false)
	}
	return event.String(raw)
}
