package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/analytics/event"
	"paltabrain/sdk/internal/analytics/queue"
	"paltabrain/sdk/internal/analytics/session"
	"paltabrain/sdk/internal/config"
	"paltabrain/sdk/internal/kv"
	"paltabrain/sdk/internal/logging"
	"paltabrain/sdk/internal/transport"
)

type Settings struct {
	URL                string
	SDKName            string
	SDKVersion         string
	Queue              queue.Config
	SessionMaxAge      time.Duration
	TrackSessionEvents bool
	LiveEventTypes     []string
	ExcludedEventTypes []string
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		URL:        cfg.AnalyticsURL,
		SDKName:    cfg.SDKName,
		SDKVersion: cfg.SDKVersion,
		Queue: queue.Config{
			UploadThreshold: cfg.UploadThreshold,
			MaxBatchSize:    cfg.UploadMaxBatchSize,
			MaxEvents:       cfg.MaxEvents,
			UploadInterval:  cfg.UploadInterval,
		},
		SessionMaxAge:      cfg.SessionMaxAge,
		TrackSessionEvents: cfg.TrackSessionEvents,
		LiveEventTypes:     cfg.LiveEventTypes,
		ExcludedEventTypes: cfg.ExcludedEventTypes,
	}
}

type Deps struct {
	Store    kv.Store
	Client   transport.Client
	Device   event.DeviceInfoProvider
	AppState session.AppStateProvider
	Archiver queue.Archiver
	Logger   logrus.FieldLogger
	Clock    func() time.Time
	Tick     time.Duration
}

// Tracker is the analytics entry point: it stamps events with session and
// device context and hands them to the upload queue.
type Tracker struct {
	sessions      *session.Manager
	composer      *event.Composer
	queue         *queue.Queue
	sender        *queue.BatchSender
	identity      *Identity
	sessionEvents atomic.Bool
	now           func() time.Time
	log           logrus.FieldLogger
}

func New(settings Settings, deps Deps) *Tracker {
	log := logging.OrStandard(deps.Logger)
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	maxAge := settings.SessionMaxAge
	if maxAge <= 0 {
		maxAge = session.DefaultMaxAge
	}

	sessionOpts := []session.Option{
		session.WithClock(now),
		session.WithLogger(log),
		session.WithMaxAge(maxAge),
	}
	if deps.AppState != nil {
		sessionOpts = append(sessionOpts, session.WithAppState(deps.AppState))
	}
	sessions := session.NewManager(deps.Store, sessionOpts...)

	identity := &Identity{}
	sender := queue.NewBatchSender(deps.Client, settings.URL, settings.SDKName, settings.SDKVersion)

	queueOpts := []queue.Option{
		queue.WithConfig(settings.Queue),
		queue.WithClock(now),
		queue.WithLogger(log),
	}
	if deps.Archiver != nil {
		queueOpts = append(queueOpts, queue.WithArchiver(deps.Archiver))
	}
	if deps.Tick > 0 {
		queueOpts = append(queueOpts, queue.WithTickInterval(deps.Tick))
	}
	q := queue.NewQueue(deps.Store, sender, queueOpts...)
	q.SetLiveEventTypes(settings.LiveEventTypes)
	q.SetExcludedEventTypes(settings.ExcludedEventTypes)

	t := &Tracker{
		sessions: sessions,
		composer: event.NewComposer(sessions, identity, deps.Device, event.WithClock(now)),
		queue:    q,
		sender:   sender,
		identity: identity,
		now:      now,
		log:      log.WithField("component", "tracker"),
	}
	t.sessionEvents.Store(settings.TrackSessionEvents)
	sessions.SetEventLogger(t.logSessionEvent)
	return t
}

// Start restores buffered events and reloads the session.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.queue.Restore(ctx); err != nil {
		t.log.WithError(err).Warn("restore event buffer failed")
	}
	t.sessions.Start()
	return nil
}

func (t *Tracker) Run(ctx context.Context) {
	t.queue.Run(ctx)
}

func (t *Tracker) Track(eventType string, properties event.Properties) {
	t.TrackEvent(eventType, properties, event.Properties{}, event.Properties{}, nil)
}

func (t *Tracker) TrackEvent(
	eventType string,
	properties, apiProperties, groups event.Properties,
	timestamp *int64,
) {
	ts := t.now().UnixMilli()
	if timestamp != nil {
		ts = *timestamp
	}

	t.sessions.RefreshSession(ts)
	t.queue.Add(t.composer.Compose(eventType, properties, apiProperties, groups, &ts))
}

func (t *Tracker) logSessionEvent(eventType string, sessionID, timestamp int64) {
	if !t.sessionEvents.Load() {
		return
	}
	ts := timestamp
	t.queue.Add(t.composer.ComposeForSession(
		sessionID, eventType, event.Properties{}, event.Properties{}, event.Properties{}, &ts,
	))
}

func (t *Tracker) StartNewSession() {
	t.sessions.StartNewSession()
}

func (t *Tracker) SessionID() int64 {
	return t.sessions.SessionID()
}

func (t *Tracker) OnForeground() {
	t.sessions.OnBecomeActive()
}

// OnBackground uploads whatever is buffered.
func (t *Tracker) OnBackground(ctx context.Context) error {
	return t.queue.Flush(ctx)
}

func (t *Tracker) Flush(ctx context.Context) error {
	return t.queue.Flush(ctx)
}

func (t *Tracker) Pending() int {
	return t.queue.Len()
}

func (t *Tracker) SetUserID(userID *string) {
	t.identity.SetUserID(userID)
}

func (t *Tracker) SetDeviceID(deviceID *uuid.UUID) {
	t.identity.SetDeviceID(deviceID)
}

func (t *Tracker) SetTrackingOptions(options event.TrackingOptions) {
	t.composer.SetTrackingOptions(options)
}

// ApplyTarget reconfigures the queue, session and sender from a remote target.
func (t *Tracker) ApplyTarget(target config.Target) {
	s := target.Settings
	t.queue.SetConfig(queue.Config{
		UploadThreshold: s.EventUploadThreshold,
		MaxBatchSize:    s.EventUploadMaxBatchSize,
		MaxEvents:       s.EventMaxCount,
		UploadInterval:  time.Duration(s.EventUploadPeriodSeconds) * time.Second,
	})
	t.queue.SetLiveEventTypes(s.RealtimeEventTypes)
	t.queue.SetExcludedEventTypes(s.ExcludedEventTypes)
	if s.MinTimeBetweenSessionsMillis > 0 {
		t.sessions.SetMaxSessionAge(time.Duration(s.MinTimeBetweenSessionsMillis) * time.Millisecond)
	}
	t.sessionEvents.Store(s.TrackingSessionEvents)
	if target.URL != "" {
		t.sender.SetBaseURL(target.URL)
	}

	t.log.WithFields(logrus.Fields{
		"target":    target.Name,
		"threshold": s.EventUploadThreshold,
		"url":       target.URL,
	}).Info("applied remote config target")
}

// Identity holds the user and device ids stamped onto events.
type Identity struct {
	mu       sync.RWMutex
	userID   *string
	deviceID *uuid.UUID
}

func (i *Identity) UserID() *string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userID
}

func (i *Identity) DeviceID() *uuid.UUID {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.deviceID
}

func (i *Identity) SetUserID(userID *string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}

func (i *Identity) SetDeviceID(deviceID *uuid.UUID) {
	i.mu.Lock()
	i.deviceID = deviceID
	i.mu.Unlock()
}

// StaticDevice reports fixed device metadata.
type StaticDevice event.DeviceInfo

func (d StaticDevice) DeviceInfo() event.DeviceInfo {
	return event.DeviceInfo(d)
}
