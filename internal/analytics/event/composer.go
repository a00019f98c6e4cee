package event

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type SessionIDProvider interface {
	SessionID() int64
}

type UserPropertiesProvider interface {
	UserID() *string
	DeviceID() *uuid.UUID
}

type DeviceInfo struct {
	AppVersion     string
	OSVersion      string
	DeviceModel    string
	Carrier        string
	Country        string
	Language       string
	TimezoneOffset int
}

type DeviceInfoProvider interface {
	DeviceInfo() DeviceInfo
}

type Platform struct {
	Name         string
	OSName       string
	Manufacturer string
}

var ApplePlatform = Platform{Name: "iOS", OSName: "ios", Manufacturer: "Apple"}

type Composer struct {
	sessions SessionIDProvider
	users    UserPropertiesProvider
	device   DeviceInfoProvider
	platform Platform
	options  atomic.Pointer[TrackingOptions]
	now      func() time.Time
}

type ComposerOption func(*Composer)

func WithPlatform(platform Platform) ComposerOption {
	return func(c *Composer) { c.platform = platform }
}

func WithClock(now func() time.Time) ComposerOption {
	return func(c *Composer) { c.now = now }
}

func NewComposer(
	sessions SessionIDProvider,
	users UserPropertiesProvider,
	device DeviceInfoProvider,
	opts ...ComposerOption,
) *Composer {
	c := &Composer{
		sessions: sessions,
		users:    users,
		device:   device,
		platform: ApplePlatform,
		now:      time.Now,
	}
	defaults := DefaultTrackingOptions()
	c.options.Store(&defaults)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Composer) SetTrackingOptions(options TrackingOptions) {
	c.options.Store(&options)
}

func (c *Composer) TrackingOptions() TrackingOptions {
	return *c.options.Load()
}

// Compose builds an event for the current session. A nil timestamp means now.
func (c *Composer) Compose(
	eventType string,
	eventProperties, apiProperties, groups Properties,
	timestamp *int64,
) Event {
	return c.ComposeForSession(c.sessions.SessionID(), eventType, eventProperties, apiProperties, groups, timestamp)
}

// ComposeForSession is Compose with an explicit session id, for callers that
// already hold the session (session start/end events).
func (c *Composer) ComposeForSession(
	sessionID int64,
	eventType string,
	eventProperties, apiProperties, groups Properties,
	timestamp *int64,
) Event {
	ts := c.now().UnixMilli()
	if timestamp != nil {
		ts = *timestamp
	}

	options := c.TrackingOptions()
	info := c.device.DeviceInfo()

	return Event{
		EventType:          eventType,
		EventProperties:    eventProperties.Clone(),
		APIProperties:      apiProperties.Clone(),
		UserProperties:     Properties{},
		Groups:             groups.Clone(),
		GroupProperties:    Properties{},
		SessionID:          sessionID,
		Timestamp:          ts,
		UserID:             c.users.UserID(),
		DeviceID:           c.users.DeviceID(),
		Platform:           masked(options.Platform, c.platform.Name),
		AppVersion:         masked(options.AppVersion, info.AppVersion),
		OSName:             masked(options.OSName, c.platform.OSName),
		OSVersion:          masked(options.OSVersion, info.OSVersion),
		DeviceModel:        masked(options.DeviceModel, info.DeviceModel),
		DeviceManufacturer: masked(options.DeviceManufacturer, c.platform.Manufacturer),
		Carrier:            masked(options.Carrier, info.Carrier),
		Country:            masked(options.Country, info.Country),
		Language:           masked(options.Language, info.Language),
		Timezone:           FormatTimezone(info.TimezoneOffset),
	}
}

// FormatTimezone renders an hour offset as GMT+3, GMT-5 or GMT+0.
func FormatTimezone(offsetHours int) string {
	return fmt.Sprintf("GMT%+d", offsetHours)
}

func masked(enabled bool, value string) *string {
	if !enabled {
		return nil
	}
	return &value
}
