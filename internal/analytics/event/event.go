package event

import "github.com/google/uuid"

// Event is a fully composed analytics event. Field names follow the
// analytics backend's JSON schema.
type Event struct {
	EventType          string     `json:"event_type"`
	EventProperties    Properties `json:"event_properties"`
	APIProperties      Properties `json:"api_properties"`
	UserProperties     Properties `json:"user_properties"`
	Groups             Properties `json:"groups"`
	GroupProperties    Properties `json:"group_properties"`
	SessionID          int64      `json:"session_id"`
	Timestamp          int64      `json:"timestamp"`
	UserID             *string    `json:"user_id,omitempty"`
	DeviceID           *uuid.UUID `json:"device_id,omitempty"`
	Platform           *string    `json:"platform,omitempty"`
	AppVersion         *string    `json:"version_name,omitempty"`
	OSName             *string    `json:"os_name,omitempty"`
	OSVersion          *string    `json:"os_version,omitempty"`
	DeviceModel        *string    `json:"device_model,omitempty"`
	DeviceManufacturer *string    `json:"device_manufacturer,omitempty"`
	Carrier            *string    `json:"carrier,omitempty"`
	Country            *string    `json:"country,omitempty"`
	Language           *string    `json:"language,omitempty"`
	Timezone           string     `json:"timezone"`
}

// TrackingOptions toggles each optional device field. A disabled field is
// left nil on composed events.
type TrackingOptions struct {
	Platform           bool `json:"platform" yaml:"platform"`
	OSName             bool `json:"osName" yaml:"osName"`
	DeviceManufacturer bool `json:"deviceManufacturer" yaml:"deviceManufacturer"`
	AppVersion         bool `json:"appVersion" yaml:"appVersion"`
	OSVersion          bool `json:"osVersion" yaml:"osVersion"`
	DeviceModel        bool `json:"deviceModel" yaml:"deviceModel"`
	Carrier            bool `json:"carrier" yaml:"carrier"`
	Country            bool `json:"country" yaml:"country"`
	Language           bool `json:"language" yaml:"language"`
}

func DefaultTrackingOptions() TrackingOptions {
	return TrackingOptions{
		Platform:           true,
		OSName:             true,
		DeviceManufacturer: true,
		AppVersion:         true,
		OSVersion:          true,
		DeviceModel:        true,
		Carrier:            true,
		Country:            true,
		Language:           true,
	}
}
