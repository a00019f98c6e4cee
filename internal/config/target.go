package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Target is a remote analytics configuration pushed by the backend.
type Target struct {
	Name          string         `json:"name" yaml:"name"`
	SendMechanism string         `json:"sendMechanism" yaml:"sendMechanism"`
	Settings      TargetSettings `json:"settings" yaml:"settings"`
	URL           string         `json:"url" yaml:"url"`
}

type TargetSettings struct {
	EventUploadThreshold         int      `json:"eventUploadThreshold" yaml:"eventUploadThreshold"`
	EventUploadMaxBatchSize      int      `json:"eventUploadMaxBatchSize" yaml:"eventUploadMaxBatchSize"`
	EventMaxCount                int      `json:"eventMaxCount" yaml:"eventMaxCount"`
	EventUploadPeriodSeconds     int      `json:"eventUploadPeriodSeconds" yaml:"eventUploadPeriodSeconds"`
	MinTimeBetweenSessionsMillis int      `json:"minTimeBetweenSessionsMillis" yaml:"minTimeBetweenSessionsMillis"`
	TrackingSessionEvents        bool     `json:"trackingSessionEvents" yaml:"trackingSessionEvents"`
	RealtimeEventTypes           []string `json:"realtimeEventTypes" yaml:"realtimeEventTypes"`
	ExcludedEventTypes           []string `json:"excludedEventTypes" yaml:"excludedEventTypes"`
}

func ParseTargetJSON(raw []byte) (Target, error) {
	var target Target
	if err := json.Unmarshal(raw, &target); err != nil {
		return Target{}, fmt.Errorf("decode config target: %w", err)
	}
	return target, target.Validate()
}

func ParseTargetYAML(raw []byte) (Target, error) {
	var target Target
	if err := yaml.Unmarshal(raw, &target); err != nil {
		return Target{}, fmt.Errorf("decode config target: %w", err)
	}
	return target, target.Validate()
}

func (t Target) Validate() error {
	s := t.Settings
	if s.EventUploadThreshold < 1 {
		return fmt.Errorf("target %q: eventUploadThreshold must be >= 1", t.Name)
	}
	if s.EventUploadMaxBatchSize < 1 {
		return fmt.Errorf("target %q: eventUploadMaxBatchSize must be >= 1", t.Name)
	}
	if s.EventMaxCount < s.EventUploadMaxBatchSize {
		return fmt.Errorf("target %q: eventMaxCount must be >= eventUploadMaxBatchSize", t.Name)
	}
	if s.EventUploadPeriodSeconds < 1 {
		return fmt.Errorf("target %q: eventUploadPeriodSeconds must be >= 1", t.Name)
	}
	return nil
}
