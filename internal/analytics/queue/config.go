package queue

import "time"

type Config struct {
	UploadThreshold int
	MaxBatchSize    int
	MaxEvents       int
	UploadInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		UploadThreshold: 30,
		MaxBatchSize:    100,
		MaxEvents:       1000,
		UploadInterval:  30 * time.Second,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.UploadThreshold < 1 {
		c.UploadThreshold = 1
	}
	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = defaults.MaxBatchSize
	}
	if c.MaxEvents < c.MaxBatchSize {
		c.MaxEvents = c.MaxBatchSize
	}
	if c.UploadInterval <= 0 {
		c.UploadInterval = defaults.UploadInterval
	}
	return c
}

func typeSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
