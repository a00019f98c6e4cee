package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/api"
	"paltabrain/sdk/internal/deadletter"
)

type maintenanceSettings struct {
	CleanupInterval time.Duration
	Retention       time.Duration
}

type stubCleaner interface {
	Cleanup(retention time.Duration) api.CleanupResult
}

func startMaintenanceLoops(
	ctx context.Context,
	log logrus.FieldLogger,
	cleaner stubCleaner,
	archiveStore deadletter.Store,
	settings maintenanceSettings,
) {
	ensureArchiveLifecycle(ctx, log, archiveStore, settings.Retention)
	if settings.CleanupInterval > 0 && settings.Retention > 0 {
		go runCleanupLoop(ctx, log, cleaner, settings)
	}
}

// ensureArchiveLifecycle expires dead-letter objects after the retention
// window, rounded up to whole days.
func ensureArchiveLifecycle(ctx context.Context, log logrus.FieldLogger, store deadletter.Store, retention time.Duration) {
	configurer, ok := store.(deadletter.LifecycleConfigurer)
	if !ok {
		return
	}
	days := int((retention + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}

	cycleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := configurer.EnsureLifecyclePolicy(cycleCtx, days, []string{deadletter.DefaultPrefix})
	switch {
	case err == nil:
		log.WithField("expiration_days", days).Info("dead-letter lifecycle policy applied")
	case errors.Is(err, deadletter.ErrNotConfigured):
	default:
		log.WithError(err).Warn("dead-letter lifecycle policy failed")
	}
}

func runCleanupLoop(ctx context.Context, log logrus.FieldLogger, cleaner stubCleaner, settings maintenanceSettings) {
	runCleanupCycle(log, cleaner, settings.Retention)

	ticker := time.NewTicker(settings.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCleanupCycle(log, cleaner, settings.Retention)
		}
	}
}

func runCleanupCycle(log logrus.FieldLogger, cleaner stubCleaner, retention time.Duration) {
	result := cleaner.Cleanup(retention)
	log.WithFields(logrus.Fields{
		"batches": result.DeletedBatches,
		"orders":  result.DeletedOrders,
		"logs":    result.DeletedLogs,
	}).Info("auto-cleanup completed")
}
