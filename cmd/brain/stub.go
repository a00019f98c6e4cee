package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paltabrain/sdk/internal/api"
	"paltabrain/sdk/internal/deadletter"
	"paltabrain/sdk/internal/payments"
	"paltabrain/sdk/internal/queue"
)

func newStubCommand(a *app) *cobra.Command {
	var (
		settlement  string
		pricePoints []string
	)
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a local analytics ingest and payments backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if settlement != "" {
				a.cfg.Settlement = settlement
			}
			showcase, err := parsePricePoints(pricePoints)
			if err != nil {
				return err
			}
			return runStub(cmd.Context(), a, showcase)
		},
	}
	cmd.Flags().StringVar(&settlement, "settlement", "", "order settlement mode: instant or manual")
	cmd.Flags().StringArrayVar(&pricePoints, "price-point", nil, "showcase entry as ident=productId (repeatable)")
	return cmd
}

func runStub(ctx context.Context, a *app, showcase []payments.PricePoint) error {
	cfg := a.cfg

	var producer queue.Producer
	redisProducer, err := queue.NewRedisProducer(cfg.RedisAddr, cfg.IngestQueueName, cfg.OrderQueueName)
	if err != nil {
		a.log.WithError(err).Warn("job streams unavailable, continuing with noop producer")
		producer = queue.NewNoopProducer()
	} else {
		producer = redisProducer
	}
	defer producer.Close()

	archiveStore, err := deadletter.Open(ctx, cfg)
	if err != nil {
		a.log.WithError(err).Warn("dead-letter store unavailable, continuing without it")
		archiveStore = deadletter.NewNoopStore()
	}
	defer archiveStore.Close()

	handler := api.NewHandler(api.Options{
		Producer:                producer,
		CORSAllowedOrigins:      cfg.CORSAllowedOrigins,
		RateLimitRequestsPerSec: cfg.RateLimitRequestsPerSec,
		RateLimitBurst:          cfg.RateLimitBurst,
		Settlement:              cfg.Settlement,
		OrderWebhookURL:         cfg.OrderWebhookURL,
		RejectEventTypes:        cfg.RejectEventTypes,
		PricePoints:             showcase,
		Logger:                  a.log,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMaintenanceLoops(shutdownCtx, a.log, handler, archiveStore, maintenanceSettings{
		CleanupInterval: time.Duration(cfg.CleanupIntervalMinutes) * time.Minute,
		Retention:       time.Duration(cfg.RetentionMinutes) * time.Minute,
	})

	serveErr := make(chan error, 1)
	go func() {
		a.log.WithField("addr", cfg.ListenAddr).Info("stub listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxTimeout); err != nil {
		a.log.WithError(err).Warn("graceful shutdown failed")
	}
	return nil
}

func parsePricePoints(raw []string) ([]payments.PricePoint, error) {
	pricePoints := make([]payments.PricePoint, 0, len(raw))
	for i, entry := range raw {
		ident, productID, ok := strings.Cut(entry, "=")
		ident, productID = strings.TrimSpace(ident), strings.TrimSpace(productID)
		if !ok || ident == "" || productID == "" {
			return nil, fmt.Errorf("price point %q must be ident=productId", entry)
		}
		pricePoints = append(pricePoints, payments.PricePoint{Ident: ident, AppStoreID: productID, Priority: i})
	}
	return pricePoints, nil
}
