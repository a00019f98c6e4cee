package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/logging"
	"paltabrain/sdk/internal/metrics"
	"paltabrain/sdk/internal/payments"
	"paltabrain/sdk/internal/queue"
)

type Options struct {
	Producer                queue.Producer
	CORSAllowedOrigins      []string
	RateLimitRequestsPerSec float64
	RateLimitBurst          int
	Settlement              string
	OrderWebhookURL         string
	RejectEventTypes        []string
	PricePoints             []payments.PricePoint
	Logger                  logrus.FieldLogger
	Clock                   func() time.Time
}

// Handler serves a local stand-in for the analytics ingest and payments
// backends.
type Handler struct {
	state              *backend
	producer           queue.Producer
	corsAllowedOrigins []string
	settlement         string
	rejectEventTypes   map[string]struct{}
	rateLimiter        *clientRateLimiter
	notifier           *orderWebhookNotifier
	log                logrus.FieldLogger
}

func NewHandler(opts Options) *Handler {
	producer := opts.Producer
	if producer == nil {
		producer = queue.NewNoopProducer()
	}
	settlement := strings.ToLower(strings.TrimSpace(opts.Settlement))
	if settlement != SettlementManual {
		settlement = SettlementInstant
	}
	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	reject := make(map[string]struct{}, len(opts.RejectEventTypes))
	for _, eventType := range opts.RejectEventTypes {
		reject[eventType] = struct{}{}
	}
	log := logging.OrStandard(opts.Logger).WithField("component", "stub")

	return &Handler{
		state:              newBackend(opts.Clock, opts.PricePoints),
		producer:           producer,
		corsAllowedOrigins: origins,
		settlement:         settlement,
		rejectEventTypes:   reject,
		rateLimiter:        newClientRateLimiter(opts.RateLimitRequestsPerSec, opts.RateLimitBurst, log),
		notifier:           newOrderWebhookNotifier(opts.OrderWebhookURL),
		log:                log,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	if h.rateLimiter != nil {
		r.Use(h.rateLimiter.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", payments.TraceHeader, "X-SDK-Name", "X-SDK-Version", "X-Client-Upload-TS"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/events", h.ingestEvents)

	r.Route("/v2", func(r chi.Router) {
		r.Post("/checkout/start", h.startCheckout)
		r.Post("/checkout/completed", h.checkoutCompleted)
		r.Post("/checkout/failed", h.checkoutFailed)
		r.Post("/checkout/get", h.getCheckout)
		r.Post("/checkout/restore", h.restorePurchase)
		r.Post("/checkout/log", h.checkoutLog)
		r.Post("/showcase/get", h.getShowcase)
	})
	r.Post("/v1/get-features", h.getFeatures)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/events", h.listEvents)
		r.Get("/logs", h.listLogs)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/orders/{orderID}/state", h.setOrderState)
		r.Put("/showcase", h.putShowcase)
		r.Get("/queue", h.queueStats)
		r.Post("/cleanup", h.cleanup)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"settlement": h.settlement,
		"batches":    h.state.batchCount(),
	})
}

// Cleanup drops stub state older than retention.
func (h *Handler) Cleanup(retention time.Duration) CleanupResult {
	return h.state.cleanup(retention)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	minutes := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("older_than_minutes")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "older_than_minutes must be a non-negative integer"})
			return
		}
		minutes = parsed
	}
	writeJSON(w, http.StatusOK, h.Cleanup(time.Duration(minutes)*time.Minute))
}

type streamStatsProvider interface {
	Stats(ctx context.Context) (queue.StreamStats, error)
}

func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.producer.(streamStatsProvider)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue stats unavailable"})
		return
	}
	stats, err := provider.Stats(r.Context())
	if err != nil {
		h.log.WithError(err).Warn("queue stats lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "queue stats lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// observe logs each request and records it under its route pattern.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordStubRequest(r.Method, route, status)
		h.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      status,
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dest any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dest)
}
