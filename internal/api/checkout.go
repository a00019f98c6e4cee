package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paltabrain/sdk/internal/payments"
	"paltabrain/sdk/internal/queue"
)

func traceID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(payments.TraceHeader))
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	payload := payments.StartCheckoutRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	customerID := strings.TrimSpace(payload.CustomerID.String())
	ident := strings.TrimSpace(payload.Ident)
	if customerID == "" || ident == "" {
		writeJSON(w, http.StatusOK, payments.StartCheckoutResponse{Status: "error"})
		return
	}

	order := h.state.createOrder(customerID, ident, traceID(r))
	h.log.WithFields(logrus.Fields{
		"order_id": order.ID.String(),
		"trace_id": order.TraceID,
		"ident":    ident,
	}).Info("checkout started")

	writeJSON(w, http.StatusOK, payments.StartCheckoutResponse{Status: "ok", OrderID: order.ID})
}

func (h *Handler) checkoutCompleted(w http.ResponseWriter, r *http.Request) {
	payload := payments.CheckoutCompletedRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if _, err := base64.StdEncoding.DecodeString(payload.Receipt); err != nil || payload.Receipt == "" {
		writeJSON(w, http.StatusOK, payments.StatusResponse{Status: "invalid_receipt"})
		return
	}

	order, err := h.state.update(payload.OrderID, func(o *Order) {
		o.TransactionID = payload.TransactionID
		o.OriginalTransactionID = payload.OriginalTransactionID
		if h.settlement == SettlementInstant {
			o.State = payments.StateCompleted
		}
	})
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if order.settled() {
		h.announceSettled(r.Context(), order)
	}

	writeJSON(w, http.StatusOK, payments.StatusResponse{Status: "ok"})
}

func (h *Handler) checkoutFailed(w http.ResponseWriter, r *http.Request) {
	payload := payments.CheckoutFailedRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	order, err := h.state.update(payload.OrderID, func(o *Order) {
		o.State = payments.StateFailed
		o.ErrorCode = payload.ErrorCode
		o.ErrorMessage = payload.ErrorMessage
	})
	if err != nil {
		writeOrderError(w, err)
		return
	}
	h.announceSettled(r.Context(), order)

	writeJSON(w, http.StatusOK, payments.StatusResponse{Status: "ok"})
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	payload := payments.GetCheckoutRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	order, err := h.state.order(payload.OrderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments.GetCheckoutResponse{Status: "ok", State: order.State})
}

func (h *Handler) restorePurchase(w http.ResponseWriter, r *http.Request) {
	payload := payments.RestorePurchaseRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(payload.Receipt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "receipt is required"})
		return
	}

	h.state.recordRestore(payload.CustomerID.String())
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (h *Handler) checkoutLog(w http.ResponseWriter, r *http.Request) {
	payload := payments.LogRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	data, _ := sanitizeEventValue(payload.Data, "").(map[string]any)
	h.state.addLog(LogEntry{
		TraceID:   traceID(r),
		Level:     string(payload.Level),
		EventName: sanitizeEventString(payload.EventName, ""),
		Data:      data,
	})
	writeJSON(w, http.StatusOK, payments.StatusResponse{Status: "ok"})
}

func (h *Handler) getFeatures(w http.ResponseWriter, r *http.Request) {
	payload := payments.GetFeaturesRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	writeJSON(w, http.StatusOK, payments.PaidFeatures{Features: h.state.customerFeatures(payload.CustomerID.String())})
}

func (h *Handler) getShowcase(w http.ResponseWriter, r *http.Request) {
	payload := payments.GetShowcaseRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	writeJSON(w, http.StatusOK, payments.GetShowcaseResponse{Status: "ok", PricePoints: h.state.showcase()})
}

type setOrderStateRequest struct {
	State payments.CheckoutState `json:"state"`
}

func (h *Handler) setOrderState(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}
	payload := setOrderStateRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	order, err := h.state.setState(orderID, payload.State)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	h.announceSettled(r.Context(), order)
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return
	}
	order, err := h.state.order(orderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	entries := h.state.logEntries(strings.TrimSpace(r.URL.Query().Get("trace_id")))
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

type putShowcaseRequest struct {
	PricePoints []payments.PricePoint `json:"pricePoints"`
}

func (h *Handler) putShowcase(w http.ResponseWriter, r *http.Request) {
	payload := putShowcaseRequest{}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	for _, pp := range payload.PricePoints {
		if strings.TrimSpace(pp.Ident) == "" || strings.TrimSpace(pp.AppStoreID) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ident and productId are required"})
			return
		}
	}
	h.state.setShowcase(payload.PricePoints)
	writeJSON(w, http.StatusOK, map[string]any{"pricePoints": len(payload.PricePoints)})
}

// announceSettled publishes a terminal order to the order stream and webhook.
func (h *Handler) announceSettled(ctx context.Context, order Order) {
	log := h.log.WithFields(logrus.Fields{
		"order_id": order.ID.String(),
		"trace_id": order.TraceID,
		"state":    order.State,
	})
	log.Info("order settled")

	job := queue.OrderJob{
		OrderID:    order.ID.String(),
		CustomerID: order.CustomerID,
		Ident:      order.Ident,
		State:      string(order.State),
		TraceID:    order.TraceID,
	}
	if err := h.producer.EnqueueOrderJob(ctx, job); err != nil {
		log.WithError(err).Warn("order job enqueue failed")
	}
	if _, err := h.notifier.notifyOrderSettled(ctx, order); err != nil {
		log.WithError(err).Warn("order webhook failed")
	}
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found", "error": err.Error()})
	case errors.Is(err, errOrderSettled):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "conflict", "error": err.Error()})
	case errors.Is(err, errInvalidOrderState):
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid", "error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "order update failed"})
	}
}
