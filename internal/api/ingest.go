package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	eventqueue "paltabrain/sdk/internal/analytics/queue"
	"paltabrain/sdk/internal/analytics/wire"
	"paltabrain/sdk/internal/queue"
)

const maxBatchBytes = 10 << 20

func (h *Handler) ingestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if len(body) > maxBatchBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "batch too large"})
		return
	}

	batch, err := wire.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid batch"})
		return
	}

	eventTypes := make([]string, 0, len(batch.Events))
	for _, e := range batch.Events {
		if _, rejected := h.rejectEventTypes[e.EventType]; rejected {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "event type rejected: " + e.EventType})
			return
		}
		eventTypes = append(eventTypes, e.EventType)
	}

	received := ReceivedBatch{
		BatchID:    batch.ID,
		UploadTS:   batch.UploadTimestamp,
		SDKName:    r.Header.Get(eventqueue.HeaderSDKName),
		SDKVersion: r.Header.Get(eventqueue.HeaderSDKVersion),
		Events:     batch.Events,
	}
	h.state.addBatch(received)

	queueError := ""
	job := queue.BatchJob{
		BatchID:    batch.ID,
		UploadTS:   batch.UploadTimestamp,
		EventCount: len(batch.Events),
		EventTypes: eventTypes,
		SDKName:    received.SDKName,
		SDKVersion: received.SDKVersion,
	}
	if err := h.producer.EnqueueBatchJob(r.Context(), job); err != nil {
		queueError = err.Error()
		h.log.WithError(err).WithField("batch_id", batch.ID).Warn("batch job enqueue failed")
	}

	h.log.WithFields(logrus.Fields{
		"batch_id":   batch.ID,
		"batch_size": len(batch.Events),
	}).Info("batch received")

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"batchId":    batch.ID,
		"events":     len(batch.Events),
		"queueError": queueError,
	})
}

// listEvents returns received events with personal data masked.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	eventType := strings.TrimSpace(r.URL.Query().Get("event_type"))
	events := h.state.events(eventType)

	raw, err := json.Marshal(events)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode events failed"})
		return
	}
	sanitized, err := sanitizeEventPayload(raw)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sanitize events failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": sanitized,
	})
}
