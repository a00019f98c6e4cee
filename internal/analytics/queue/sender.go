package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/analytics/event"
	"paltabrain/sdk/internal/analytics/wire"
	"paltabrain/sdk/internal/transport"
)

const (
	HeaderSDKName         = "X-SDK-Name"
	HeaderSDKVersion      = "X-SDK-Version"
	HeaderClientUploadTS  = "X-Client-Upload-TS"
	headerContentType     = "Content-Type"
	defaultRequestTimeout = 15 * time.Second
)

// ErrRejected marks a batch the server will never accept. Such batches are
// dropped instead of retried.
var ErrRejected = errors.New("batch rejected by server")

type Sender interface {
	Send(ctx context.Context, events []event.Event) error
}

type RejectedError struct {
	StatusCode int
	Err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: status=%d: %v", ErrRejected, e.StatusCode, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

type BatchSender struct {
	client     transport.Client
	baseURL    atomic.Value
	sdkName    string
	sdkVersion string
	now        func() time.Time
}

func NewBatchSender(client transport.Client, baseURL, sdkName, sdkVersion string) *BatchSender {
	s := &BatchSender{
		client:     client,
		sdkName:    sdkName,
		sdkVersion: sdkVersion,
		now:        time.Now,
	}
	s.baseURL.Store(baseURL)
	return s
}

func (s *BatchSender) SetBaseURL(baseURL string) {
	s.baseURL.Store(baseURL)
}

func (s *BatchSender) BaseURL() string {
	return s.baseURL.Load().(string)
}

func (s *BatchSender) Send(ctx context.Context, events []event.Event) error {
	uploadTS := s.now().UnixMilli()
	body := wire.Encode(wire.Batch{
		ID:              uuid.NewString(),
		UploadTimestamp: uploadTS,
		Events:          events,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	_, err := s.client.Perform(ctx, &transport.Request{
		Method:  http.MethodPost,
		BaseURL: s.BaseURL(),
		Headers: map[string]string{
			HeaderSDKName:        s.sdkName,
			HeaderSDKVersion:     s.sdkVersion,
			HeaderClientUploadTS: strconv.FormatInt(uploadTS, 10),
			headerContentType:    wire.ContentType,
		},
		Body: body,
	})
	if err == nil {
		return nil
	}
	if code, ok := transport.StatusCode(err); ok && isRejection(code) {
		return &RejectedError{StatusCode: code, Err: err}
	}
	return fmt.Errorf("send batch: %w", err)
}

func isRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
