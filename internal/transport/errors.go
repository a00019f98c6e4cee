package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindNoResponse Kind = "no_response"
	KindBadStatus  Kind = "bad_status"
	KindDecoding   Kind = "decoding"
)

var (
	ErrNoResponse = errors.New("no response from server")
	ErrBadStatus  = errors.New("unexpected response status")
	ErrDecoding   = errors.New("response decoding failed")
)

// NetworkError separates "the server never answered or answered garbage" from
// "the server answered with a non-2xx status".
type NetworkError struct {
	Kind       Kind
	StatusCode int
	Body       []byte
	Err        error
}

func (e *NetworkError) Error() string {
	switch e.Kind {
	case KindBadStatus:
		body := strings.TrimSpace(string(e.Body))
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Sprintf("%s: status=%d body=%s", ErrBadStatus, e.StatusCode, body)
	case KindDecoding:
		return fmt.Sprintf("%s: %v", ErrDecoding, e.Err)
	default:
		return fmt.Sprintf("%s: %v", ErrNoResponse, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	switch target {
	case ErrNoResponse:
		return e.Kind == KindNoResponse
	case ErrBadStatus:
		return e.Kind == KindBadStatus
	case ErrDecoding:
		return e.Kind == KindDecoding
	}
	return false
}

// Transient reports whether repeating the same request may succeed.
func (e *NetworkError) Transient() bool {
	switch e.Kind {
	case KindNoResponse:
		return true
	case KindBadStatus:
		return e.StatusCode >= 500 ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode == http.StatusRequestTimeout
	default:
		return false
	}
}

func StatusCode(err error) (int, bool) {
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Kind == KindBadStatus {
		return netErr.StatusCode, true
	}
	return 0, false
}
