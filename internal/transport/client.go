package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Request struct {
	Method  string
	BaseURL string
	Path    string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

func (r *Request) URL() string {
	base := strings.TrimRight(r.BaseURL, "/")
	if r.Path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(r.Path, "/")
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs a single HTTP exchange. Non-2xx statuses come back as *NetworkError.
type Client interface {
	Perform(ctx context.Context, req *Request) (*Response, error)
}

type RestyClient struct {
	http *resty.Client
}

func NewRestyClient(timeout time.Duration) *RestyClient {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &RestyClient{http: client}
}

func (c *RestyClient) Perform(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := c.http.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.Query)
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(method, req.URL())
	if err != nil {
		return nil, &NetworkError{Kind: KindNoResponse, Err: err}
	}

	result := &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return result, &NetworkError{Kind: KindBadStatus, StatusCode: result.StatusCode, Body: result.Body}
	}
	return result, nil
}

func JSONBody(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

func DecodeJSON(resp *Response, dest any) error {
	if err := json.Unmarshal(resp.Body, dest); err != nil {
		return &NetworkError{Kind: KindDecoding, StatusCode: resp.StatusCode, Body: resp.Body, Err: err}
	}
	return nil
}

// PerformJSON runs req and decodes a successful response body into dest.
func PerformJSON(ctx context.Context, client Client, req *Request, dest any) error {
	resp, err := client.Perform(ctx, req)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return DecodeJSON(resp, dest)
}
