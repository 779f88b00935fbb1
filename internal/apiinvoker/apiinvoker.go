// Package apiinvoker provides the optional API_INVOKER service (spec
// §4.10): the seam api_job and integrated_api use to make outbound HTTP
// calls. Grounded on the teacher's cmd/workflow-runner/worker/http_worker.go
// executeHTTPRequest (request construction, header defaults, JSON-or-string
// response decoding, status/duration capture).
package apiinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dipeo/dipeo-core/internal/registry"
)

// Request describes one outbound API call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the normalized result of an outbound API call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       any
	DurationMs int64
}

// Invoker is the seam api_job/integrated_api call through.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Key is the typed registry token for the optional API_INVOKER.
var Key = registry.NewKey[Invoker]("API_INVOKER")

// HTTPInvoker is the default Invoker, a thin wrapper over net/http with
// a bounded client timeout (teacher's http_worker uses the same 30s
// default).
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker builds an HTTPInvoker with the given request timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("apiinvoker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "dipeo-core/1.0")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("apiinvoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("apiinvoker: read response: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	return Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       decoded,
		DurationMs: duration.Milliseconds(),
	}, nil
}
