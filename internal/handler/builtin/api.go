package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/apiinvoker"
	"github.com/dipeo/dipeo-core/internal/apikey"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/registry"
)

// APIJobHandler issues one outbound HTTP call through the optional
// API_INVOKER service, grounded on the teacher's http_worker
// executeHTTPRequest (method/url/body/headers from node config).
type APIJobHandler struct {
	handler.Defaults
}

func (APIJobHandler) Validate(req *handler.ExecutionRequest) error {
	url, _ := req.Node.Data["url"].(string)
	if url == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "url"}
	}
	return nil
}

func (APIJobHandler) Run(ctx context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	invoker, err := registry.Resolve(req.Registry, apiinvoker.Key)
	if err != nil {
		return nil, fmt.Errorf("api_job: %w", err)
	}

	apiReq, err := buildAPIRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := invoker.Invoke(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("api_job: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp, fmt.Errorf("api_job: upstream returned status %d", resp.StatusCode)
	}
	return resp, nil
}

func (APIJobHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}

func buildAPIRequest(req *handler.ExecutionRequest) (apiinvoker.Request, error) {
	url, _ := req.Node.Data["url"].(string)
	method, _ := req.Node.Data["method"].(string)

	headers := map[string]string{}
	if h, ok := req.Node.Data["headers"].(map[string]any); ok {
		for k, v := range h {
			headers[k] = fmt.Sprintf("%v", v)
		}
	}

	if keyName, ok := req.Node.Data["api_key_name"].(string); ok && keyName != "" {
		svc, err := registry.Resolve(req.Registry, apikey.Key)
		if err == nil {
			if value, err := svc.Resolve(keyName); err == nil {
				headers["Authorization"] = "Bearer " + value
			}
		}
	}

	var body []byte
	if payload, ok := req.Node.Data["body"].(string); ok {
		body = []byte(payload)
	}

	return apiinvoker.Request{Method: method, URL: url, Headers: headers, Body: body}, nil
}

// IntegratedAPIHandler invokes a named third-party integration through
// api_job's API_INVOKER plumbing. It requires a non-empty provider in
// its node data but builds the request from the node's url/method/
// headers/body exactly as api_job does; provider and operation are not
// used to resolve a URL, so a node without a url fails.
type IntegratedAPIHandler struct {
	handler.Defaults
}

func (IntegratedAPIHandler) Validate(req *handler.ExecutionRequest) error {
	provider, _ := req.Node.Data["provider"].(string)
	if provider == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "provider"}
	}
	return nil
}

func (IntegratedAPIHandler) Run(ctx context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	invoker, err := registry.Resolve(req.Registry, apiinvoker.Key)
	if err != nil {
		return nil, fmt.Errorf("integrated_api: %w", err)
	}

	apiReq, err := buildAPIRequest(req)
	if err != nil {
		return nil, err
	}
	if apiReq.URL == "" {
		return nil, &missingConfigError{NodeType: req.Node.Type, Field: "url"}
	}

	resp, err := invoker.Invoke(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("integrated_api: %w", err)
	}
	return resp, nil
}

func (IntegratedAPIHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}
