package builtin

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
)

// batchConfig is the batch/batch_input_key/batch_parallel trio person_job
// and sub_diagram nodes read from their own data ("Batch & sub-diagrams").
type batchConfig struct {
	enabled  bool
	inputKey string
	parallel bool
}

func readBatchConfig(data map[string]any) batchConfig {
	enabled, _ := data["batch"].(bool)
	key, _ := data["batch_input_key"].(string)
	if key == "" {
		key = "items"
	}
	parallel, _ := data["batch_parallel"].(bool)
	return batchConfig{enabled: enabled, inputKey: key, parallel: parallel}
}

// batchItems resolves the array a batch node iterates over: inputKey
// looked up in the default input's decoded JSON first, falling back to
// the same key in the execution's variable scope.
func batchItems(req *handler.ExecutionRequest, args map[string]any, cfg batchConfig) ([]any, error) {
	if env, ok := args[string(diagram.LabelDefault)].(envelope.Envelope); ok {
		var decoded map[string]any
		if err := env.AsJSON(&decoded); err == nil {
			if items, ok := decoded[cfg.inputKey].([]any); ok {
				return items, nil
			}
		}
	}
	if items, ok := req.Variables[cfg.inputKey].([]any); ok {
		return items, nil
	}
	return nil, fmt.Errorf("batch_input_key %q did not resolve to an array", cfg.inputKey)
}

// batchRunResult is what a batch-mode Run returns to SerializeOutput:
// the per-item output values (error placeholders included) and how many
// items failed, so SerializeOutput can attach batch_errors to the
// envelope's meta alongside the array body.
type batchRunResult struct {
	items  []any
	errors int
}

// batchResult is one item's outcome: exactly one of val/err is set. A
// failed item never aborts the rest of the batch ("Batch partial-failure
// semantics": partial success, per-item error recorded in the output).
type batchResult struct {
	val any
	err error
}

// batchOutcome is runBatch's overall return: per-item results in input
// order plus a count of items that failed, surfaced as the output
// envelope's batch_errors meta field.
type batchOutcome struct {
	results []batchResult
	errors  int
}

// runBatch invokes fn once per item, honoring batch_parallel up to the
// execution's own worker-pool size. A per-item error is captured rather
// than propagated so the rest of the batch still runs to completion.
func runBatch(ctx context.Context, req *handler.ExecutionRequest, cfg batchConfig, items []any, fn func(context.Context, int, any) (any, error)) batchOutcome {
	out := batchOutcome{results: make([]batchResult, len(items))}
	record := func(i int, v any, err error) {
		out.results[i] = batchResult{val: v, err: err}
		if err != nil {
			out.errors++
		}
	}

	if !cfg.parallel {
		for i, item := range items {
			v, err := fn(ctx, i, item)
			record(i, v, err)
		}
		return out
	}

	limit := req.MaxConcurrent
	if limit <= 0 {
		limit = 8
	}
	sem := make(chan struct{}, limit)
	type outcome struct {
		idx int
		val any
		err error
	}
	results := make(chan outcome, len(items))
	for i, item := range items {
		go func(i int, item any) {
			sem <- struct{}{}
			defer func() { <-sem }()
			v, err := fn(ctx, i, item)
			results <- outcome{idx: i, val: v, err: err}
		}(i, item)
	}
	for range items {
		o := <-results
		record(o.idx, o.val, o.err)
	}
	return out
}
