// Package llmoracle implements the LLM Oracle (spec.md §4.7): a uniform
// plain/structured/tool-bound calling surface over heterogeneous provider
// SDKs, plus a token-usage extractor that normalizes the three response
// shapes providers actually return.
package llmoracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

// structuredRetryBackoff computes the exponential back-off delay before a
// structured-call retry (spec.md §4.7/§4.8): 200ms doubled per attempt,
// capped at 5s, grounded on the original's retry/calculateBackoff shape.
func structuredRetryBackoff(attempt int) time.Duration {
	const (
		initial = 200 * time.Millisecond
		max     = 5 * time.Second
	)
	backoff := float64(initial) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(backoff)
}

// ToolChoiceMode mirrors the three calling patterns a caller can request.
type ToolChoiceMode int

const (
	ToolChoiceAuto ToolChoiceMode = iota
	ToolChoiceNone
	ToolChoiceRequired
)

// ToolDefinition describes one callable tool for a tool-bound request.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	Model       string
	Messages    []convmodel.Message
	System      string
	MaxTokens   int
	Temperature float64
	Tools       []ToolDefinition
	ToolChoice  ToolChoiceMode
}

// Response is a provider-agnostic chat completion response.
type Response struct {
	Content   string
	ToolCalls []convmodel.ToolCall
	Usage     convmodel.Usage
	StopKind  string // "end_turn", "tool_use", "max_tokens", ...
}

// Client issues plain and tool-bound requests against a single model
// family.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// RawUsage is the union of the three token-usage response shapes seen
// across providers: {input_tokens,output_tokens} (Anthropic/Bedrock-style),
// {prompt_tokens,completion_tokens} (OpenAI-style), or an already-normalized
// {input,output}.
type RawUsage struct {
	InputTokens      *int `json:"input_tokens,omitempty"`
	OutputTokens     *int `json:"output_tokens,omitempty"`
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	Input            *int `json:"input,omitempty"`
	Output           *int `json:"output,omitempty"`
}

// ExtractUsage normalizes any of the three known shapes into a
// convmodel.Usage. Unknown/zero fields default to 0, never error: usage
// accounting must never block a conversation turn.
func ExtractUsage(raw RawUsage) convmodel.Usage {
	pick := func(candidates ...*int) int {
		for _, c := range candidates {
			if c != nil {
				return *c
			}
		}
		return 0
	}
	in := pick(raw.InputTokens, raw.PromptTokens, raw.Input)
	out := pick(raw.OutputTokens, raw.CompletionTokens, raw.Output)
	return convmodel.Usage{Input: in, Output: out, Total: in + out}
}

// ErrStructuredValidationFailed is returned after exhausting
// MAX_STRUCTURED_RETRIES without a schema-valid response.
var ErrStructuredValidationFailed = errors.New("llmoracle: structured response did not validate after retries")

// StructuredResult is a parsed-and-validated structured call outcome.
type StructuredResult struct {
	Value json.RawMessage
	Usage convmodel.Usage
}

// CallStructured issues req repeatedly (up to maxRetries total attempts),
// validating each response's Content against schema, and falls back to
// fallback (if non-nil) when every attempt fails validation — matching
// MAX_STRUCTURED_RETRIES and the structured-with-fallback calling pattern
// in spec.md §4.7.
func CallStructured(ctx context.Context, client Client, req Request, schema *jsonschema.Schema, maxRetries int, fallback func() (json.RawMessage, error)) (StructuredResult, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	var usage convmodel.Usage
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return StructuredResult{Usage: usage}, ctx.Err()
			case <-time.After(structuredRetryBackoff(attempt - 1)):
			}
		}

		resp, err := client.Complete(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		usage = usage.Add(resp.Usage)

		var v any
		if err := json.Unmarshal([]byte(resp.Content), &v); err != nil {
			lastErr = fmt.Errorf("invalid JSON in structured response: %w", err)
			continue
		}
		if schema != nil {
			if err := schema.Validate(v); err != nil {
				lastErr = fmt.Errorf("structured response failed schema validation: %w", err)
				continue
			}
		}
		return StructuredResult{Value: json.RawMessage(resp.Content), Usage: usage}, nil
	}

	if fallback != nil {
		if val, err := fallback(); err == nil {
			return StructuredResult{Value: val, Usage: usage}, nil
		}
	}
	if lastErr != nil {
		return StructuredResult{Usage: usage}, fmt.Errorf("%w: %v", ErrStructuredValidationFailed, lastErr)
	}
	return StructuredResult{Usage: usage}, ErrStructuredValidationFailed
}
