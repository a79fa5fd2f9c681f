package llmoracle

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

func TestExtractUsageHandlesAllThreeShapes(t *testing.T) {
	in, out := 10, 20
	u := ExtractUsage(RawUsage{InputTokens: &in, OutputTokens: &out})
	require.Equal(t, convmodel.Usage{Input: 10, Output: 20, Total: 30}, u)

	u = ExtractUsage(RawUsage{PromptTokens: &in, CompletionTokens: &out})
	require.Equal(t, convmodel.Usage{Input: 10, Output: 20, Total: 30}, u)

	u = ExtractUsage(RawUsage{Input: &in, Output: &out})
	require.Equal(t, convmodel.Usage{Input: 10, Output: 20, Total: 30}, u)
}

func TestExtractUsageDefaultsToZero(t *testing.T) {
	require.Equal(t, convmodel.Usage{}, ExtractUsage(RawUsage{}))
}

type failingClient struct{ calls int }

func (f *failingClient) Complete(_ context.Context, _ Request) (Response, error) {
	f.calls++
	return Response{Content: "not json"}, nil
}

func TestCallStructuredRetriesThenFallsBack(t *testing.T) {
	c := &failingClient{}
	result, err := CallStructured(context.Background(), c, Request{}, nil, 3, func() (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, c.calls)
	require.JSONEq(t, `{"ok":true}`, string(result.Value))
}

type succeedingClient struct{}

func (succeedingClient) Complete(_ context.Context, _ Request) (Response, error) {
	return Response{Content: `{"ok":true}`}, nil
}

func TestCallStructuredSucceedsFirstTry(t *testing.T) {
	result, err := CallStructured(context.Background(), succeedingClient{}, Request{}, nil, 3, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result.Value))
}

func TestCallStructuredErrorsWithNoFallback(t *testing.T) {
	c := &failingClient{}
	_, err := CallStructured(context.Background(), c, Request{}, nil, 2, nil)
	require.ErrorIs(t, err, ErrStructuredValidationFailed)
}
