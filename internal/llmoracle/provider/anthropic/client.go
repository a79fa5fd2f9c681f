// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llmoracle.Client interface, grounded on the Anthropic Messages adapter's
// MessagesClient seam (kept narrow here so a test double can satisfy it
// without pulling the full SDK surface).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

// MessagesClient is the subset of *sdk.MessageService the adapter needs,
// satisfied by the real SDK client or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures model-ID resolution and request defaults.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// Client implements llmoracle.Client on top of Anthropic Claude Messages.
type Client struct {
	msg  MessagesClient
	opts Options
}

// New builds a Client. An empty DefaultModel is an error: every request
// must be able to resolve to a concrete model identifier.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{msg: msg, opts: opts}, nil
}

// NewFromAPIKey constructs a Client from a raw API key using the SDK's
// default HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

func (c *Client) resolveModel(req llmoracle.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.opts.DefaultModel
}

func toSDKMessages(msgs []convmodel.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case convmodel.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case convmodel.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case convmodel.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out
}

func toSDKTools(defs []llmoracle.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{}, d.Name))
	}
	return out
}

// Complete issues a single Messages.New call and translates the response
// into a provider-agnostic llmoracle.Response, extracting usage via the
// uniform RawUsage shape.
func (c *Client) Complete(ctx context.Context, req llmoracle.Request) (llmoracle.Response, error) {
	if len(req.Messages) == 0 {
		return llmoracle.Response{}, errors.New("anthropic: messages are required")
	}
	modelID := c.resolveModel(req)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  toSDKMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return llmoracle.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translate(msg)
}

func translate(msg *sdk.Message) (llmoracle.Response, error) {
	var content string
	var calls []convmodel.ToolCall
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			content += variant.Text
		case sdk.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			calls = append(calls, convmodel.ToolCall{CallID: variant.ID, Name: variant.Name, Args: string(args)})
		}
	}
	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)
	usage := llmoracle.ExtractUsage(llmoracle.RawUsage{InputTokens: &in, OutputTokens: &out})
	return llmoracle.Response{
		Content:   content,
		ToolCalls: calls,
		Usage:     usage,
		StopKind:  string(msg.StopReason),
	}, nil
}
