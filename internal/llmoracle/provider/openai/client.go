// Package openai adapts github.com/openai/openai-go to the llmoracle.Client
// interface, grounded on the teacher's go-openai Chat Completions adapter
// shape (narrow ChatClient seam, translateResponse helper) but rewritten
// against the official openai-go SDK already used elsewhere in this module.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

// ChatClient is the subset of the SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter's default model.
type Options struct {
	DefaultModel string
}

// Client implements llmoracle.Client via OpenAI Chat Completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from an existing ChatClient (real or test double).
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: chat, model: modelID}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

func toOpenAIMessages(msgs []convmodel.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case convmodel.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case convmodel.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case convmodel.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case convmodel.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(defs []llmoracle.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
			},
		})
	}
	return out
}

// Complete issues one Chat Completions call and translates the response.
func (c *Client) Complete(ctx context.Context, req llmoracle.Request) (llmoracle.Response, error) {
	if len(req.Messages) == 0 {
		return llmoracle.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.System != "" {
		params.Messages = append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(req.System)}, params.Messages...)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llmoracle.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	return translate(resp), nil
}

func translate(resp *openai.ChatCompletion) llmoracle.Response {
	var content string
	var calls []convmodel.ToolCall
	var stop string
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		content = choice.Message.Content
		stop = string(choice.FinishReason)
		for _, call := range choice.Message.ToolCalls {
			calls = append(calls, convmodel.ToolCall{
				CallID: call.ID,
				Name:   call.Function.Name,
				Args:   call.Function.Arguments,
			})
		}
	}
	prompt := int(resp.Usage.PromptTokens)
	completion := int(resp.Usage.CompletionTokens)
	usage := llmoracle.ExtractUsage(llmoracle.RawUsage{PromptTokens: &prompt, CompletionTokens: &completion})
	return llmoracle.Response{Content: content, ToolCalls: calls, Usage: usage, StopKind: stop}
}
