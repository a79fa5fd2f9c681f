// Package bedrock adapts the AWS Bedrock Converse API to the llmoracle.Client
// interface, grounded on the teacher's bedrock adapter: a narrow
// RuntimeClient seam over *bedrockruntime.Client, system/conversational
// message splitting, and Converse response translation.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter needs.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock adapter's default model identifier.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements llmoracle.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client. Runtime and DefaultModel are required.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{runtime: opts.Runtime, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

func toBedrockMessages(msgs []convmodel.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		var role brtypes.ConversationRole
		switch m.Role {
		case convmodel.RoleUser, convmodel.RoleTool:
			role = brtypes.ConversationRoleUser
		case convmodel.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			continue
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

// Complete issues one Converse call and translates the response.
func (c *Client) Complete(ctx context.Context, req llmoracle.Request) (llmoracle.Response, error) {
	if len(req.Messages) == 0 {
		return llmoracle.Response{}, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  &modelID,
		Messages: toBedrockMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	for _, m := range req.Messages {
		if m.Role == convmodel.RoleSystem {
			input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		}
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTok)
	}
	if maxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: &maxTokens}
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llmoracle.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translate(out), nil
}

func translate(out *bedrockruntime.ConverseOutput) llmoracle.Response {
	var content string
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if ok {
		for _, block := range msgOutput.Value.Content {
			if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
				content += text.Value
			}
		}
	}
	in, outTok := 0, 0
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			in = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			outTok = int(*out.Usage.OutputTokens)
		}
	}
	usage := llmoracle.ExtractUsage(llmoracle.RawUsage{InputTokens: &in, OutputTokens: &outTok})
	return llmoracle.Response{Content: content, Usage: usage, StopKind: string(out.StopReason)}
}
