package orchestrator

import (
	"context"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

func lastAssistantToolCalls(msgs []convmodel.Message) []convmodel.ToolCall {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleAssistant {
			return msgs[i].ToolCalls
		}
	}
	return nil
}

// toolsStage partitions pending tool calls, runs the approval round-trip
// for blacklisted ones, executes allowed calls concurrently, and appends
// every outcome as a tool message (spec.md §4.8).
func toolsStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	calls := lastAssistantToolCalls(st.Messages)
	if len(calls) == 0 || c.Tools == nil {
		return StageAct, nil
	}

	allowed, blacklisted := c.Tools.Partition(calls)

	var results []toolOutcome
	ran := false
	for _, r := range c.Tools.ExecuteAllowed(ctx, allowed) {
		results = append(results, toolOutcome{callID: r.CallID, name: r.Name, content: r.Content})
		ran = true
	}
	if len(blacklisted) > 0 && c.Approval != nil {
		for _, r := range c.Tools.ExecuteBlacklisted(ctx, c.Approval, blacklisted) {
			results = append(results, toolOutcome{callID: r.CallID, name: r.Name, content: r.Content})
		}
	}

	for _, r := range results {
		st.Messages = append(st.Messages, convmodel.Message{
			Role:       convmodel.RoleTool,
			Content:    r.content,
			ToolCallID: r.callID,
			ToolName:   r.name,
		})
	}
	if ran {
		st.ToolAttempts++
	}
	return StageAct, nil
}

type toolOutcome struct {
	callID  string
	name    string
	content string
}
