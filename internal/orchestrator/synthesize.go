package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

const synthesizeToolWindow = 3

// recentToolMessages returns the latest k tool messages from the current
// task window, bounded above by the latest user question.
func recentToolMessages(msgs []convmodel.Message, k int) []convmodel.Message {
	startIdx := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleUser {
			startIdx = i
			break
		}
	}
	window := msgs[startIdx:]
	var toolMsgs []convmodel.Message
	for _, m := range window {
		if m.Role == convmodel.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) > k {
		toolMsgs = toolMsgs[len(toolMsgs)-k:]
	}
	return toolMsgs
}

func usedRAGRetrieve(toolMsgs []convmodel.Message) bool {
	for _, m := range toolMsgs {
		if m.ToolName == "rag_retrieve" {
			return true
		}
	}
	return false
}

// synthesizeStage produces the final assistant message from the tool-result
// log and a summarized plan (spec.md §4.8).
func synthesizeStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	question := st.Context[convmodel.ContextCurrentUserQuestion]
	toolMsgs := recentToolMessages(st.Messages, synthesizeToolWindow)

	var b strings.Builder
	fmt.Fprintf(&b, "User question: %s\n", question)
	fmt.Fprintf(&b, "Plan: %s\n", SummarizePlan(st.PlanSteps))
	if usedRAGRetrieve(toolMsgs) {
		b.WriteString("Answer only from the knowledge-base contents returned below.\n")
	}
	for _, m := range toolMsgs {
		fmt.Fprintf(&b, "Tool %s result: %s\n", m.ToolName, m.Content)
	}

	if c.Oracle == nil {
		assistant := convmodel.Message{Role: convmodel.RoleAssistant, Content: "Unable to produce a response."}
		st.Messages = append(st.Messages, assistant)
		return StageProfileUpdate, nil
	}

	resp, err := c.Oracle.Complete(ctx, llmoracle.Request{
		Messages: []convmodel.Message{{Role: convmodel.RoleSystem, Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	st.Usage = st.Usage.Add(resp.Usage)
	assistant := convmodel.Message{Role: convmodel.RoleAssistant, Content: resp.Content}
	st.Messages = append(st.Messages, assistant)
	st.RecentPairs = append(st.RecentPairs, assistant)
	if len(st.RecentPairs) > c.Limits.WRecent {
		st.RecentPairs = st.RecentPairs[len(st.RecentPairs)-c.Limits.WRecent:]
	}
	return StageProfileUpdate, nil
}
