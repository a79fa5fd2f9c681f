package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

func lastAssistantHasToolCalls(msgs []convmodel.Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleAssistant {
			return len(msgs[i].ToolCalls) > 0
		}
		if msgs[i].Role != convmodel.RoleTool {
			return false
		}
	}
	return false
}

// lastToolMessage returns the most recent tool-role message, if any.
func lastToolMessage(msgs []convmodel.Message) (convmodel.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleTool {
			return msgs[i], true
		}
	}
	return convmodel.Message{}, false
}

func stepPrompt(step string, cap Capability) string {
	base := fmt.Sprintf("Current step: %s.", step)
	switch cap {
	case CapRAGRetrieve:
		return base + " You must call rag_retrieve; if the result is empty or irrelevant, first call rag_rewrite_query then retry, up to 2 attempts."
	case CapNone, CapAskUser:
		return base + " No tool call is required; answer directly."
	default:
		return base + fmt.Sprintf(" Use the %s tool as needed to complete this step.", cap)
	}
}

// actStage executes the per-step logic described in spec.md §4.8.
func actStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	if st.CurrentStepIndex >= len(st.PlanSteps) {
		st.StepStatus = convmodel.StepPlanDone
		return routeAfterAct(st, c), nil
	}
	step := st.PlanSteps[st.CurrentStepIndex]
	cap := Capability(st.PlanCapabilities[st.CurrentStepIndex])

	sysPrompt := stepPrompt(step, cap)
	history := compactToolHistory(st.Messages, c.Limits.MaxToolResultTokens)

	allowed := ToolsAllowed(cap) && st.ToolAttempts < c.Limits.MaxToolAttempts
	var toolDefs []llmoracle.ToolDefinition
	if allowed {
		for _, name := range CapabilityTools[cap] {
			toolDefs = append(toolDefs, llmoracle.ToolDefinition{Name: name})
		}
		if last, ok := lastToolMessage(st.Messages); ok && IsBadToolResult(last.ToolName, last.Content) {
			override := "The previous tool result was empty or failed."
			if cap == CapRAGRetrieve {
				override += " Call rag_rewrite_query before retrying rag_retrieve."
			}
			sysPrompt += " " + override
		}
	}

	msgs := append([]convmodel.Message{{Role: convmodel.RoleSystem, Content: sysPrompt}}, history...)

	req := llmoracle.Request{Messages: msgs, MaxTokens: c.Limits.MaxInputTokens}
	if allowed {
		req.Tools = toolDefs
		req.ToolChoice = llmoracle.ToolChoiceAuto
	}
	if c.Oracle == nil {
		return "", fmt.Errorf("act: no model oracle configured")
	}
	resp, err := c.Oracle.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("act: %w", err)
	}
	st.Usage = st.Usage.Add(resp.Usage)

	calls := resp.ToolCalls
	if !allowed {
		calls = nil
	}
	for i := range calls {
		if calls[i].CallID == "" {
			calls[i].CallID = uuid.NewString()
		}
	}
	assistant := convmodel.Message{Role: convmodel.RoleAssistant, Content: resp.Content, ToolCalls: calls}
	st.Messages = append(st.Messages, assistant)

	if len(calls) > 0 {
		st.StepStatus = convmodel.StepContinue
	} else {
		st.CurrentStepIndex++
		st.ToolAttempts = 0
		if st.CurrentStepIndex >= len(st.PlanSteps) {
			st.StepStatus = convmodel.StepPlanDone
		} else {
			st.StepStatus = convmodel.StepStepDone
		}
	}
	st.LoopCount++

	return routeAfterAct(st, c), nil
}

// routeAfterAct implements the explicit routing rule from Act.
func routeAfterAct(st *convmodel.ConversationState, c Collaborators) string {
	if st.StepStatus == convmodel.StepPlanDone || st.StepStatus == convmodel.StepFail {
		return StageSynthesize
	}
	if st.LoopCount >= c.Limits.MaxLoops {
		return StageSynthesize
	}
	if lastAssistantHasToolCalls(st.Messages) {
		return StageTools
	}
	return StageAct
}

// compactToolHistory returns at most one matched assistant-with-tool-calls
// block and its tool responses, with each tool message truncated
// proportionally (spec.md §4.8 Act step 2).
func compactToolHistory(msgs []convmodel.Message, maxToolResultTokens int) []convmodel.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			block := []convmodel.Message{msgs[i]}
			for j := i + 1; j < len(msgs) && msgs[j].Role == convmodel.RoleTool; j++ {
				m := msgs[j]
				m.Content = TruncateToolResult(m.Content, maxToolResultTokens)
				block = append(block, m)
			}
			return block
		}
	}
	return nil
}
