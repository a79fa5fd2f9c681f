// Package orchestrator implements the Orchestration Graph (spec.md §4.8):
// an explicit ConversationState machine with named stages and typed
// conditional routing, replacing the teacher's dynamic graph-of-callables
// with an explicit dispatch table as spec.md §9's redesign note directs.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

const (
	StageSummarize     = "summarize"
	StageDecide        = "decide"
	StageChat          = "chat"
	StagePlan          = "plan"
	StageAct           = "act"
	StageTools         = "tools"
	StageSynthesize    = "synthesize"
	StageProfileUpdate = "profile-update"
)

// ProgressFunc is invoked after every stage with a human-readable label and
// the token delta spent in that stage, driving ChatStream's progress chunks
// (spec.md §4.9). May be nil.
type ProgressFunc func(stage string, delta convmodel.Usage)

// CheckpointFunc persists st after a stage transition (spec.md §4.4: "writes
// happen at every stage transition"). May be nil, in which case Run performs
// no intra-request persistence and the caller is responsible for saving
// st itself once the traversal returns.
type CheckpointFunc func(ctx context.Context, st *convmodel.ConversationState) error

// Run drives one full graph traversal starting at Summarize, honoring the
// explicit routing table in spec.md §4.8, until a terminal path is reached
// or cancel reports true at a stage boundary. onCheckpoint, when non-nil, is
// called after every stage so a mid-request failure never loses more than
// one stage's worth of progress.
func Run(ctx context.Context, st *convmodel.ConversationState, c Collaborators, cancel CancelFunc, onProgress ProgressFunc, onCheckpoint CheckpointFunc) error {
	stage := StageSummarize
	for stage != "" {
		if cancel != nil && cancel() {
			return ErrCanceled{}
		}
		before := st.Usage
		fn, ok := dispatch[stage]
		if !ok {
			return fmt.Errorf("orchestrator: unknown stage %q", stage)
		}
		next, err := fn(ctx, st, c)
		if err != nil {
			return fmt.Errorf("orchestrator: stage %q: %w", stage, err)
		}
		if err := st.Validate(c.Limits.MaxLoops, c.Limits.MaxToolAttempts); err != nil {
			return fmt.Errorf("orchestrator: stage %q left state invalid: %w", stage, err)
		}
		if onCheckpoint != nil {
			if err := onCheckpoint(ctx, st); err != nil {
				return fmt.Errorf("orchestrator: stage %q checkpoint save: %w", stage, err)
			}
		}
		if onProgress != nil {
			delta := convmodel.Usage{Input: st.Usage.Input - before.Input, Output: st.Usage.Output - before.Output, Total: st.Usage.Total - before.Total}
			onProgress(stage, delta)
		}
		stage = next
	}
	return nil
}

var dispatch = map[string]StageFunc{
	StageSummarize:     summarizeStage,
	StageDecide:        decideStage,
	StageChat:          chatStage,
	StagePlan:          planStage,
	StageAct:           actStage,
	StageTools:         toolsStage,
	StageSynthesize:    synthesizeStage,
	StageProfileUpdate: profileUpdateStage,
}

func lastNonEmptyUserMessage(msgs []convmodel.Message) (convmodel.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleUser && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i], true
		}
	}
	return convmodel.Message{}, false
}

// summarizeStage resets per-request scratch fields, appends the newest user
// message to recent_pairs, and invokes the summarizer when over budget.
func summarizeStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	st.PlanSteps = nil
	st.PlanCapabilities = nil
	st.CurrentStepIndex = 0
	st.ToolAttempts = 0
	st.LoopCount = 0
	st.StepStatus = convmodel.StepContinue

	if msg, ok := lastNonEmptyUserMessage(st.Messages); ok {
		st.RecentPairs = append(st.RecentPairs, msg)
		if len(st.RecentPairs) > c.Limits.WRecent {
			st.RecentPairs = st.RecentPairs[len(st.RecentPairs)-c.Limits.WRecent:]
		}
	}

	overBudget := ApproxTokensMessages(st.Messages) > int(float64(c.Limits.MaxInputTokens)*0.6)
	overWindow := len(st.RecentPairs) >= c.Limits.WRecent
	if (overBudget || overWindow) && c.Summarizer != nil {
		summary, err := c.Summarizer.Summarize(ctx, st.Messages)
		if err != nil {
			return "", fmt.Errorf("summarize: %w", err)
		}
		st.Context[convmodel.ContextSummary] = summary
		tail := Tail(st.Messages, c.Limits.TopKTail)
		summaryMsg := convmodel.Message{Role: convmodel.RoleSystem, Content: summary}
		st.Messages = append([]convmodel.Message{summaryMsg}, tail...)
	}
	return StageDecide, nil
}

var decideKeywords = []string{
	"time", "date", "file", "search", "knowledge base", "knowledge-base",
	"database", "mcp", "list", "delete", "create", "read", "write", "calculate",
}

type decideResult struct {
	RequiresAgent bool `json:"requires_agent"`
}

// decideStage routes to Plan or Chat via a keyword pre-check, falling back
// to a structured LLM call.
func decideStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	question := st.Context[convmodel.ContextCurrentUserQuestion]
	lower := strings.ToLower(question)
	for _, kw := range decideKeywords {
		if strings.Contains(lower, kw) {
			st.RequiresAgent = true
			return StagePlan, nil
		}
	}

	st.RequiresAgent = false
	if c.Oracle == nil {
		return StageChat, nil
	}
	result, err := llmoracle.CallStructured(ctx, c.Oracle, llmoracle.Request{
		Messages: []convmodel.Message{{Role: convmodel.RoleUser, Content: question}},
	}, nil, c.Limits.MaxStructuredRetries, func() (json.RawMessage, error) {
		return json.RawMessage(`{"requires_agent":false}`), nil
	})
	if err != nil {
		return StageChat, nil
	}
	st.Usage = st.Usage.Add(result.Usage)
	var parsed decideResult
	if err := json.Unmarshal(result.Value, &parsed); err == nil && parsed.RequiresAgent {
		st.RequiresAgent = true
		return StagePlan, nil
	}
	return StageChat, nil
}

const identitySystemPrompt = "You are a helpful conversational assistant."

func buildChatMessages(st *convmodel.ConversationState, limits Limits) []convmodel.Message {
	msgs := []convmodel.Message{{Role: convmodel.RoleSystem, Content: identitySystemPrompt}}
	if hint, ok := st.Context[convmodel.ContextUserProfileCache]; ok && hint != "" {
		if len(hint) > 300 {
			hint = hint[:300]
		}
		msgs = append(msgs, convmodel.Message{Role: convmodel.RoleSystem, Content: "user profile hint: " + hint})
	}
	if summary, ok := st.Context[convmodel.ContextSummary]; ok && summary != "" {
		msgs = append(msgs, convmodel.Message{Role: convmodel.RoleSystem, Content: summary})
	}
	msgs = append(msgs, Tail(st.RecentPairs, limits.WRecent)...)
	return TrimToBudget(msgs, limits.MaxInputTokens)
}

// chatStage handles the no-tools branch.
func chatStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	msgs := buildChatMessages(st, c.Limits)
	if c.Oracle == nil {
		return "", fmt.Errorf("chat: no model oracle configured")
	}
	resp, err := c.Oracle.Complete(ctx, llmoracle.Request{Messages: msgs, MaxTokens: c.Limits.MaxInputTokens})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
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

type planStepJSON struct {
	Description string `json:"description"`
	Capability  string `json:"capability"`
}

const fallbackPlanDescription = "直接回答用户问题"

// planStage issues a structured LLM call returning an ordered plan,
// validating each step against the closed capability set.
func planStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	question := st.Context[convmodel.ContextCurrentUserQuestion]
	fallback := func() (json.RawMessage, error) {
		payload, _ := json.Marshal([]planStepJSON{{Description: fallbackPlanDescription, Capability: string(CapNone)}})
		return payload, nil
	}

	if c.Oracle == nil {
		val, _ := fallback()
		return applyPlan(st, val), nil
	}

	result, err := llmoracle.CallStructured(ctx, c.Oracle, llmoracle.Request{
		Messages: []convmodel.Message{{Role: convmodel.RoleUser, Content: question}},
	}, nil, c.Limits.MaxStructuredRetries, fallback)
	if err != nil {
		val, _ := fallback()
		return applyPlan(st, val), nil
	}
	st.Usage = st.Usage.Add(result.Usage)
	return applyPlan(st, result.Value), nil
}

func applyPlan(st *convmodel.ConversationState, raw json.RawMessage) string {
	var steps []planStepJSON
	if err := json.Unmarshal(raw, &steps); err != nil || len(steps) == 0 || len(steps) > 20 {
		steps = []planStepJSON{{Description: fallbackPlanDescription, Capability: string(CapNone)}}
	}
	descriptions := make([]string, 0, len(steps))
	capabilities := make([]string, 0, len(steps))
	for _, s := range steps {
		desc := strings.TrimSpace(s.Description)
		if len([]rune(desc)) < 3 {
			desc = fallbackPlanDescription
		}
		cap := s.Capability
		if !IsValidCapability(cap) {
			cap = string(CapAskUser)
		}
		descriptions = append(descriptions, desc)
		capabilities = append(capabilities, cap)
	}
	st.PlanSteps = descriptions
	st.PlanCapabilities = capabilities
	st.CurrentStepIndex = 0
	return StageAct
}
