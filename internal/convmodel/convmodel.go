// Package convmodel defines the conversation data model shared by the
// orchestration graph, the persistence adapter, and the RPC surface: messages,
// token usage, and the serializable per-thread conversation state.
package convmodel

import "fmt"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by an assistant message.
type ToolCall struct {
	CallID string `json:"call_id" bson:"call_id"`
	Name   string `json:"name"    bson:"name"`
	Args   string `json:"args"    bson:"args"`
}

// Message is a tagged variant over {system, user, assistant, tool}. ID is
// stable once assigned. ToolCalls is only meaningful for assistant messages;
// ToolCallID/ToolName are only meaningful for tool messages.
type Message struct {
	ID         string     `json:"id"                    bson:"id"`
	Role       Role       `json:"role"                  bson:"role"`
	Content    string     `json:"content"               bson:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"  bson:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"    bson:"tool_name,omitempty"`
}

// Usage is a non-negative token accumulator. Accumulation is field-wise
// addition (see Add).
type Usage struct {
	Input  int `json:"input"  bson:"input"`
	Output int `json:"output" bson:"output"`
	Total  int `json:"total"  bson:"total"`
}

// Add returns the field-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Input:  u.Input + other.Input,
		Output: u.Output + other.Output,
		Total:  u.Total + other.Total,
	}
}

// StepStatus is the explicit routing signal produced by the Act stage.
type StepStatus string

const (
	StepContinue  StepStatus = "continue"
	StepStepDone  StepStatus = "step_done"
	StepPlanDone  StepStatus = "plan_done"
	StepFail      StepStatus = "fail"
)

// Recognized keys for ConversationState.Context.
const (
	ContextCurrentUserQuestion = "current_user_question"
	ContextSummary             = "summary"
	ContextUserProfileCache    = "user_profile_cache"
)

// ConversationState is the unit of checkpointing: the full per-thread state
// mutated by the orchestration graph and persisted atomically at every stage
// boundary.
type ConversationState struct {
	Messages          []Message         `json:"messages"           bson:"messages"`
	Usage             Usage             `json:"usage"              bson:"usage"`
	Context           map[string]string `json:"context"             bson:"context"`
	RecentPairs       []Message         `json:"recent_pairs"       bson:"recent_pairs"`
	PlanSteps         []string          `json:"plan_steps"         bson:"plan_steps"`
	PlanCapabilities  []string          `json:"plan_capabilities"  bson:"plan_capabilities"`
	CurrentStepIndex  int               `json:"current_step_index" bson:"current_step_index"`
	ToolAttempts      int               `json:"tool_attempts"      bson:"tool_attempts"`
	LoopCount         int               `json:"loop_count"         bson:"loop_count"`
	StepStatus        StepStatus        `json:"step_status"        bson:"step_status"`
	RequiresAgent     bool              `json:"requires_agent"     bson:"requires_agent"`
}

// Validate checks the invariants that must hold after every stage boundary
// (spec.md §3). It is called defensively after every stage transition; a
// violation indicates a programming error in a stage, not a user error.
func (s *ConversationState) Validate(maxLoops, maxToolAttempts int) error {
	if len(s.PlanSteps) != len(s.PlanCapabilities) {
		return fmt.Errorf("convmodel: plan_steps/plan_capabilities length mismatch (%d != %d)",
			len(s.PlanSteps), len(s.PlanCapabilities))
	}
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex > len(s.PlanSteps) {
		return fmt.Errorf("convmodel: current_step_index %d out of range [0,%d]",
			s.CurrentStepIndex, len(s.PlanSteps))
	}
	if s.LoopCount > maxLoops {
		return fmt.Errorf("convmodel: loop_count %d exceeds MAX_LOOPS %d", s.LoopCount, maxLoops)
	}
	if s.ToolAttempts > maxToolAttempts {
		return fmt.Errorf("convmodel: tool_attempts %d exceeds MAX_TOOL_ATTEMPTS %d", s.ToolAttempts, maxToolAttempts)
	}
	known := make(map[string]struct{}, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				known[tc.CallID] = struct{}{}
			}
		}
	}
	for _, m := range s.Messages {
		if m.Role != RoleTool {
			continue
		}
		if _, ok := known[m.ToolCallID]; !ok {
			return fmt.Errorf("convmodel: tool message references unknown tool_call_id %q", m.ToolCallID)
		}
	}
	return nil
}

// NewEmpty returns a freshly initialized ConversationState suitable for a
// thread seen for the first time.
func NewEmpty() *ConversationState {
	return &ConversationState{
		Context:    map[string]string{},
		StepStatus: StepContinue,
	}
}

// UserProfile is the per-user long-term memory record. Memory holds the
// bullet-list text; an empty profile is represented by the literal "[]", per
// spec.md §3, never by words such as "none".
type UserProfile struct {
	Memory string `json:"memory" bson:"memory"`
}

// EmptyProfileLiteral is the canonical empty-profile representation.
const EmptyProfileLiteral = "[]"

// emptyProfileAliases lists inputs that must normalize to EmptyProfileLiteral
// (spec.md §8 round-trip law).
var emptyProfileAliases = map[string]struct{}{
	"空":       {},
	"None":    {},
	"null":    {},
	"":        {},
	"nothing": {},
}

// NormalizeProfile maps any recognized "empty" spelling to the canonical
// empty-profile literal, leaving all other content untouched.
func NormalizeProfile(memory string) string {
	if _, ok := emptyProfileAliases[memory]; ok {
		return EmptyProfileLiteral
	}
	return memory
}
