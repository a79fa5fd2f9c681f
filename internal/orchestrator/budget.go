package orchestrator

import (
	"strings"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

// ApproxTokens is the shared approximate token counter (spec.md §4.8): a
// simple character-based heuristic, grounded on the original's
// chars/4-per-token approximation, kept uniform across every stage that
// needs a budget check.
func ApproxTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ApproxTokensMessages sums ApproxTokens over every message's content.
func ApproxTokensMessages(msgs []convmodel.Message) int {
	total := 0
	for _, m := range msgs {
		total += ApproxTokens(m.Content)
	}
	return total
}

// Tail returns the last n messages of msgs (or all of them if n >= len).
func Tail(msgs []convmodel.Message, n int) []convmodel.Message {
	if n <= 0 || len(msgs) == 0 {
		return nil
	}
	if n >= len(msgs) {
		out := make([]convmodel.Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]convmodel.Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

// TrimToBudget applies the Chat stage's last-N trim rule: drop from the
// front until the total fits maxTokens, but the result always begins and
// ends on a user or system message. An empty result falls back to either the
// single last original message or a synthetic "history truncated" system
// message (spec.md §4.8).
func TrimToBudget(msgs []convmodel.Message, maxTokens int) []convmodel.Message {
	if ApproxTokensMessages(msgs) <= maxTokens || len(msgs) == 0 {
		return msgs
	}

	trimmed := append([]convmodel.Message(nil), msgs...)
	for len(trimmed) > 0 && ApproxTokensMessages(trimmed) > maxTokens {
		trimmed = trimmed[1:]
	}
	for len(trimmed) > 0 && trimmed[0].Role != convmodel.RoleUser && trimmed[0].Role != convmodel.RoleSystem {
		trimmed = trimmed[1:]
	}
	for len(trimmed) > 0 {
		last := trimmed[len(trimmed)-1]
		if last.Role == convmodel.RoleUser || last.Role == convmodel.RoleSystem {
			break
		}
		trimmed = trimmed[:len(trimmed)-1]
	}

	if len(trimmed) == 0 {
		if len(msgs) > 0 {
			return []convmodel.Message{msgs[len(msgs)-1]}
		}
		return []convmodel.Message{{Role: convmodel.RoleSystem, Content: "history truncated"}}
	}
	return trimmed
}

// TruncateToolResult applies the proportional character-cut rule with a 5%
// margin (spec.md §4.8 Act step 2, SPEC_FULL.md supplemented algorithm).
func TruncateToolResult(content string, maxTokens int) string {
	current := ApproxTokens(content)
	if maxTokens <= 0 || current <= maxTokens {
		return content
	}
	ratio := float64(maxTokens) / float64(current)
	truncatedLen := int(float64(len(content)) * ratio * 0.95)
	if truncatedLen <= 0 {
		truncatedLen = 1
	}
	if truncatedLen >= len(content) {
		return content
	}
	return content[:truncatedLen] + "...[truncated]"
}

var failureMarkers = []string{"error:", "failed", "exception", "traceback"}

// IsBadToolResult implements the "bad result" heuristics from SPEC_FULL.md:
// empty content, a known failure marker, an empty JSON object/list, or —
// specifically for rag_retrieve — a zero result count or a "not found"
// marker.
func IsBadToolResult(toolName, content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if trimmed == "{}" || trimmed == "[]" {
		return true
	}
	if toolName == "rag_retrieve" {
		if strings.Contains(lower, `"count":0`) || strings.Contains(lower, `"count": 0`) {
			return true
		}
		if strings.Contains(lower, "not found") {
			return true
		}
	}
	return false
}

// SummarizePlan renders the plan-step descriptions per the Synthesize
// stage's rule: full list when len <= 3, otherwise the first step plus the
// last two with an ellipsis marker in between (SPEC_FULL.md supplemented
// algorithm, sourced from the original's plan-summary helper).
func SummarizePlan(steps []string) string {
	if len(steps) <= 3 {
		return strings.Join(steps, " -> ")
	}
	return steps[0] + " -> ... -> " + strings.Join(steps[len(steps)-2:], " -> ")
}
