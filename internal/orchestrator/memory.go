package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

// OracleSummarizer implements Summarizer with a plain (non-structured) LLM
// call, grounded on the original's summarization_node (graph.py), which
// hands the running transcript to the model and keeps only its compressed
// output plus the unsummarized tail.
type OracleSummarizer struct {
	Oracle llmoracle.Client
}

const summarizePrompt = "Summarize the conversation below into a short paragraph that preserves the " +
	"facts, decisions, and open threads a later turn would need. Do not add information that " +
	"is not in the transcript. Reply with only the summary.\n\nTranscript:\n%s"

// Summarize compresses msgs into a short paragraph. It never fabricates
// content beyond what the transcript states (spec.md §4.8).
func (s *OracleSummarizer) Summarize(ctx context.Context, msgs []convmodel.Message) (string, error) {
	if s.Oracle == nil {
		return "", fmt.Errorf("orchestrator: summarizer has no oracle configured")
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	prompt := fmt.Sprintf(summarizePrompt, b.String())
	resp, err := s.Oracle.Complete(ctx, llmoracle.Request{
		Messages: []convmodel.Message{{Role: convmodel.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarize: oracle returned an empty summary")
	}
	return summary, nil
}

// OracleProfileUpdater implements ProfileUpdater with a plain LLM call that
// merges new objective facts into the stored bullet-list profile, grounded
// on the original's memoryAgent.CREATE_MEMORY_PROMPT merge rules and the
// Finetunning dataset's "可删除字段" (fields can be deleted) instruction:
// only record facts the user stated about themselves, overwrite conflicts
// with the newest statement, honor an explicit request to forget something
// by dropping the matching bullet, and return the existing profile verbatim
// (never invented text) when nothing new or changed was said.
type OracleProfileUpdater struct {
	Oracle llmoracle.Client
}

const profileMergePrompt = `You maintain a long-term bullet-list profile of one user, used to personalize later replies.

Current saved profile:
%s

Update the profile following these rules exactly:
1. Read the recent conversation turn below.
2. Extract only objective facts the user explicitly stated about themselves: role, location, stable
   long-term preferences, or explicit long-term goals.
3. Merge the new facts into the current profile, removing duplicates.
4. If a new statement conflicts with an existing bullet, the new statement wins.
5. If the user explicitly asks to forget or remove something, delete the matching bullet entirely.
6. Never invent or guess facts the user did not state.
7. If nothing in this turn adds, changes, or removes any fact, reply with the current saved profile
   unchanged, character for character.
8. Reply with a bullet list, one fact per line starting with "- ". If the result has no facts at all,
   reply with exactly "[]".

Recent conversation turn:
%s

Updated profile:`

// Update merges recentUserText into existing and reports whether the
// normalized result differs from the normalized input (spec.md §4.8: the
// profile store is written only on change).
func (p *OracleProfileUpdater) Update(ctx context.Context, existing, recentUserText string) (string, bool, error) {
	if p.Oracle == nil {
		return existing, false, fmt.Errorf("orchestrator: profile updater has no oracle configured")
	}
	normalizedExisting := convmodel.NormalizeProfile(existing)
	prompt := fmt.Sprintf(profileMergePrompt, normalizedExisting, recentUserText)
	resp, err := p.Oracle.Complete(ctx, llmoracle.Request{
		Messages: []convmodel.Message{{Role: convmodel.RoleUser, Content: prompt}},
	})
	if err != nil {
		return existing, false, fmt.Errorf("profile update: %w", err)
	}
	updated := convmodel.NormalizeProfile(strings.TrimSpace(resp.Content))
	if updated == "" {
		updated = convmodel.EmptyProfileLiteral
	}
	return updated, updated != normalizedExisting, nil
}
