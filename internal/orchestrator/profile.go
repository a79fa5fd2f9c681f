package orchestrator

import (
	"context"
	"strings"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

var profileSignalKeywords = []string{"like", "prefer", "live", "work", "name", "favorite", "allergic", "job"}
var firstPersonMarkers = []string{"i ", "i'm", "i am", "my ", "me "}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// shouldUpdateProfile is the lightweight pre-check gating the update LLM
// call (spec.md §4.8): requires both a profile-signal keyword and a
// first-person marker in the latest user text.
func shouldUpdateProfile(userText string) bool {
	lower := strings.ToLower(userText)
	return containsAny(lower, profileSignalKeywords) && containsAny(lower, firstPersonMarkers)
}

// profileUpdateStage runs on every terminal path; it merges new objective
// facts into the stored profile, writing only on change.
func profileUpdateStage(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (string, error) {
	question := st.Context[convmodel.ContextCurrentUserQuestion]
	if !shouldUpdateProfile(question) || c.ProfileStore == nil {
		return "", nil
	}
	existing := st.Context[convmodel.ContextUserProfileCache]
	updated, changed, err := c.ProfileStore.Update(ctx, existing, question)
	if err != nil || !changed {
		return "", nil
	}
	st.Context[convmodel.ContextUserProfileCache] = convmodel.NormalizeProfile(updated)
	return "", nil
}
