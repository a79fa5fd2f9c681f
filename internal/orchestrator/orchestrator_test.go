package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
)

type stubOracle struct {
	content string
}

func (s stubOracle) Complete(_ context.Context, _ llmoracle.Request) (llmoracle.Response, error) {
	return llmoracle.Response{Content: s.content, Usage: convmodel.Usage{Input: 1, Output: 1, Total: 2}}, nil
}

func defaultLimits() Limits {
	return Limits{
		WRecent: 16, TopKTail: 6, MaxLoops: 10, MaxToolAttempts: 2,
		MaxStructuredRetries: 3, MaxInputTokens: 4000, MaxToolResultTokens: 1000, RRFK: 60,
	}
}

func TestHappyPathChatNoTools(t *testing.T) {
	st := convmodel.NewEmpty()
	st.Context[convmodel.ContextCurrentUserQuestion] = "Hello, who are you?"
	st.Messages = []convmodel.Message{{Role: convmodel.RoleUser, Content: "Hello, who are you?"}}

	c := Collaborators{Oracle: stubOracle{content: "I am the assistant."}, Limits: defaultLimits()}
	err := Run(context.Background(), st, c, nil, nil, nil)
	require.NoError(t, err)
	require.False(t, st.RequiresAgent)
	require.Len(t, st.RecentPairs, 2) // user question + assistant reply
	require.Equal(t, "I am the assistant.", st.RecentPairs[len(st.RecentPairs)-1].Content)
}

func TestDecideKeywordPreCheckRoutesToPlan(t *testing.T) {
	st := convmodel.NewEmpty()
	st.Context[convmodel.ContextCurrentUserQuestion] = "please search the database for X"
	st.Messages = []convmodel.Message{{Role: convmodel.RoleUser, Content: st.Context[convmodel.ContextCurrentUserQuestion]}}

	c := Collaborators{Oracle: stubOracle{content: `[{"description":"search the db","capability":"search"}]`}, Limits: defaultLimits()}
	err := Run(context.Background(), st, c, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, st.RequiresAgent)
}

func TestLoopCountForcesCutoffToSynthesize(t *testing.T) {
	st := convmodel.NewEmpty()
	st.LoopCount = 10
	st.PlanSteps = []string{"step"}
	st.PlanCapabilities = []string{string(CapNone)}
	st.CurrentStepIndex = 0
	limits := defaultLimits()

	next := routeAfterAct(st, Collaborators{Limits: limits})
	require.Equal(t, StageSynthesize, next)
}

func TestPlanValidationRemapsInvalidCapability(t *testing.T) {
	st := convmodel.NewEmpty()
	next := applyPlan(st, []byte(`[{"description":"do a thing","capability":"not_a_real_capability"}]`))
	require.Equal(t, StageAct, next)
	require.Equal(t, string(CapAskUser), st.PlanCapabilities[0])
}

func TestPlanValidationFallsBackOnEmptyPlan(t *testing.T) {
	st := convmodel.NewEmpty()
	applyPlan(st, []byte(`[]`))
	require.Equal(t, []string{fallbackPlanDescription}, st.PlanSteps)
	require.Equal(t, []string{string(CapNone)}, st.PlanCapabilities)
}
