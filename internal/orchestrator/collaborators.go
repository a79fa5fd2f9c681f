package orchestrator

import (
	"context"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
	"github.com/pgoagent/agentserver/internal/tools"
)

// Limits collects the named constants from spec.md §4.8/§9.
type Limits struct {
	WRecent              int
	TopKTail             int
	MaxLoops             int
	MaxToolAttempts      int
	MaxStructuredRetries int
	MaxInputTokens       int
	MaxToolResultTokens  int
	RerankMinScore       float64
	RRFK                 int
}

// PlanStep is one entry of a validated plan.
type PlanStep struct {
	Description string
	Capability  Capability
}

// Summarizer is the external collaborator invoked by the Summarize stage
// when the message list exceeds budget.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []convmodel.Message) (summary string, err error)
}

// ProfileUpdater merges new objective facts into an existing bullet-list
// profile per the Profile-update stage's rules.
type ProfileUpdater interface {
	Update(ctx context.Context, existing string, recentUserText string) (updated string, changed bool, err error)
}

// Collaborators bundles every external dependency a stage may call.
type Collaborators struct {
	Oracle       llmoracle.Client
	Summarizer   Summarizer
	ProfileStore ProfileUpdater
	Tools        *tools.Registry
	Approval     *tools.Controller
	Limits       Limits
}

// StageFunc transforms state given the collaborators and returns the next
// stage name ("" means the graph has reached a terminal path).
type StageFunc func(ctx context.Context, st *convmodel.ConversationState, c Collaborators) (next string, err error)

// CancelFunc reports whether the in-flight request has been superseded.
// Checked at every stage boundary (spec.md §5 suspension points).
type CancelFunc func() bool

// ErrCanceled is returned when CancelFunc reports true between stages.
type ErrCanceled struct{}

func (ErrCanceled) Error() string { return "orchestrator: request canceled" }
