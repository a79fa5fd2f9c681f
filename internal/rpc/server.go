package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/orchestrator"
	"github.com/pgoagent/agentserver/internal/persistence/checkpoint"
	"github.com/pgoagent/agentserver/internal/persistence/profile"
	"github.com/pgoagent/agentserver/internal/sessionregistry"
	"github.com/pgoagent/agentserver/internal/telemetry"
	"github.com/pgoagent/agentserver/internal/tools"
)

// Server implements the six RPC handlers against the orchestration graph,
// session registry, and persistence adapter (spec.md §4.9).
type Server struct {
	Collaborators orchestrator.Collaborators
	Checkpoints   checkpoint.Store[*convmodel.ConversationState]
	Profiles      profile.Store
	Sessions      *sessionregistry.Registry
	Logger        telemetry.Logger

	Version   string
	StartTime time.Time
}

// validateUserConfig rejects the invalid-argument cases from spec.md §7:
// a missing thread_id or user_id, or a user_id that fails the profile
// store's namespace pattern.
func validateUserConfig(cfg UserConfig) error {
	if cfg.ThreadID == "" {
		return status.Error(codes.InvalidArgument, "thread_id is required")
	}
	if cfg.UserID == "" {
		return status.Error(codes.InvalidArgument, "user_id is required")
	}
	if err := profile.ValidateUserID(cfg.UserID); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid user_id: %v", err)
	}
	return nil
}

func (s *Server) loadOrNew(ctx context.Context, threadID string) (*convmodel.ConversationState, error) {
	st, err := s.Checkpoints.Load(ctx, threadID)
	if err == nil {
		return st, nil
	}
	return convmodel.NewEmpty(), nil
}

func (s *Server) loadProfileHint(ctx context.Context, userID string) string {
	memory, err := s.Profiles.Get(ctx, userID)
	if err != nil {
		return ""
	}
	return memory
}

// persistProfileIfChanged writes the profile-update stage's merged text back
// to the profile store; it is a no-op (per spec.md §4.8) when the cached
// hint is unchanged from what was loaded at the start of the request.
func (s *Server) persistProfileIfChanged(ctx context.Context, userID, before string, st *convmodel.ConversationState) {
	after := st.Context[convmodel.ContextUserProfileCache]
	if after == before {
		return
	}
	if err := s.Profiles.Put(ctx, userID, after); err != nil && s.Logger != nil {
		s.Logger.Error(ctx, "profile save failed", "error", err.Error())
	}
}

// saveCheckpoint returns an orchestrator.CheckpointFunc that writes st to the
// checkpoint store after every stage transition (spec.md §4.4: "writes
// happen at every stage transition", so the store stays at the last
// successful boundary if the request fails mid-way). A save failure is
// logged, not propagated, so a transient storage hiccup never aborts an
// otherwise-successful conversation turn.
func (s *Server) saveCheckpoint(threadID string) orchestrator.CheckpointFunc {
	return func(ctx context.Context, st *convmodel.ConversationState) error {
		if err := s.Checkpoints.Save(ctx, threadID, st); err != nil && s.Logger != nil {
			s.Logger.Error(ctx, "checkpoint save failed", "error", err.Error())
		}
		return nil
	}
}

func (s *Server) prepareState(ctx context.Context, cfg UserConfig, userInput string) (*convmodel.ConversationState, error) {
	st, err := s.loadOrNew(ctx, cfg.ThreadID)
	if err != nil {
		return nil, err
	}
	st.Context[convmodel.ContextCurrentUserQuestion] = userInput
	st.Context[convmodel.ContextUserProfileCache] = s.loadProfileHint(ctx, cfg.UserID)
	st.Messages = append(st.Messages, convmodel.Message{Role: convmodel.RoleUser, Content: userInput})
	return st, nil
}

// Chat drives one full graph traversal and returns the final assistant
// message plus cumulative usage (spec.md §4.9).
func (s *Server) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := validateUserConfig(req.UserConfig); err != nil {
		return nil, err
	}
	key := sessionregistry.Key(req.UserConfig.UserID, req.UserConfig.ThreadID)
	handle := sessionregistry.NewCancelHandle()
	s.Sessions.Register(key, handle)
	defer s.Sessions.Unregister(key, handle)

	st, err := s.prepareState(ctx, req.UserConfig, req.UserInput)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "load state: %v", err)
	}
	before := st.Usage
	profileBefore := st.Context[convmodel.ContextUserProfileCache]

	runErr := orchestrator.Run(ctx, st, s.Collaborators, handle.Canceled, nil, s.saveCheckpoint(req.UserConfig.ThreadID))
	if runErr != nil {
		if _, ok := runErr.(orchestrator.ErrCanceled); ok {
			return &ChatResponse{Reply: "task cancelled", Success: true}, nil
		}
		return &ChatResponse{Success: false, Error: runErr.Error()}, nil
	}
	s.persistProfileIfChanged(ctx, req.UserConfig.UserID, profileBefore, st)

	reply := lastAssistantContent(st.Messages)
	delta := convmodel.Usage{
		Input:  st.Usage.Input - before.Input,
		Output: st.Usage.Output - before.Output,
		Total:  st.Usage.Total - before.Total,
	}
	return &ChatResponse{Reply: reply, TokenUsage: delta, Success: true}, nil
}

func lastAssistantContent(msgs []convmodel.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convmodel.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

var stageLabels = map[string]string{
	orchestrator.StageSummarize:     "summarizing context",
	orchestrator.StageDecide:        "deciding whether tools are needed",
	orchestrator.StageChat:          "composing a reply",
	orchestrator.StagePlan:          "planning steps",
	orchestrator.StageAct:           "executing a step",
	orchestrator.StageTools:         "running tools",
	orchestrator.StageSynthesize:    "synthesizing the final answer",
	orchestrator.StageProfileUpdate: "updating your profile",
}

// finalStages are the only stages whose output contributes to the terminal
// chunk's final text (spec.md §4.9).
var finalStages = map[string]bool{
	orchestrator.StageChat:          true,
	orchestrator.StageSynthesize:    true,
	orchestrator.StageProfileUpdate: true,
}

// ChatStream drives one traversal, emitting a progress Chunk after every
// stage and exactly one terminal chunk with FinalResponse = true.
func (s *Server) ChatStream(ctx context.Context, req *ChatStreamRequest, send func(*Chunk) error) error {
	if err := validateUserConfig(req.UserConfig); err != nil {
		return err
	}
	key := sessionregistry.Key(req.UserConfig.UserID, req.UserConfig.ThreadID)
	handle := sessionregistry.NewCancelHandle()
	s.Sessions.Register(key, handle)
	defer s.Sessions.Unregister(key, handle)

	st, err := s.prepareState(ctx, req.UserConfig, req.UserInput)
	if err != nil {
		return status.Errorf(codes.Internal, "load state: %v", err)
	}

	// gRPC streams are not safe for concurrent SendMsg calls; the approval
	// watcher below runs alongside the main progress callback, so every send
	// goes through this mutex.
	var sendMu sync.Mutex
	safeSend := func(c *Chunk) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return send(c)
	}

	runCtx, stopApprovalWatch := context.WithCancel(ctx)
	defer stopApprovalWatch()
	if s.Collaborators.Approval != nil {
		go s.watchApprovals(runCtx, s.Collaborators.Approval, safeSend)
	}

	var finalText string
	totalBefore := st.Usage
	profileBefore := st.Context[convmodel.ContextUserProfileCache]
	onProgress := func(stage string, delta convmodel.Usage) {
		if finalStages[stage] {
			finalText = lastAssistantContent(st.Messages)
		}
		label := stageLabels[stage]
		if label == "" {
			label = stage
		}
		_ = safeSend(&Chunk{Output: label, FinalResponse: false, NodeName: stage, Token: delta})
	}

	if runErr := orchestrator.Run(runCtx, st, s.Collaborators, handle.Canceled, onProgress, s.saveCheckpoint(req.UserConfig.ThreadID)); runErr != nil {
		if _, ok := runErr.(orchestrator.ErrCanceled); ok {
			return safeSend(&Chunk{Output: "task cancelled", FinalResponse: true, NodeName: "canceled"})
		}
		return fmt.Errorf("chat stream: %w", runErr)
	}
	s.persistProfileIfChanged(ctx, req.UserConfig.UserID, profileBefore, st)

	total := convmodel.Usage{
		Input:  st.Usage.Input - totalBefore.Input,
		Output: st.Usage.Output - totalBefore.Output,
		Total:  st.Usage.Total - totalBefore.Total,
	}
	return safeSend(&Chunk{Output: finalText, FinalResponse: true, NodeName: "done", Token: total})
}

// watchApprovals surfaces every blacklisted tool call suspended on ctl as an
// "awaiting_approval" Chunk so a ChatStream client can answer it with the
// ResolveApproval RPC instead of the call blocking until the deadline
// (spec.md §4.8 blacklist approval). It runs for the lifetime of one
// ChatStream call; Await returning an error (ctx canceled) ends the loop.
func (s *Server) watchApprovals(ctx context.Context, ctl *tools.Controller, send func(*Chunk) error) {
	for {
		p, err := ctl.Await(ctx)
		if err != nil {
			return
		}
		_ = send(&Chunk{
			Output:         fmt.Sprintf("approval required for tool %q: %s", p.Name, p.Args),
			FinalResponse:  false,
			NodeName:       "awaiting_approval",
			ApprovalCallID: p.CallID,
		})
	}
}

// ResolveApproval answers a blacklisted tool call previously surfaced by a
// ChatStream "awaiting_approval" chunk, unblocking that call's in-flight
// ExecuteBlacklisted round-trip (spec.md §4.8).
func (s *Server) ResolveApproval(ctx context.Context, req *ApprovalResolution) (*ApprovalResolutionResponse, error) {
	if req.CallID == "" {
		return nil, status.Error(codes.InvalidArgument, "call_id is required")
	}
	if s.Collaborators.Approval == nil {
		return nil, status.Error(codes.FailedPrecondition, "no approval controller configured")
	}
	ans := tools.Answer{Reason: req.Reason}
	if req.Approved {
		ans.Value = "y"
	} else {
		ans.Value = "n"
	}
	if err := s.Collaborators.Approval.ResolveByCallID(req.CallID, ans); err != nil {
		return &ApprovalResolutionResponse{Success: false, Message: err.Error()}, nil
	}
	return &ApprovalResolutionResponse{Success: true, Message: "approval recorded"}, nil
}

// GetConversationHistory reads the latest checkpoint; missing state yields
// empty values, not an error (spec.md §4.9).
func (s *Server) GetConversationHistory(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if err := validateUserConfig(req.UserConfig); err != nil {
		return nil, err
	}
	st, err := s.Checkpoints.Load(ctx, req.UserConfig.ThreadID)
	if err != nil {
		return &HistoryResponse{}, nil
	}
	return &HistoryResponse{
		Pairs:           st.RecentPairs,
		CumulativeUsage: st.Usage,
		Summary:         st.Context[convmodel.ContextSummary],
	}, nil
}

// CancelTask calls the session registry's cancel primitive (spec.md §4.9).
func (s *Server) CancelTask(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	if req.ThreadID == "" {
		return nil, status.Error(codes.InvalidArgument, "thread_id is required")
	}
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	key := sessionregistry.Key(req.UserID, req.ThreadID)
	if s.Sessions.Cancel(key) {
		return &CancelResponse{Success: true, Message: "cancellation requested"}, nil
	}
	return &CancelResponse{Success: false, Message: "no in-flight task for this thread"}, nil
}

// GetServerInfo returns static server info; callers must exempt this method
// from auth and rate-limiting in the interceptor skip lists.
func (s *Server) GetServerInfo(ctx context.Context, _ *struct{}) (*ServerInfoResponse, error) {
	return &ServerInfoResponse{
		Version:   s.Version,
		StartTime: s.StartTime.Format(time.RFC3339),
		RunTime:   time.Since(s.StartTime).String(),
	}, nil
}
