package rpc

import "github.com/pgoagent/agentserver/internal/convmodel"

// UserConfig identifies the caller's tenant/thread scope, carried on every
// request (spec.md §4.9).
type UserConfig struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
}

// ChatRequest is the unary Chat RPC's request.
type ChatRequest struct {
	UserInput  string     `json:"user_input"`
	UserConfig UserConfig `json:"user_config"`
}

// ChatResponse is the unary Chat RPC's response.
type ChatResponse struct {
	Reply      string          `json:"reply"`
	TokenUsage convmodel.Usage `json:"token_usage"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
}

// ChatStreamRequest is the server-stream ChatStream RPC's request.
type ChatStreamRequest struct {
	UserInput  string     `json:"user_input"`
	UserConfig UserConfig `json:"user_config"`
}

// Chunk is one element of the ChatStream RPC's response stream. A chunk
// with NodeName "awaiting_approval" is an interrupt: ApprovalCallID names
// the suspended blacklisted call, to be answered via the ResolveApproval RPC
// before the stream makes further progress (spec.md §4.8 blacklist
// approval).
type Chunk struct {
	Output         string          `json:"output"`
	FinalResponse  bool            `json:"final_response"`
	NodeName       string          `json:"node_name"`
	Token          convmodel.Usage `json:"token"`
	ApprovalCallID string          `json:"approval_call_id,omitempty"`
}

// HistoryRequest is the unary GetConversationHistory RPC's request.
type HistoryRequest struct {
	UserConfig UserConfig `json:"user_config"`
}

// HistoryResponse is the unary GetConversationHistory RPC's response.
// Missing state yields empty values, not an error (spec.md §4.9).
type HistoryResponse struct {
	Pairs           []convmodel.Message `json:"pairs"`
	CumulativeUsage convmodel.Usage     `json:"cumulative_usage"`
	Summary         string              `json:"summary"`
}

// ApprovalResolution is the unary ResolveApproval RPC's request: a human
// decision on a blacklisted tool call previously surfaced by a ChatStream
// "awaiting_approval" chunk.
type ApprovalResolution struct {
	UserConfig UserConfig `json:"user_config"`
	CallID     string     `json:"call_id"`
	Approved   bool       `json:"approved"`
	Reason     string     `json:"reason,omitempty"`
}

// ApprovalResolutionResponse is the unary ResolveApproval RPC's response.
type ApprovalResolutionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CancelRequest is the unary CancelTask RPC's request.
type CancelRequest struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
}

// CancelResponse is the unary CancelTask RPC's response.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ServerInfoResponse is the unary GetServerInfo RPC's response; explicitly
// exempt from auth and rate-limiting (spec.md §4.9).
type ServerInfoResponse struct {
	Version   string `json:"version"`
	StartTime string `json:"start_time"`
	RunTime   string `json:"run_time"`
}
