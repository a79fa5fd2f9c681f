package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

// ErrNoSuchPending is returned by ResolveByCallID when no approval request
// is currently outstanding under the given call_id (already resolved,
// never suspended, or the server restarted since it was surfaced).
var ErrNoSuchPending = errors.New("tools: no pending approval for that call_id")

// Answer is the human decision on a suspended blacklisted call.
type Answer struct {
	Value  string // "y" or "n"
	Reason string
}

func (a Answer) approved() bool { return a.Value == "y" }

// Pending is a single blacklisted call awaiting a human decision. It is
// delivered to the caller through Controller.Await and resolved by a
// matching call to Controller.Resolve or Controller.ResolveByCallID.
type Pending struct {
	CallID string
	Name   string
	Args   string

	resolved chan Answer
}

// Controller runs the interrupt/resume human-approval protocol: a suspend
// point is modeled as a buffered channel handoff rather than a durable
// workflow signal, since a single server instance owns the thread for the
// lifetime of the call (spec.md §1 non-goals) and the request's own
// goroutine can simply block.
//
// This replaces the teacher's Temporal-signal-based interrupt controller
// (runtime/agent/interrupt) with the in-process equivalent of the same
// suspend/resume shape.
type Controller struct {
	pending chan *Pending

	mu       sync.Mutex
	inFlight map[string]*Pending
}

// NewController returns a Controller whose channel holds one published
// approval request that Await has not yet taken; a further RequestApproval
// blocks until Await takes the current one, not until it is resolved.
func NewController() *Controller {
	return &Controller{pending: make(chan *Pending, 1), inFlight: make(map[string]*Pending)}
}

// RequestApproval suspends until a human answers, or ctx is canceled. It
// publishes the Pending on the Controller's channel for a consumer (e.g. the
// RPC layer surfacing an interrupt event to the client) to read via Await.
func (c *Controller) RequestApproval(ctx context.Context, call Pending) (Answer, error) {
	call.resolved = make(chan Answer, 1)
	select {
	case c.pending <- &call:
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
	select {
	case ans := <-call.resolved:
		return ans, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// Await blocks until a Pending approval request is published, or ctx is
// canceled. The returned Pending is tracked by call_id until resolved, so a
// consumer that only has the call_id (e.g. an RPC handler on a separate
// request) can still resolve it via ResolveByCallID.
func (c *Controller) Await(ctx context.Context) (*Pending, error) {
	select {
	case p := <-c.pending:
		c.mu.Lock()
		c.inFlight[p.CallID] = p
		c.mu.Unlock()
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve answers a Pending request previously returned by Await.
func (c *Controller) Resolve(p *Pending, ans Answer) {
	c.mu.Lock()
	delete(c.inFlight, p.CallID)
	c.mu.Unlock()
	p.resolved <- ans
}

// ResolveByCallID answers a Pending request by call_id, for callers (e.g. an
// RPC layer surfacing the interrupt to one request and accepting the resume
// on another) that hold only the identifier, not the Pending value.
func (c *Controller) ResolveByCallID(callID string, ans Answer) error {
	c.mu.Lock()
	p, ok := c.inFlight[callID]
	if ok {
		delete(c.inFlight, callID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrNoSuchPending
	}
	p.resolved <- ans
	return nil
}

// ExecuteBlacklisted runs each blacklisted call's approval round-trip in
// turn (approval is inherently sequential — one human, one decision at a
// time) and executes only the approved calls, via r. Refused calls become
// explicit refusal results rather than errors, matching the original
// graph's refusal-message convention.
func (r *Registry) ExecuteBlacklisted(ctx context.Context, ctl *Controller, calls []convmodel.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, c := range calls {
		ans, err := ctl.RequestApproval(ctx, Pending{CallID: c.CallID, Name: c.Name, Args: c.Args})
		if err != nil {
			results = append(results, Result{CallID: c.CallID, Name: c.Name, Content: fmt.Sprintf("approval request failed: %v", err), IsError: true})
			continue
		}
		if !ans.approved() {
			reason := ans.Reason
			if reason == "" {
				reason = "no reason given"
			}
			results = append(results, Result{CallID: c.CallID, Name: c.Name, Content: fmt.Sprintf("human declined this tool call: %s", reason), IsError: true})
			continue
		}
		results = append(results, r.run(ctx, c))
	}
	return results
}
