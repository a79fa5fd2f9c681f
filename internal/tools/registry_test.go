package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgoagent/agentserver/internal/convmodel"
)

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Run(_ context.Context, args json.RawMessage) (string, error) {
	return string(args), nil
}

func TestExecuteAllowedRunsConcurrentlyAndJoins(t *testing.T) {
	reg := New(0)
	reg.Register(echoTool{}, nil)

	calls := []convmodel.ToolCall{
		{CallID: "1", Name: "echo", Args: `{"a":1}`},
		{CallID: "2", Name: "echo", Args: `{"a":2}`},
	}
	results := reg.ExecuteAllowed(context.Background(), calls)
	require.Len(t, results, 2)
	for i, r := range results {
		require.Equal(t, calls[i].CallID, r.CallID)
		require.False(t, r.IsError)
	}
}

func TestExecuteAllowedUnknownToolIsError(t *testing.T) {
	reg := New(0)
	results := reg.ExecuteAllowed(context.Background(), []convmodel.ToolCall{{CallID: "1", Name: "missing", Args: "{}"}})
	require.Len(t, results, 1)
	require.True(t, results[0].IsError)
}

func TestTruncateAppendsMarkerOnlyWhenExceeded(t *testing.T) {
	reg := New(10)
	short := reg.truncate("short")
	require.Equal(t, "short", short)

	long := reg.truncate(strings.Repeat("x", 50))
	require.Contains(t, long, "[output truncated")
	require.True(t, strings.HasPrefix(long, strings.Repeat("x", 10)))
}

func TestPartitionSplitsByBlacklist(t *testing.T) {
	reg := New(0)
	reg.Blacklist("danger")
	allowed, blacklisted := reg.Partition([]convmodel.ToolCall{
		{CallID: "1", Name: "safe"},
		{CallID: "2", Name: "danger"},
	})
	require.Len(t, allowed, 1)
	require.Len(t, blacklisted, 1)
	require.Equal(t, "danger", blacklisted[0].Name)
}

func TestExecuteBlacklistedRespectsApproval(t *testing.T) {
	reg := New(0)
	reg.Register(echoTool{}, nil)
	reg.Blacklist("echo")
	ctl := NewController()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		p, err := ctl.Await(ctx)
		if err != nil {
			return
		}
		ctl.Resolve(p, Answer{Value: "n", Reason: "not now"})
	}()

	results := reg.ExecuteBlacklisted(ctx, ctl, []convmodel.ToolCall{{CallID: "1", Name: "echo", Args: "{}"}})
	require.Len(t, results, 1)
	require.True(t, results[0].IsError)
	require.Contains(t, results[0].Content, "not now")
}
