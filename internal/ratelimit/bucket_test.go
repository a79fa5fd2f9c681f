package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidParams(t *testing.T) {
	_, err := New(0, 10)
	require.Error(t, err)

	_, err = New(10, 0)
	require.Error(t, err)
}

func TestTryTakeNeverExceedsCapacity(t *testing.T) {
	b, err := New(1000, 5)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, b.TryTake(1))
	}
	assert.False(t, b.TryTake(1), "burst must not exceed capacity")
}

func TestTryTakeRefillsOverTime(t *testing.T) {
	b, err := New(1000, 1) // 1ms per token
	require.NoError(t, err)

	fake := time.Now()
	b.now = func() time.Time { return fake }

	require.True(t, b.TryTake(1))
	require.False(t, b.TryTake(1))

	fake = fake.Add(2 * time.Millisecond)
	assert.True(t, b.TryTake(1), "token should have refilled after 2ms")
}
