package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

func TestRetryPolicyOnlyRetriesPersistence(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2)
	persist := clip.PersistenceError("commit", errors.New("deadlock"))

	require.True(t, p.ShouldRetry(persist, 1))
	require.True(t, p.ShouldRetry(persist, 2))
	require.False(t, p.ShouldRetry(persist, 3))
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(clip.TransportError("get", "u", errors.New("x")), 1))
	require.False(t, p.ShouldRetry(errors.Join(persist, context.Canceled), 1))

	var nilPolicy *RetryPolicy
	require.False(t, nilPolicy.ShouldRetry(persist, 1))
}

func TestRetryPolicyBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := &RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
}
