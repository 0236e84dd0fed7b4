package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/config"
	apperrors "devpulse/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnFatal(t *testing.T) {
	cause := errors.New("bad input")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return Stop(cause)
	}, nil)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnFatalAppError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return apperrors.RecoverPanic("stream handler rules", "boom")
	}, nil)

	require.True(t, apperrors.IsPanic(err))
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableAppError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func() error {
		calls++
		return apperrors.ErrDeliveryFailed
	}, nil)

	require.ErrorIs(t, err, apperrors.ErrDeliveryFailed)
	assert.Equal(t, 2, calls)
}

func TestDo_NotifiesBeforeEachWait(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	_ = Do(context.Background(), fastPolicy(3), func() error {
		return errors.New("always")
	}, func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, next)
	})

	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), func() error {
		calls++
		return errors.New("transient")
	}, nil)

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxAttempts: 7, Multiplier: 3})
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.Equal(t, DefaultPolicy().InitialInterval, p.InitialInterval)
	assert.Equal(t, DefaultPolicy().MaxInterval, p.MaxInterval)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Stop(errors.New("x"))))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", apperrors.ErrMalformedPayload)))
	assert.False(t, IsFatal(apperrors.ErrBusy))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.Nil(t, Stop(nil))
}

func TestSchedule_NonDecreasingUpToCap(t *testing.T) {
	for run := 0; run < 50; run++ {
		s := NewSchedule(100*time.Millisecond, 2*time.Second, 2, 0.5)

		prev := time.Duration(0)
		for i := 0; i < 40; i++ {
			d := s.Next()
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, 2*time.Second)
			prev = d
		}
		assert.Equal(t, 2*time.Second, prev)
	}
}

func TestSchedule_NoJitterIsExact(t *testing.T) {
	s := NewSchedule(time.Second, 10*time.Second, 2, 0)

	assert.Equal(t, time.Second, s.Next())
	assert.Equal(t, 2*time.Second, s.Next())
	assert.Equal(t, 4*time.Second, s.Next())
	assert.Equal(t, 8*time.Second, s.Next())
	assert.Equal(t, 10*time.Second, s.Next())
	assert.Equal(t, 10*time.Second, s.Next())
}
