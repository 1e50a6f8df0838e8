package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryBackoff_Schedule(t *testing.T) {
	b := NewBackoff(DeliveryBackoffConfig(5*time.Second, 5*time.Minute, 3))

	assert.Equal(t, 5*time.Second, b.GetNextDelay(1))
	assert.Equal(t, 10*time.Second, b.GetNextDelay(2))
	assert.Equal(t, 20*time.Second, b.GetNextDelay(3))
	assert.Equal(t, 3, b.MaxAttempts())

	assert.False(t, b.Exhausted(1))
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))
}

func TestDeliveryBackoff_CappedAtMaxDelay(t *testing.T) {
	b := NewBackoff(DeliveryBackoffConfig(time.Second, 3*time.Second, 10))

	assert.Equal(t, 3*time.Second, b.GetNextDelay(3))
	assert.Equal(t, 3*time.Second, b.GetNextDelay(50))
}

func TestDeliveryBackoff_MaxBelowBase(t *testing.T) {
	cfg := DeliveryBackoffConfig(time.Second, time.Millisecond, 1)
	assert.Equal(t, time.Second, cfg.MaxDelay)
}

func TestNewBackoff_NormalizesConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Second})
	assert.Equal(t, 1, b.Config().MaxAttempts)
	assert.Equal(t, 1.0, b.Config().Multiplier)
	assert.Equal(t, time.Millisecond, b.GetNextDelay(4))
}

func TestBackoff_Retry(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		err := b.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error", func(t *testing.T) {
		attempts := 0
		expected := errors.New("persistent")
		err := b.Retry(context.Background(), func() error {
			attempts++
			return expected
		})
		assert.Equal(t, expected, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := b.Retry(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoff_RetryWithPredicate_NonRetryable(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 5})
	fatal := errors.New("fatal")

	attempts := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		attempts++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	})

	for i := 0; i < 50; i++ {
		d := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
