package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryer_SucceedsFirstTry(t *testing.T) {
	r := New(DefaultConfig())
	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryer_SucceedsAfterFailures(t *testing.T) {
	r := New(Config{MaxAttempts: 4, InitialDelay: time.Millisecond, Multiplier: 2})
	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2})
	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryer_ContextCanceled(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, func() error {
		return errors.New("would retry")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultConfig_MatchesDebounceSchedule(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 6, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
