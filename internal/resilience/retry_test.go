package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, Backoff: time.Millisecond}
}

func TestDoVal_SuccessFirstAttempt(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls)
}

func TestDoVal_RetriesTransientOnce(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	var calls int
	var retried []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	v, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", context.DeadlineExceeded
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, []int{1}, retried)
}

func TestDoVal_NoRetryOnPermanent(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastRetry()
	cfg.MaxAttempts = 3
	cfg.ShouldRetry = func(error) bool { return true }
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("anything")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, fastRetry(), func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(eris.Wrap(context.DeadlineExceeded, "call")))
	assert.True(t, IsTimeout(errors.New("read tcp: i/o timeout")))
	assert.False(t, IsTimeout(errors.New("bad request")))
	assert.False(t, IsTimeout(nil))
}

func TestIsNetwork(t *testing.T) {
	assert.True(t, IsNetwork(syscall.ECONNREFUSED))
	assert.True(t, IsNetwork(&net.DNSError{Err: "no such host", Name: "api.example.com"}))
	assert.True(t, IsNetwork(errors.New("write: broken pipe")))
	assert.False(t, IsNetwork(errors.New("status 400")))
	assert.False(t, IsNetwork(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewTransientError(errors.New("x"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("quota exceeded")))
}

func TestFromRetrySettings(t *testing.T) {
	cfg := FromRetrySettings(0, 0)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff)

	cfg = FromRetrySettings(1, 100)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff)
}
