package checkpointer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCheckpointer struct {
	mock.Mock
}

func (m *mockCheckpointer) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockCheckpointer) Write(ctx context.Context, stream string, state []byte) error {
	args := m.Called(ctx, stream, state)
	return args.Error(0)
}

func (m *mockCheckpointer) Read(ctx context.Context, stream string) ([]byte, bool, error) {
	args := m.Called(ctx, stream)
	state, _ := args.Get(0).([]byte)
	return state, args.Bool(1), args.Error(2)
}

func (m *mockCheckpointer) Delete(ctx context.Context, stream string) error {
	args := m.Called(ctx, stream)
	return args.Error(0)
}

type staticSource struct {
	mu    sync.Mutex
	state []byte
	err   error
}

func (s *staticSource) Checkpoint() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

func (s *staticSource) set(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = []byte(state)
}

const stream = "ads_insights"

func TestStartCheckpointScheduler_WritesAndCancels(t *testing.T) {
	t.Parallel()
	src := &staticSource{state: []byte(`{"cursor":"2024-01-05"}`)}
	checkpointer := &mockCheckpointer{}

	called := make(chan struct{}, 1)
	checkpointer.
		On("Write", mock.Anything, stream, []byte(`{"cursor":"2024-01-05"}`)).
		Run(func(_ mock.Arguments) {
			select {
			case called <- struct{}{}:
			default:
			}
		}).
		Return(nil).
		Once() // Unchanged state is written once
	checkpointer.
		On("Write", mock.Anything, stream, []byte(`{"cursor":"2024-01-06"}`)).
		Return(nil).
		Once() // Final write on graceful shutdown

	cfg := Config{
		Interval:     10 * time.Millisecond,
		WriteTimeout: 1 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 300 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, src, checkpointer, cfg, stream, nil)
	}()

	select {
	case <-called:
		// let a few unchanged ticks pass, then change the state and stop
		time.Sleep(30 * time.Millisecond)
		src.set(`{"cursor":"2024-01-06"}`)
		cancel()
	case <-time.After(500 * time.Millisecond):
		require.Fail(t, "timeout waiting for checkpoint write")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		require.Fail(t, "timeout waiting for scheduler to exit")
	}
	checkpointer.AssertExpectations(t)
}

func TestStartCheckpointScheduler_ErrorPropagates(t *testing.T) {
	t.Parallel()
	src := &staticSource{state: []byte(`{}`)}
	checkpointer := &mockCheckpointer{}
	writeErr := errors.New("write failed")
	checkpointer.
		On("Write", mock.Anything, stream, []byte(`{}`)).
		Return(writeErr).
		Times(4) // initial try + 3 retries

	cfg := Config{
		Interval:     5 * time.Millisecond,
		WriteTimeout: 1 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	gotErr := Start(ctx, src, checkpointer, cfg, stream, nil)
	require.ErrorIs(t, gotErr, writeErr)
	require.ErrorContains(t, gotErr, stream)
	checkpointer.AssertExpectations(t)
}

func TestStartCheckpointScheduler_ImmediateCancel(t *testing.T) {
	t.Parallel()
	src := &staticSource{state: []byte(`{"completed_windows":[]}`)}
	checkpointer := &mockCheckpointer{}

	// Expect shutdown checkpoint write
	checkpointer.
		On("Write", mock.Anything, stream, []byte(`{"completed_windows":[]}`)).
		Return(nil).
		Once()

	cfg := DefaultConfig()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := Start(ctx, src, checkpointer, cfg, stream, nil)
	require.NoError(t, err)
	checkpointer.AssertExpectations(t)
}

func TestFlush(t *testing.T) {
	t.Parallel()
	src := &staticSource{state: []byte(`{"cursor":"2024-01-05"}`)}
	checkpointer := &mockCheckpointer{}
	checkpointer.
		On("Write", mock.Anything, stream, []byte(`{"cursor":"2024-01-05"}`)).
		Return(errors.New("transient")).
		Once()
	checkpointer.
		On("Write", mock.Anything, stream, []byte(`{"cursor":"2024-01-05"}`)).
		Return(nil).
		Once()

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	require.NoError(t, Flush(t.Context(), src, checkpointer, cfg, stream, nil))
	checkpointer.AssertExpectations(t)
}

func TestFlush_SourceError(t *testing.T) {
	t.Parallel()
	src := &staticSource{err: errors.New("encode failed")}
	checkpointer := &mockCheckpointer{}

	err := Flush(t.Context(), src, checkpointer, DefaultConfig(), stream, nil)
	require.ErrorContains(t, err, "encode failed")
	checkpointer.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errContains string
	}{
		{name: "zero interval", mutate: func(c *Config) { c.Interval = 0 }, errContains: "invalid checkpoint interval"},
		{name: "zero write timeout", mutate: func(c *Config) { c.WriteTimeout = 0 }, errContains: "invalid checkpoint write timeout"},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, errContains: "invalid checkpoint max retries"},
		{name: "negative backoff", mutate: func(c *Config) { c.RetryBackoff = -time.Second }, errContains: "invalid checkpoint retry backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.errContains)
		})
	}
}
