package checkpointer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jg100/airbyte/pkg/metrics"
)

// Checkpointer abstracts state persistence across different data stores. A
// checkpoint is the opaque, encoded sync state of one stream, enabling a sync
// to resume after restarts or failures.
type Checkpointer interface {
	// Initialize ensures the underlying storage is ready (creates tables, schemas, etc.). This
	// should be idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Write atomically persists the state of a stream, replacing the previous one.
	Write(ctx context.Context, stream string, state []byte) error

	// Read retrieves the latest state of a stream and whether one exists. If no
	// state exists, exists will be false and state will be nil.
	Read(ctx context.Context, stream string) (state []byte, exists bool, err error)

	// Delete removes the state of a stream. Deleting a missing state is not an error.
	Delete(ctx context.Context, stream string) error
}

// Source provides the state to persist.
type Source interface {
	Checkpoint() ([]byte, error)
}

// Start periodically persists the state of src until ctx is done, then
// writes it one last time. Writes are skipped while the state is unchanged.
// m may be nil to disable metrics.
//
// Returns nil on context cancellation (graceful shutdown), or an error if checkpoint writes
// fail after all retries.
func Start(
	ctx context.Context,
	src Source,
	checkpointer Checkpointer,
	cfg Config,
	stream string,
	m *metrics.Metrics,
) error {
	t := time.NewTicker(cfg.Interval)
	defer t.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown - persist the final state with a fresh context
			_, err := write(context.WithoutCancel(ctx), src, checkpointer, cfg, stream, last, m)
			return err

		case <-t.C:
			written, err := write(ctx, src, checkpointer, cfg, stream, last, m)
			last = written
			if err != nil {
				// Cancelled mid-write; the shutdown write follows.
				if ctx.Err() != nil {
					continue
				}
				return err
			}
		}
	}
}

// Flush persists the current state of src once, with retries.
func Flush(ctx context.Context, src Source, checkpointer Checkpointer, cfg Config, stream string, m *metrics.Metrics) error {
	_, err := write(ctx, src, checkpointer, cfg, stream, nil, m)
	return err
}

// write persists the state unless it equals last, and returns what was persisted.
func write(
	ctx context.Context,
	src Source,
	checkpointer Checkpointer,
	cfg Config,
	stream string,
	last []byte,
	m *metrics.Metrics,
) ([]byte, error) {
	state, err := src.Checkpoint()
	if err != nil {
		return last, fmt.Errorf("failed to encode state of stream %s: %w", stream, err)
	}
	if last != nil && bytes.Equal(state, last) {
		return last, nil
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		// Check if context was cancelled before attempting write
		if ctx.Err() != nil {
			return last, ctx.Err()
		}

		start := time.Now()
		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = checkpointer.Write(writeCtx, stream, state)
		cancel()
		m.RecordCheckpointWrite(lastErr, time.Since(start).Seconds())

		// Write succeeded
		if lastErr == nil {
			return state, nil
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries {
			// Sleep with context awareness
			select {
			case <-time.After(cfg.RetryBackoff):
				// Continue to next retry
			case <-ctx.Done():
				return last, ctx.Err()
			}
		}
	}

	m.IncError(metrics.ErrTypeCheckpoint)
	return last, fmt.Errorf("failed to write checkpoint (stream: %s) after %d retries: %w",
		stream, cfg.MaxRetries+1, lastErr)
}
