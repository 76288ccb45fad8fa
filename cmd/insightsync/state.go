package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jg100/airbyte/pkg/checkpointer"
	"github.com/jg100/airbyte/pkg/slidingwindow"
	"github.com/jg100/airbyte/pkg/utils"
)

// stateCommand opens the state store of the command and calls fn with it.
func stateCommand(c *cli.Context, fn func(ctx context.Context, log *zap.SugaredLogger, store checkpointer.Checkpointer) error) error {
	ctx := c.Context
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	backend, err := stateBackend(c)
	if err != nil {
		return err
	}
	chCfg, err := buildClickHouseConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build ClickHouse config: %w", err)
	}

	store, closeStore, err := openStore(ctx, backend, chCfg, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(ctx, sugar, store)
}

func showState(c *cli.Context) error {
	stream := c.String("stream")
	return stateCommand(c, func(ctx context.Context, _ *zap.SugaredLogger, store checkpointer.Checkpointer) error {
		return printState(ctx, c.App.Writer, store, stream)
	})
}

// printState writes the indented state of stream to w.
func printState(ctx context.Context, w io.Writer, store checkpointer.Checkpointer, stream string) error {
	blob, exists, err := store.Read(ctx, stream)
	if err != nil {
		return fmt.Errorf("failed to read state of stream %s: %w", stream, err)
	}
	if !exists {
		return fmt.Errorf("no state found for stream %s", stream)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, blob, "", "  "); err != nil {
		return fmt.Errorf("invalid state of stream %s: %w", stream, err)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}

func importState(c *cli.Context) error {
	def, err := findStream(c)
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(c.Path("file"))
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	return stateCommand(c, func(ctx context.Context, log *zap.SugaredLogger, store checkpointer.Checkpointer) error {
		return writeState(ctx, log, store, def.Name, def.TimeIncrement, blob)
	})
}

// stateSource adapts a State to a checkpointer.Source.
type stateSource struct {
	state *slidingwindow.State
}

func (s stateSource) Checkpoint() ([]byte, error) {
	return json.Marshal(s.state)
}

// writeState decodes blob as the state of a stream with the given granularity
// and persists it in its normalized form.
func writeState(
	ctx context.Context,
	log *zap.SugaredLogger,
	store checkpointer.Checkpointer,
	stream string,
	granularityDays int,
	blob []byte,
) error {
	s, err := slidingwindow.LoadState(log, blob, granularityDays)
	if err != nil {
		return err
	}
	if s.Len() == 0 {
		if _, ok := s.Cursor(); !ok {
			return fmt.Errorf("refusing to import an empty state for stream %s", stream)
		}
	}

	if err := checkpointer.Flush(ctx, stateSource{state: s}, store, checkpointer.DefaultConfig(), stream, nil); err != nil {
		return err
	}
	cursor, _ := s.Cursor()
	log.Infow("state imported",
		"stream", stream,
		"cursor", formatDate(cursor),
		"trackedWindows", s.Len(),
	)
	return nil
}
