package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jg100/airbyte/pkg/checkpointer"
)

func remove(c *cli.Context) error {
	stream := c.String("stream")
	if stream == "" {
		return errors.New("stream name is required")
	}

	return stateCommand(c, func(ctx context.Context, log *zap.SugaredLogger, store checkpointer.Checkpointer) error {
		if err := store.Delete(ctx, stream); err != nil {
			return fmt.Errorf("failed to delete state: %w", err)
		}
		log.Infof("state successfully removed for stream %s", stream)
		return nil
	})
}
