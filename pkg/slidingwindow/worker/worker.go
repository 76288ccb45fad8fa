package worker

import (
	"context"

	"github.com/jg100/airbyte/pkg/slidingwindow"
)

// Worker runs a single extraction job and returns all of its result rows.
type Worker interface {
	Process(ctx context.Context, spec slidingwindow.JobSpec) ([]slidingwindow.Record, error)
}
