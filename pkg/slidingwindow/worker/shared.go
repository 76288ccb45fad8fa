package worker

import (
	"errors"
)

var (
	ErrJobFailed   = errors.New("report job failed")
	ErrJobSkipped  = errors.New("report job skipped")
	ErrJobTimedOut = errors.New("report job did not finish in time")
)
