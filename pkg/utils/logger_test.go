package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewSugaredLogger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		verbose   bool
		wantDebug bool
	}{
		{verbose: true, wantDebug: true},
		{verbose: false, wantDebug: false},
	}
	for _, tt := range tests {
		log, err := NewSugaredLogger(tt.verbose)
		require.NoError(t, err)
		require.Equal(t, tt.wantDebug, log.Desugar().Core().Enabled(zapcore.DebugLevel))
		require.True(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
	}
}
