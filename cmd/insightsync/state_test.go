package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPrintState(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	require.NoError(t, store.Write(t.Context(), "ads_insights", []byte(`{"cursor":"2024-01-31","completed_windows":[],"granularity_days":1}`)))

	var out bytes.Buffer
	require.NoError(t, printState(t.Context(), &out, store, "ads_insights"))
	assert.Equal(t, "{\n  \"cursor\": \"2024-01-31\",\n  \"completed_windows\": [],\n  \"granularity_days\": 1\n}\n", out.String())

	err := printState(t.Context(), &out, store, "missing")
	require.ErrorContains(t, err, "no state found for stream missing")
}

func TestWriteState(t *testing.T) {
	t.Parallel()
	log := zap.NewNop().Sugar()

	t.Run("normalizes legacy keys", func(t *testing.T) {
		t.Parallel()
		store := newMemStore()
		blob := []byte(`{"date_start":"2024-01-31T00:00:00Z","slices":["2024-02-02","2024-02-03"],"time_increment":1}`)
		require.NoError(t, writeState(t.Context(), log, store, "ads_insights", 1, blob))

		got, ok, err := store.Read(t.Context(), "ads_insights")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"cursor":"2024-01-31","completed_windows":["2024-02-02","2024-02-03"],"granularity_days":1}`, string(got))
	})

	t.Run("refuses granularity mismatch", func(t *testing.T) {
		t.Parallel()
		store := newMemStore()
		blob := []byte(`{"cursor":"2024-01-31","granularity_days":7}`)
		err := writeState(t.Context(), log, store, "ads_insights", 1, blob)
		require.ErrorContains(t, err, "refusing to import an empty state")
		assert.Zero(t, store.writes)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		err := writeState(t.Context(), log, newMemStore(), "ads_insights", 1, []byte(`{`))
		require.Error(t, err)
	})
}
