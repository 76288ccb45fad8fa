package streams

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jg100/airbyte/pkg/slidingwindow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	d := Default()
	require.NoError(t, d.Validate())
	assert.Equal(t, "ads_insights", d.Name)
	assert.Equal(t, "ad", d.Level)
	assert.Equal(t, 1, d.TimeIncrement)
	assert.Equal(t, AllActionBreakdowns, d.ActionBreakdowns)
	assert.Equal(t, AllActionAttributionWindows, d.ActionAttributionWindows)
	assert.Equal(t, []string{"date_start", "account_id", "ad_id"}, d.PrimaryKey())
	assert.Equal(t, "updated_time", d.UpdatedAtField)
	assert.Equal(t, "updated_time", d.Apply(slidingwindow.Config{}).UpdatedAtField)
}

func TestParse(t *testing.T) {
	t.Parallel()
	defs, err := Parse([]byte(`
streams:
  - name: ads_insights
  - name: ads_insights_age_gender
    breakdowns: [age, gender]
    action_breakdowns: []
    time_increment: 7
    fields: [ad_id, spend, updated_time]
    updated_at_field: updated_time
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	require.Equal(t, DefaultFields, defs[0].Fields)
	require.Equal(t, DefaultUpdatedAtField, defs[0].UpdatedAtField)

	d := defs[1]
	assert.Equal(t, "ad", d.Level)
	assert.Equal(t, 7, d.TimeIncrement)
	assert.Empty(t, d.ActionBreakdowns)
	assert.Equal(t, []string{"date_start", "account_id", "ad_id", "age", "gender"}, d.PrimaryKey())

	assert.Equal(t, "updated_time", d.UpdatedAtField)

	params := d.Params()
	assert.Equal(t, []string{"age", "gender"}, params["breakdowns"])
	assert.Equal(t, []string{"ad_id", "spend", "updated_time"}, params["fields"])
	assert.Equal(t, 7, params["time_increment"])
}

func TestParse_UpdatedAtField(t *testing.T) {
	t.Parallel()
	defs, err := Parse([]byte(`
streams:
  - name: custom_fields
    fields: [ad_id, spend]
  - name: default_fields_own_field
    updated_at_field: date_stop
`))
	require.NoError(t, err)
	assert.Empty(t, defs[0].UpdatedAtField)
	assert.Equal(t, "date_stop", defs[1].UpdatedAtField)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{name: "no streams", yaml: `streams: []`, errContains: "no streams defined"},
		{name: "missing name", yaml: "streams:\n  - level: ad", errContains: "invalid name"},
		{name: "bad level", yaml: "streams:\n  - name: a\n    level: creative", errContains: "invalid level"},
		{name: "time increment too large", yaml: "streams:\n  - name: a\n    time_increment: 91", errContains: "invalid time increment"},
		{name: "negative time increment", yaml: "streams:\n  - name: a\n    time_increment: -1", errContains: "invalid time increment"},
		{name: "duplicate names", yaml: "streams:\n  - name: a\n  - name: a", errContains: "duplicate stream name"},
		{name: "not yaml", yaml: "streams: [", errContains: "decode streams"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			require.ErrorContains(t, err, tt.errContains)
		})
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("INSIGHTS_TEST_STREAM", "custom_insights")
	path := filepath.Join(t.TempDir(), "streams.yaml")
	require.NoError(t, os.WriteFile(path, []byte("streams:\n  - name: ${INSIGHTS_TEST_STREAM}\n"), 0o600))

	defs, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom_insights", defs[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	base := slidingwindow.Config{
		StartDate: start,
		Retention: slidingwindow.DefaultRetention,
		Lookback:  slidingwindow.DefaultLookback,
	}
	d := Default()
	d.TimeIncrement = 3
	d.UpdatedAtField = "updated_time"

	cfg := d.Apply(base)
	assert.Equal(t, "ads_insights", cfg.Stream)
	assert.Equal(t, 3, cfg.GranularityDays)
	assert.Equal(t, "updated_time", cfg.UpdatedAtField)
	assert.Equal(t, start, cfg.StartDate)
	assert.Equal(t, slidingwindow.DefaultLookback, cfg.Lookback)
	assert.Equal(t, "ad", cfg.Params["level"])
}

// windowRecords returns a stale and a fresh record for every window.
type windowRecords struct {
	stale, fresh time.Time
}

func (e windowRecords) Run(_ context.Context, specs []slidingwindow.JobSpec) iter.Seq2[slidingwindow.CompletedJob, error] {
	return func(yield func(slidingwindow.CompletedJob, error) bool) {
		for _, spec := range specs {
			records := []slidingwindow.Record{
				{"date_start": slidingwindow.FormatDate(spec.Window.Start), "ad_id": "1", "updated_time": e.stale.Format("2006-01-02T15:04:05-0700")},
				{"date_start": slidingwindow.FormatDate(spec.Window.Start), "ad_id": "2", "updated_time": e.fresh.Format("2006-01-02T15:04:05-0700")},
			}
			if !yield(slidingwindow.CompletedJob{Spec: spec, Records: records}, nil) {
				return
			}
		}
	}
}

func TestDefault_SyncFiltersStaleRecords(t *testing.T) {
	t.Parallel()
	log := zap.NewNop().Sugar()
	today := slidingwindow.Day(time.Now())
	cfg := Default().Apply(slidingwindow.Config{
		StartDate: slidingwindow.AddDays(today, -5),
		Retention: slidingwindow.DefaultRetention,
		Lookback:  slidingwindow.Period{Days: 2},
	})
	exec := windowRecords{
		stale: slidingwindow.AddDays(today, -4).Add(10 * time.Hour),
		fresh: slidingwindow.AddDays(today, -1).Add(10 * time.Hour),
	}

	sync := func(blob []byte) ([]slidingwindow.Record, []byte) {
		m, err := slidingwindow.NewManager(log, cfg, exec, nil)
		require.NoError(t, err)
		if blob != nil {
			require.NoError(t, m.Load(blob))
		}
		var out []slidingwindow.Record
		for rec, err := range m.Sync(t.Context()) {
			require.NoError(t, err)
			out = append(out, rec)
		}
		state, err := m.Checkpoint()
		require.NoError(t, err)
		return out, state
	}

	// No watermark yet: everything is emitted.
	records, blob := sync(nil)
	require.Len(t, records, 10)

	// The lookback windows are fetched again, only updates after the cursor pass.
	records, _ = sync(blob)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "2", rec["ad_id"])
	}
}
