package streams

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/jg100/airbyte/pkg/slidingwindow"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultName is the name of the stock stream.
	DefaultName = "ads_insights"
	// DefaultLevel is the aggregation level used when a stream sets none.
	DefaultLevel = "ad"
	// DefaultUpdatedAtField is the record field checked by freshness filtering
	// when a stream requests the default fields.
	DefaultUpdatedAtField = "updated_time"

	// MaxTimeIncrement is the largest window, in days, a report job accepts.
	MaxTimeIncrement = 90
)

var (
	// AllActionBreakdowns is requested when a stream leaves action_breakdowns unset.
	AllActionBreakdowns = []string{
		"action_type",
		"action_target_id",
		"action_destination",
	}
	// AllActionAttributionWindows is requested when a stream leaves
	// action_attribution_windows unset.
	AllActionAttributionWindows = []string{
		"1d_click",
		"7d_click",
		"28d_click",
		"1d_view",
		"7d_view",
		"28d_view",
	}
	// DefaultFields is requested when a stream lists no fields.
	DefaultFields = []string{
		"account_id",
		"account_name",
		"campaign_id",
		"campaign_name",
		"adset_id",
		"adset_name",
		"ad_id",
		"ad_name",
		"date_start",
		"date_stop",
		"impressions",
		"reach",
		"frequency",
		"clicks",
		"unique_clicks",
		"spend",
		"cpc",
		"cpm",
		"ctr",
		"actions",
		"action_values",
		"created_time",
		"updated_time",
	}

	levels = []string{"ad", "adset", "campaign", "account"}
)

// Definition describes one insights stream: what is requested for every
// window and how the stream is windowed.
type Definition struct {
	Name                     string   `yaml:"name"`
	Level                    string   `yaml:"level"`
	Fields                   []string `yaml:"fields"`
	Breakdowns               []string `yaml:"breakdowns"`
	ActionBreakdowns         []string `yaml:"action_breakdowns"`
	ActionAttributionWindows []string `yaml:"action_attribution_windows"`
	TimeIncrement            int      `yaml:"time_increment"`
	// UpdatedAtField enables freshness filtering of emitted records. It
	// defaults to updated_time when Fields is left to the default.
	UpdatedAtField string `yaml:"updated_at_field"`
}

type file struct {
	Streams []Definition `yaml:"streams"`
}

// Default returns the stock ads_insights stream.
func Default() Definition {
	d := Definition{Name: DefaultName}
	d.applyDefaults()
	return d
}

// Load reads stream definitions from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read streams file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes and validates stream definitions.
func Parse(data []byte) ([]Definition, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode streams: %w", err)
	}
	if len(f.Streams) == 0 {
		return nil, errors.New("no streams defined")
	}
	seen := make(map[string]struct{}, len(f.Streams))
	for i := range f.Streams {
		d := &f.Streams[i]
		d.applyDefaults()
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
		if _, ok := seen[d.Name]; ok {
			return nil, fmt.Errorf("duplicate stream name: %s", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return f.Streams, nil
}

func (d *Definition) applyDefaults() {
	if d.Level == "" {
		d.Level = DefaultLevel
	}
	if len(d.Fields) == 0 {
		d.Fields = slices.Clone(DefaultFields)
		if d.UpdatedAtField == "" {
			d.UpdatedAtField = DefaultUpdatedAtField
		}
	}
	if d.ActionBreakdowns == nil {
		d.ActionBreakdowns = slices.Clone(AllActionBreakdowns)
	}
	if d.ActionAttributionWindows == nil {
		d.ActionAttributionWindows = slices.Clone(AllActionAttributionWindows)
	}
	if d.TimeIncrement == 0 {
		d.TimeIncrement = 1
	}
}

// Validate checks a definition after defaults were applied.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("invalid name: must not be empty")
	}
	if !slices.Contains(levels, d.Level) {
		return fmt.Errorf("invalid level %q: must be one of %v", d.Level, levels)
	}
	if d.TimeIncrement < 1 || d.TimeIncrement > MaxTimeIncrement {
		return fmt.Errorf("invalid time increment %d: must be between 1 and %d", d.TimeIncrement, MaxTimeIncrement)
	}
	for _, b := range d.Breakdowns {
		if b == "" {
			return errors.New("invalid breakdowns: must not contain empty names")
		}
	}
	return nil
}

// Params returns the request parameters shared by every job of the stream.
func (d Definition) Params() slidingwindow.Params {
	return slidingwindow.Params{
		"level":                      d.Level,
		"fields":                     d.Fields,
		"breakdowns":                 d.Breakdowns,
		"action_breakdowns":          d.ActionBreakdowns,
		"action_attribution_windows": d.ActionAttributionWindows,
		"time_increment":             d.TimeIncrement,
	}
}

// PrimaryKey returns the record fields that identify a row of the stream.
func (d Definition) PrimaryKey() []string {
	return append([]string{"date_start", "account_id", "ad_id"}, d.Breakdowns...)
}

// Apply fills the stream specific parts of a window configuration.
func (d Definition) Apply(cfg slidingwindow.Config) slidingwindow.Config {
	cfg.Stream = d.Name
	cfg.GranularityDays = d.TimeIncrement
	cfg.UpdatedAtField = d.UpdatedAtField
	cfg.Params = d.Params()
	return cfg
}
