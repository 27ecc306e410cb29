package trackmodel_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	. "github.com/go-digitaltwin/go-trackmodel"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want Config
	}{
		{
			name: "Empty",
			yaml: "",
			want: Config{
				Units:    UnitsConfig{Space: "pixels", Time: "frames"},
				Analysis: AnalysisConfig{GlobalTrackInput: "filtered"},
			},
		},
		{
			name: "Full",
			yaml: `
units:
  space: µm
  time: s
analysis:
  parallel: true
  global_track_input: updated
  analyzers: [edge-length, track-length]
filters:
  - feature: QUALITY
    value: 30
    above: true
`,
			want: Config{
				Units: UnitsConfig{Space: "µm", Time: "s"},
				Analysis: AnalysisConfig{
					Parallel:         true,
					GlobalTrackInput: "updated",
					Analyzers:        []string{EdgeLengthKey, TrackLengthKey},
				},
				Filters: []FilterConfig{{Feature: FeatureQuality, Value: 30, Above: true}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("ParseConfig() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	_, err := ParseConfig([]byte(`
analysis:
  global_track_input: sometimes
  analyzers: [edge-length, edge-length, no-such-analyzer]
filters:
  - value: 3
`))
	if err == nil {
		t.Fatal("ParseConfig() succeeded")
	}
	if !errors.Is(err, ErrUnknownAnalyzer) {
		t.Errorf("error = %v, want %v", err, ErrUnknownAnalyzer)
	}
	if !errors.Is(err, ErrDuplicateAnalyzer) {
		t.Errorf("error = %v, want %v", err, ErrDuplicateAnalyzer)
	}
	if n := len(err.(interface{ Unwrap() []error }).Unwrap()); n != 4 {
		t.Errorf("error reports %d problems, want 4:\n%v", n, err)
	}

	for _, tt := range []struct {
		name      string
		analyzers string
		wantErr   bool
	}{
		{"length alone", "[track-length]", true},
		{"speed alone", "[track-speed]", true},
		{"length before edges", "[track-length, edge-length]", true},
		{"edges first", "[edge-length, track-length, track-speed]", false},
		{"no dependencies", "[track-branching, track-kalman]", false},
	} {
		_, err := ParseConfig([]byte("analysis:\n  analyzers: " + tt.analyzers + "\n"))
		if got := errors.Is(err, ErrMissingDependency); got != tt.wantErr {
			t.Errorf("%s: ParseConfig() error = %v, want missing dependency %t", tt.name, err, tt.wantErr)
		}
	}

	if _, err := ParseConfig([]byte("units: [")); err == nil {
		t.Error("ParseConfig(malformed) succeeded")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	m, err := NewModelFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewModelFromConfig() error = %v", err)
	}
	wantEdge := []string{EdgeLengthKey}
	if diff := cmp.Diff(wantEdge, m.Features().EdgeAnalyzerKeys()); diff != "" {
		t.Errorf("EdgeAnalyzerKeys() mismatch (-want +got):\n%s", diff)
	}
	wantTrack := []string{TrackBranchingKey, TrackLengthKey, TrackSpeedKey, TrackKalmanKey}
	if diff := cmp.Diff(wantTrack, m.Features().TrackAnalyzerKeys()); diff != "" {
		t.Errorf("TrackAnalyzerKeys() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	data := []byte(`
units: {space: nm, time: ms}
analysis:
  global_track_input: updated
filters:
  - {feature: QUALITY, value: 10, above: true}
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	m, err := NewModelFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewModelFromConfig() error = %v", err)
	}
	if m.SpaceUnits() != "nm" || m.TimeUnits() != "ms" {
		t.Errorf("Units = %s/%s, want nm/ms", m.SpaceUnits(), m.TimeUnits())
	}
	want := []FeatureFilter{{Feature: FeatureQuality, Value: 10, IsAbove: true}}
	if diff := cmp.Diff(want, m.SpotFilters()); diff != "" {
		t.Errorf("SpotFilters() mismatch (-want +got):\n%s", diff)
	}

	low := NewSpot(0, 0, 0, 1, 5)
	m.AddSpotTo(low, 0)
	m.FilterSpots(m.SpotFilters(), false)
	if m.Spots().Visible(low) {
		t.Error("Configured filter does not apply")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig(missing) error = %v, want %v", err, os.ErrNotExist)
	}
}
