package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/geoval/pkg/config"
)

const minimalConfig = `datasets:
  - name: ISMN
    reader: {type: csv, path: /data/ismn}
    columns: [sm]
  - name: ASCAT
    reader: {type: sqlite, path: /data/ascat.db}
    columns: [sm]
spatial_reference: ISMN
groups:
  - datasets: [ISMN, ASCAT]
    reference: ISMN
metrics:
  - {n: 2, k: 2, calculator: basic}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".geoval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_Minimal_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultWorkers, cfg.Run.Workers)
	assert.Equal(t, config.DefaultMaskPolicy, cfg.MaskPolicy)
	assert.Equal(t, config.DefaultOutputDir, cfg.Output.Dir)
	assert.Equal(t, []string{config.FormatLZ4}, cfg.Output.Formats)
	assert.Equal(t, config.DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, config.DefaultPrometheusAddr, cfg.Telemetry.PrometheusAddr)

	require.Len(t, cfg.Datasets, 2)
	assert.Equal(t, config.DefaultConvention, cfg.Datasets[0].Convention)

	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, time.Hour, cfg.Groups[0].Window)
	assert.Equal(t, config.DefaultPolicy, cfg.Groups[0].Policy)

	require.Len(t, cfg.Metrics, 1)
	assert.Equal(t, config.DefaultMinObs, cfg.Metrics[0].MinObs)
	assert.False(t, cfg.Scaling.Enabled())
}

func TestLoadConfig_FullFile_Unmarshals(t *testing.T) {
	t.Parallel()

	content := `run:
  workers: 4
  job_list: jobs.csv
  bbox: {min_lon: -10, min_lat: 30, max_lon: 20, max_lat: 60}
  gpis: [1, 2]
datasets:
  - name: ISMN
    reader: {type: csv, path: /data/ismn}
    columns: [sm]
    period: {start: "2020-01-01", end: "2020-12-31T23:00:00Z"}
  - name: ASCAT
    reader: {type: csv, path: /data/ascat}
    convention: by_coords
    columns: [sm, ssf]
    read_args: {time_field: timestamp}
    rate_limit: {rps: 5, burst: 2}
    lookup_distance: 0.25
    cache_entries: 64
masks:
  - name: FLAGS
    reader: {type: csv, path: /data/flags}
    column: ssf
    operator: ">"
    threshold: 1
mask_policy: closed
spatial_reference: ISMN
groups:
  - datasets: [ISMN, ASCAT]
    reference: ISMN
    before: 30m
    after: 2h
    policy: lenient
scaling:
  method: mean_std
  reference: ISMN.sm
metrics:
  - {n: 2, k: 2, calculator: basic, min_obs: 5, reference_only: true}
output:
  dir: out
  formats: [json, sqlite]
logging: {level: debug, json: true}
telemetry:
  prometheus: true
  sample_ratio: 0.5
`

	cfg, err := config.LoadConfig(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Run.Workers)
	assert.Equal(t, "jobs.csv", cfg.Run.JobList)
	assert.InDelta(t, -10.0, cfg.Run.BBox.MinLon, 1e-9)
	assert.InDelta(t, 60.0, cfg.Run.BBox.MaxLat, 1e-9)
	assert.Equal(t, []int64{1, 2}, cfg.Run.GPIs)

	ascat := cfg.Datasets[1]
	assert.Equal(t, "by_coords", ascat.Convention)
	assert.Equal(t, map[string]string{"time_field": "timestamp"}, ascat.ReadArgs)
	assert.InDelta(t, 5.0, ascat.RateLimit.RPS, 1e-9)
	assert.Equal(t, 2, ascat.RateLimit.Burst)
	assert.InDelta(t, 0.25, ascat.LookupDistance, 1e-9)
	assert.Equal(t, 64, ascat.CacheEntries)

	period, err := cfg.Datasets[0].Period.Parse()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), period.Start)

	window := cfg.Groups[0].MatchWindow()
	assert.Equal(t, 30*time.Minute, window.Before)
	assert.Equal(t, 2*time.Hour, window.After)

	assert.Equal(t, ">", cfg.Masks[0].Operator)
	assert.Equal(t, "closed", cfg.MaskPolicy)
	assert.True(t, cfg.Scaling.Enabled())
	assert.Equal(t, 5, cfg.Metrics[0].MinObs)
	assert.True(t, cfg.Metrics[0].ReferenceOnly)
	assert.Equal(t, []string{"json", "sqlite"}, cfg.Output.Formats)
	assert.True(t, cfg.Logging.JSON)
	assert.True(t, cfg.Telemetry.Prometheus)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("GEOVAL_LOGGING_LEVEL", "warn")
	t.Setenv("GEOVAL_OUTPUT_DIR", "/tmp/geoval-out")

	cfg, err := config.LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/tmp/geoval-out", cfg.Output.Dir)
}

func TestLoadConfig_SchemaViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"unknown_top_level_key", minimalConfig + "analyzers: [burndown]\n"},
		{"bad_reader_type", `datasets:
  - {name: ISMN, reader: {type: netcdf, path: x}, columns: [sm]}
`},
		{"dotted_name", `datasets:
  - {name: IS.MN, reader: {type: csv, path: x}, columns: [sm]}
`},
		{"bad_format", minimalConfig + "output: {formats: [xml]}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, config.ErrSchema)
		})
	}
}

func TestLoadConfig_InvalidSemantics(t *testing.T) {
	t.Parallel()

	content := `datasets:
  - {name: ISMN, reader: {type: csv, path: x}, columns: [sm]}
spatial_reference: ISMN
groups:
  - {datasets: [ISMN, SMAP], reference: ISMN}
metrics:
  - {n: 2, k: 2, calculator: basic}
`

	_, err := config.LoadConfig(writeConfig(t, content))
	require.ErrorIs(t, err, config.ErrUnknownDataset)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateDocument_EmptyIsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.ValidateDocument(nil))
	assert.Contains(t, string(config.Schema()), "spatial_reference")
}
