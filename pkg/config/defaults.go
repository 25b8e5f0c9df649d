package config

// Run defaults.
const (
	DefaultWorkers = 0
)

// Matching defaults.
const (
	DefaultWindow     = "1h"
	DefaultPolicy     = "strict"
	DefaultMaskPolicy = "open"
	DefaultConvention = "by_id"
)

// Metric defaults.
const (
	DefaultMinObs = 10
)

// Output defaults.
const (
	DefaultOutputDir = "results"
	FormatLZ4        = "lz4"
	FormatJSON       = "json"
	FormatSQLite     = "sqlite"
	FormatParquet    = "parquet"
)

// Logging and telemetry defaults.
const (
	DefaultLogLevel       = "info"
	DefaultLogJSON        = false
	DefaultPrometheusAddr = ":9464"
)

// Reader types.
const (
	ReaderCSV    = "csv"
	ReaderSQLite = "sqlite"
)
