package config

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// AddSource includes file:line in every record.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are regular expressions whose matches are masked in
	// log output, on top of the built-in key/token patterns.
	RedactPatterns []string `yaml:"redact_patterns"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the Prometheus listen address, e.g. ":9464".
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`

	// CleanupSchedule is a cron expression for purging expired cache
	// entries and their chunks.
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9464"
	}
}

func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRatio == 0 {
		cfg.SampleRatio = 1.0
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "asky"
	}
}

func applyMaintenanceDefaults(cfg *MaintenanceConfig) {
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "0 */6 * * *"
	}
}
