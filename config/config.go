package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/cepro/metersim/meter"
	"github.com/cepro/metersim/repository"
	"github.com/ilyakaznacheev/cleanenv"
)

type MeterConfig struct {
	ID       string   `json:"id" yaml:"id"`
	Baseline *float64 `json:"baseline" yaml:"baseline"` // required, nil when not configured
}

type ListenConfig struct {
	Host           string   `json:"host" yaml:"host" env:"METERSIM_LISTEN" env-default:"0.0.0.0:3001"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins" env:"METERSIM_ALLOWED_ORIGINS" env-default:"*"`
}

type SimulationConfig struct {
	TimeZone          string        `json:"timeZone" yaml:"timeZone" env:"METERSIM_TIME_ZONE" env-default:"Europe/London"`
	EmitIntervalMs    int           `json:"emitIntervalMs" yaml:"emitIntervalMs" env:"METERSIM_EMIT_INTERVAL_MS" env-default:"2000"`
	PersistIntervalMs int           `json:"persistIntervalMs" yaml:"persistIntervalMs" env:"METERSIM_PERSIST_INTERVAL_MS" env-default:"60000"`
	BaseRate          float64       `json:"baseRate" yaml:"baseRate" env-default:"0.05"`
	MaxNoise          float64       `json:"maxNoise" yaml:"maxNoise" env-default:"0.02"`
	Meters            []MeterConfig `json:"meters" yaml:"meters"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"METERSIM_DB_DRIVER" env-default:"sqlite"`
	// DSN is a file path for sqlite or a connection string for postgres
	DSN string `json:"dsn" yaml:"dsn" env:"METERSIM_DB_DSN" env-default:"readings.sqlite"`
}

type SupabaseConfig struct {
	Url     string `json:"url" yaml:"url" env:"SUPABASE_URL"`
	Key     string `json:"-" yaml:"-" env:"SUPABASE_KEY"` // keys are only read from the environment
	UserKey string `json:"-" yaml:"-" env:"SUPABASE_USER_KEY"`
	Schema  string `json:"schema" yaml:"schema" env:"SUPABASE_SCHEMA" env-default:"public"`
	Table   string `json:"table" yaml:"table" env-default:"readings"`
}

type DataPlatformConfig struct {
	UploadIntervalSecs int            `json:"uploadIntervalSecs" yaml:"uploadIntervalSecs" env-default:"30"`
	Supabase           SupabaseConfig `json:"supabase" yaml:"supabase"`
}

type ModbusConfig struct {
	// Host is the listen address of the modbus server, the server is disabled when empty
	Host string `json:"host" yaml:"host" env:"METERSIM_MODBUS_HOST"`
}

type Config struct {
	LogLevel     string             `json:"logLevel" yaml:"logLevel" env:"METERSIM_LOG_LEVEL" env-default:"info"`
	Listen       ListenConfig       `json:"listen" yaml:"listen"`
	Simulation   SimulationConfig   `json:"simulation" yaml:"simulation"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	DataPlatform DataPlatformConfig `json:"dataPlatform" yaml:"dataPlatform"`
	Modbus       ModbusConfig       `json:"modbus" yaml:"modbus"`
}

// DefaultMeters are simulated when the configuration names none.
var DefaultMeters = []MeterConfig{
	{ID: "SMR-98756-1-A", Baseline: Baseline(1000)},
	{ID: "SMR-43563-2-A", Baseline: Baseline(2000)},
	{ID: "SMR-65228-1-B", Baseline: Baseline(3000)},
}

// Baseline returns a pointer to v for use in MeterConfig.
func Baseline(v float64) *float64 {
	return &v
}

// Read loads the configuration file at `path` (JSON or YAML, by extension) and applies overrides from the
// environment. With an empty path the configuration comes from the environment and defaults alone.
func Read(path string) (Config, error) {
	var config Config

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&config)
	} else {
		err = cleanenv.ReadConfig(path, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if len(config.Simulation.Meters) == 0 {
		config.Simulation.Meters = append([]MeterConfig(nil), DefaultMeters...)
	}

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks the configuration is usable, the process should not start otherwise.
func (c Config) Validate() error {
	if len(c.Simulation.Meters) == 0 {
		return errors.New("no meters configured")
	}
	seen := make(map[string]bool, len(c.Simulation.Meters))
	for i, m := range c.Simulation.Meters {
		if m.ID == "" {
			return fmt.Errorf("meter %d has no id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("meter '%s' is configured more than once", m.ID)
		}
		seen[m.ID] = true
		if m.Baseline == nil {
			return fmt.Errorf("meter '%s' has no baseline", m.ID)
		}
		if *m.Baseline < 0 || *m.Baseline > meter.Ceiling {
			return fmt.Errorf("meter '%s' baseline %v is outside [0, %v]", m.ID, *m.Baseline, meter.Ceiling)
		}
	}

	if c.Simulation.EmitIntervalMs <= 0 || c.Simulation.PersistIntervalMs <= 0 {
		return fmt.Errorf("intervals must be positive: emit %dms, persist %dms", c.Simulation.EmitIntervalMs, c.Simulation.PersistIntervalMs)
	}
	if c.Simulation.BaseRate < 0 || c.Simulation.MaxNoise < 0 {
		return fmt.Errorf("consumption must not be negative: base rate %v, max noise %v", c.Simulation.BaseRate, c.Simulation.MaxNoise)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case repository.DriverSQLite, repository.DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver '%s'", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("no storage dsn")
	}

	if c.DataPlatformEnabled() && c.DataPlatform.UploadIntervalSecs <= 0 {
		return fmt.Errorf("upload interval must be positive: %ds", c.DataPlatform.UploadIntervalSecs)
	}

	return nil
}

// Location returns the time zone that the consumption bands are defined in.
func (c Config) Location() (*time.Location, error) {
	location, err := time.LoadLocation(c.Simulation.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone '%s': %w", c.Simulation.TimeZone, err)
	}
	return location, nil
}

func (c Config) EmitInterval() time.Duration {
	return time.Duration(c.Simulation.EmitIntervalMs) * time.Millisecond
}

func (c Config) PersistInterval() time.Duration {
	return time.Duration(c.Simulation.PersistIntervalMs) * time.Millisecond
}

func (c Config) UploadInterval() time.Duration {
	return time.Duration(c.DataPlatform.UploadIntervalSecs) * time.Second
}

// DataPlatformEnabled is true when Supabase credentials are configured.
func (c Config) DataPlatformEnabled() bool {
	return c.DataPlatform.Supabase.Url != "" && c.DataPlatform.Supabase.Key != ""
}

// MeterIDs returns the configured meters in order.
func (c Config) MeterIDs() []string {
	ids := make([]string, 0, len(c.Simulation.Meters))
	for _, m := range c.Simulation.Meters {
		ids = append(ids, m.ID)
	}
	return ids
}

// Baselines returns the baseline of every configured meter, keyed by meter ID. Meters without a baseline are left
// out, so a session for them refuses to start.
func (c Config) Baselines() map[string]float64 {
	baselines := make(map[string]float64, len(c.Simulation.Meters))
	for _, m := range c.Simulation.Meters {
		if m.Baseline != nil {
			baselines[m.ID] = *m.Baseline
		}
	}
	return baselines
}
