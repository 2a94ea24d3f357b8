package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadDefaults(t *testing.T) {
	config, err := Read("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3001", config.Listen.Host)
	assert.Equal(t, []string{"*"}, config.Listen.AllowedOrigins)
	assert.Equal(t, 2*time.Second, config.EmitInterval())
	assert.Equal(t, time.Minute, config.PersistInterval())
	assert.Equal(t, 0.05, config.Simulation.BaseRate)
	assert.Equal(t, "sqlite", config.Storage.Driver)
	assert.Equal(t, "readings.sqlite", config.Storage.DSN)
	assert.Equal(t, []string{"SMR-98756-1-A", "SMR-43563-2-A", "SMR-65228-1-B"}, config.MeterIDs())
	assert.Equal(t, map[string]float64{"SMR-98756-1-A": 1000, "SMR-43563-2-A": 2000, "SMR-65228-1-B": 3000}, config.Baselines())
	assert.False(t, config.DataPlatformEnabled())

	location, err := config.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", location.String())
}

func TestReadFile(t *testing.T) {

	t.Run("YAML", func(t *testing.T) {
		path := writeFile(t, "config.yml", `
listen:
  host: 127.0.0.1:4000
  allowedOrigins: ["http://localhost:3000"]
simulation:
  timeZone: UTC
  emitIntervalMs: 500
  meters:
    - id: M1
      baseline: 10
    - id: M2
      baseline: 20
modbus:
  host: 127.0.0.1:5020
`)
		config, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:4000", config.Listen.Host)
		assert.Equal(t, []string{"http://localhost:3000"}, config.Listen.AllowedOrigins)
		assert.Equal(t, 500*time.Millisecond, config.EmitInterval())
		assert.Equal(t, time.Minute, config.PersistInterval())
		assert.Equal(t, []string{"M1", "M2"}, config.MeterIDs())
		assert.Equal(t, "127.0.0.1:5020", config.Modbus.Host)
	})

	t.Run("JSON with environment overrides", func(t *testing.T) {
		t.Setenv("METERSIM_PERSIST_INTERVAL_MS", "1000")
		t.Setenv("SUPABASE_KEY", "secret")
		path := writeFile(t, "config.json", `{
			"simulation": {"persistIntervalMs": 5000},
			"dataPlatform": {"uploadIntervalSecs": 10, "supabase": {"url": "https://example.supabase.co", "schema": "metering"}}
		}`)
		config, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, time.Second, config.PersistInterval())
		assert.True(t, config.DataPlatformEnabled())
		assert.Equal(t, "secret", config.DataPlatform.Supabase.Key)
		assert.Equal(t, "metering", config.DataPlatform.Supabase.Schema)
		assert.Equal(t, "readings", config.DataPlatform.Supabase.Table)
		assert.Equal(t, 10*time.Second, config.UploadInterval())
	})

	t.Run("Meter without baseline", func(t *testing.T) {
		path := writeFile(t, "config.json", `{"simulation": {"meters": [{"id": "M1", "baseline": 1000}, {"id": "M2"}]}}`)
		_, err := Read(path)
		assert.ErrorContains(t, err, "meter 'M2' has no baseline")
	})

	t.Run("Meter with zero baseline", func(t *testing.T) {
		path := writeFile(t, "config.json", `{"simulation": {"meters": [{"id": "M1", "baseline": 0}]}}`)
		config, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"M1": 0}, config.Baselines())
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Read(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})
}

func TestBaselinesSkipsMissing(t *testing.T) {
	config := Config{Simulation: SimulationConfig{Meters: []MeterConfig{{"M1", Baseline(1000)}, {"M2", nil}}}}
	assert.Equal(t, map[string]float64{"M1": 1000}, config.Baselines())
	assert.Equal(t, []string{"M1", "M2"}, config.MeterIDs())
}

func TestValidate(t *testing.T) {

	valid := func() Config {
		return Config{
			Simulation: SimulationConfig{
				TimeZone:          "UTC",
				EmitIntervalMs:    2000,
				PersistIntervalMs: 60000,
				BaseRate:          0.05,
				MaxNoise:          0.02,
				Meters:            []MeterConfig{{"M1", Baseline(1000)}, {"M2", Baseline(0)}},
			},
			Storage: StorageConfig{Driver: "sqlite", DSN: "readings.sqlite"},
		}
	}

	type subTest struct {
		name        string
		modify      func(c *Config)
		expectError bool
	}

	subTests := []subTest{
		{"Valid", func(c *Config) {}, false},
		{"No meters", func(c *Config) { c.Simulation.Meters = nil }, true},
		{"Empty meter id", func(c *Config) { c.Simulation.Meters[0].ID = "" }, true},
		{"Duplicate meter id", func(c *Config) { c.Simulation.Meters[1].ID = "M1" }, true},
		{"Negative baseline", func(c *Config) { c.Simulation.Meters[0].Baseline = Baseline(-1) }, true},
		{"Baseline above ceiling", func(c *Config) { c.Simulation.Meters[0].Baseline = Baseline(10001) }, true},
		{"Missing baseline", func(c *Config) { c.Simulation.Meters[1].Baseline = nil }, true},
		{"Zero emit interval", func(c *Config) { c.Simulation.EmitIntervalMs = 0 }, true},
		{"Negative noise", func(c *Config) { c.Simulation.MaxNoise = -0.1 }, true},
		{"Unknown time zone", func(c *Config) { c.Simulation.TimeZone = "Mars/Olympus" }, true},
		{"Postgres", func(c *Config) { c.Storage = StorageConfig{Driver: "postgres", DSN: "host=localhost"} }, false},
		{"Unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"Data platform without interval", func(c *Config) {
			c.DataPlatform.Supabase = SupabaseConfig{Url: "https://example.supabase.co", Key: "key"}
		}, true},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			config := valid()
			subTest.modify(&config)
			err := config.Validate()
			if subTest.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
