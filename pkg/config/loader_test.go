package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/uploadguard/pkg/config"
)

type testConfig struct {
	Name     string        `env:"LOADER_TEST_NAME,required"`
	Port     int           `env:"LOADER_TEST_PORT" envDefault:"8080"`
	Debug    bool          `env:"LOADER_TEST_DEBUG" envDefault:"false"`
	Interval time.Duration `env:"LOADER_TEST_INTERVAL" envDefault:"5s"`
}

func TestLoad(t *testing.T) {
	t.Run("reads environment variables", func(t *testing.T) {
		t.Setenv("LOADER_TEST_NAME", "uploadguard")
		t.Setenv("LOADER_TEST_PORT", "9090")
		t.Setenv("LOADER_TEST_DEBUG", "true")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "uploadguard", cfg.Name)
		assert.Equal(t, 9090, cfg.Port)
		assert.True(t, cfg.Debug)
		assert.Equal(t, 5*time.Second, cfg.Interval)
	})

	t.Run("fails when a required variable is missing", func(t *testing.T) {
		// t.Setenv registers the restore; the unset makes the variable
		// genuinely absent rather than empty.
		t.Setenv("LOADER_TEST_NAME", "")
		require.NoError(t, os.Unsetenv("LOADER_TEST_NAME"))

		var cfg testConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("rejects nil pointer", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, config.Load[testConfig](nil), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		t.Setenv("LOADER_TEST_NAME", "")
		require.NoError(t, os.Unsetenv("LOADER_TEST_NAME"))

		var cfg testConfig
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})

	t.Run("loads valid configuration", func(t *testing.T) {
		t.Setenv("LOADER_TEST_NAME", "uploadguard")

		var cfg testConfig
		assert.NotPanics(t, func() { config.MustLoad(&cfg) })
		assert.Equal(t, "uploadguard", cfg.Name)
	})
}
