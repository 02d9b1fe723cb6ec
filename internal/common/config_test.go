package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFiles_Layering(t *testing.T) {
	base := writeConfig(t, "base.toml", `
[remote]
base_url = "https://platform.example/api/v9"
timeout = "10s"

[engine]
max_workers = 12

[customization]
enable_nickname = true
default_nickname = "first"
`)
	override := writeConfig(t, "override.toml", `
[engine]
max_retries = 5

[customization]
default_nickname = "second"
`)

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "https://platform.example/api/v9", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.TimeoutDuration())
	assert.Equal(t, 12, cfg.Engine.MaxWorkers)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 2, cfg.Engine.OpsPerCredential)
	assert.True(t, cfg.Customization.EnableNickname)
	assert.Equal(t, "second", cfg.Customization.DefaultNickname)
	assert.Equal(t, "./data", cfg.Inventory.DataDir)
}

func TestLoadFromFiles_EnvAndFlags(t *testing.T) {
	t.Setenv("ENTITLE_ENGINE_MAX_WORKERS", "7")
	t.Setenv("ENTITLE_DATA_DIR", "/env/data")
	t.Setenv("ENTITLE_LOG_OUTPUT", "stdout, file ,")
	t.Setenv("ENTITLE_AUDIT_SCHEDULE", "30 */2 * * *")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxWorkers)
	assert.Equal(t, "/env/data", cfg.Inventory.DataDir)
	assert.Equal(t, []string{"stdout", "file"}, cfg.Logging.Output)
	assert.True(t, cfg.Audit.Enabled)

	ApplyFlagOverrides(cfg, "http://flag", "/flag/data", "debug")
	assert.Equal(t, "http://flag", cfg.Remote.BaseURL)
	assert.Equal(t, "/flag/data", cfg.Inventory.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "bad.toml", "[engine\nmax_workers ="))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "zero.toml", "[engine]\nmax_workers = 0\n"))
	assert.ErrorContains(t, err, "max_workers")

	_, err = LoadFromFiles(writeConfig(t, "audit.toml", "[audit]\nenabled = true\nschedule = \"*/2 * * * *\"\n"))
	assert.ErrorContains(t, err, "audit.schedule")
}

func TestValidate_OpsPerCredential(t *testing.T) {
	for _, ops := range []int{1, 2} {
		cfg := NewDefaultConfig()
		cfg.Engine.OpsPerCredential = ops
		assert.NoError(t, cfg.Validate(), ops)
	}

	for _, ops := range []int{0, 3, 10} {
		cfg := NewDefaultConfig()
		cfg.Engine.OpsPerCredential = ops
		assert.ErrorContains(t, cfg.Validate(), "ops_per_credential", ops)
	}

	_, err := LoadFromFiles(writeConfig(t, "ops.toml", "[engine]\nops_per_credential = 3\n"))
	assert.ErrorContains(t, err, "ops_per_credential")
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"0 */6 * * *", false},
		{"*/5 * * * *", false},
		{"15 3 * * 1", false},
		{"* * * * *", true},
		{"*/1 * * * *", true},
		{"*/4 * * * *", true},
		{"not a cron", true},
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateSchedule(tt.schedule)
		if tt.wantErr {
			assert.Error(t, err, tt.schedule)
		} else {
			assert.NoError(t, err, tt.schedule)
		}
	}
}

func TestNewOrderID(t *testing.T) {
	id := NewOrderID()
	assert.Len(t, id, 8)
	assert.Regexp(t, `^[0-9A-F]{8}$`, id)
	assert.NotEqual(t, id, NewOrderID())
}

func TestSafeCall_RecoversPanic(t *testing.T) {
	err := SafeCall(GetLogger(), "boom", func() error {
		panic("kaboom")
	})
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "boom", panicErr.Name)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)

	assert.NoError(t, SafeCall(GetLogger(), "ok", func() error { return nil }))
}
