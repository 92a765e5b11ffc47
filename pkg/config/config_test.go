package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcpcmd/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
server:
  port: 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Server.Workers)
	assert.Equal(t, bytesize.MiB, cfg.Server.MaxPacketSize)
	assert.Equal(t, DefaultConnectionTableSize, cfg.Server.ConnectionTableSize)
	assert.Equal(t, DefaultExtensionDir, cfg.Extensions.Dir)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.True(t, cfg.API.IsEnabled())
}

func TestLoadParsesSizesAndDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  max_packet_size: 64Ki
  idle_timeout: 90s
  workers: 4
extensions:
  root: /srv/app
  dir: modules
shutdown_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 64*bytesize.KiB, cfg.Server.MaxPacketSize)
	assert.Equal(t, 90*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/srv/app/modules", cfg.Extensions.Path())
	assert.Equal(t, cfg.Server.UnixSocket+".3", cfg.Server.UnixSocketPath(3))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("TCPCMD_SERVER_PORT", "7123")
	t.Setenv("TCPCMD_LOGGING_LEVEL", "warn")
	t.Setenv("TCPCMD_SERVER_MAX_PACKET_SIZE", "2Mi")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7123, cfg.Server.Port)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, 2*bytesize.MiB, cfg.Server.MaxPacketSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
server:
  max_packet_size: 8Mi
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Server.MaxPacketSize")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMustLoadMissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcpcmd config init")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 7001
	cfg.Server.MaxPacketSize = 256 * bytesize.KiB
	cfg.Extensions.Watch = true

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, loaded.Server.Port)
	assert.Equal(t, 256*bytesize.KiB, loaded.Server.MaxPacketSize)
	assert.True(t, loaded.Extensions.Watch)
	assert.Equal(t, cfg.Telemetry.Profiling.ProfileTypes, loaded.Telemetry.Profiling.ProfileTypes)
}

func TestDefaultConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/tcpcmd", GetConfigDir())
	assert.Equal(t, "/xdg/tcpcmd/config.yaml", GetDefaultConfigPath())
}
