package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "cert files not found",
			config: &Config{
				Server: ServerConfig{
					Enabled:            true,
					HTTPPort:           8080,
					HTTP3Port:          8443,
					TLSCertFile:        "/nonexistent/cert.pem",
					TLSKeyFile:         "/nonexistent/key.pem",
					MaxIncomingStreams: 100,
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
					Output: "stdout",
				},
				Player: DefaultPlayerConfig(),
			},
			wantErr: true,
			errMsg:  "TLS certificate file not found",
		},
		{
			name: "invalid server port",
			config: &Config{
				Server: ServerConfig{
					Enabled:  true,
					HTTPPort: 0,
				},
			},
			wantErr: true,
			errMsg:  "invalid HTTP port",
		},
		{
			name: "valid headless config",
			config: &Config{
				Logging: LoggingConfig{
					Level:  "debug",
					Format: "text",
					Output: "stderr",
				},
				Player: DefaultPlayerConfig(),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if err != nil {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	tmpfile, err := os.CreateTemp("", "test-config-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	configContent := `
source: "udp://239.0.0.1:1234"

server:
  http_port: 9000

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: false

player:
  audio_bufpktn: 8
  auto_reconnect: 2s
  avts_syncmode: live_sync
  swscale_type: bicubic
`
	_, err = tmpfile.Write([]byte(configContent))
	require.NoError(t, err)
	_ = tmpfile.Close()

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, "udp://239.0.0.1:1234", cfg.Source)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Equal(t, 8, cfg.Player.AudioBufPktN)
	assert.Equal(t, 48, cfg.Player.VideoBufPktN)
	assert.Equal(t, 2*time.Second, cfg.Player.AutoReconnect)
	assert.Equal(t, SyncModeLiveSync, cfg.Player.AVTSSyncMode)
	assert.Equal(t, "bicubic", cfg.Player.SwscaleType)
	assert.Equal(t, 256, cfg.Player.PktQueueSize)
	assert.Equal(t, 20*time.Millisecond, cfg.Player.QueueTimeout)
	assert.Equal(t, -1, cfg.Player.VideoStreamCur)
}

func TestLoadConfigDefaultsOnly(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPlayerConfig().InitTimeout, cfg.Player.InitTimeout)
	assert.True(t, cfg.Player.OpenAutoplay)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.False(t, cfg.Server.HTTP3Enabled())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	t.Setenv("PLAYBACK_PLAYER_VIDEO_BUFPKTN", "32")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Player.VideoBufPktN)
}

func TestLoadConfigMissingFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load("/nonexistent/playback.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}
