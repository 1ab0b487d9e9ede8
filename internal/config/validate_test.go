package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlayerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *PlayerConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults",
			mutate:  func(p *PlayerConfig) {},
			wantErr: false,
		},
		{
			name:    "negative thread count",
			mutate:  func(p *PlayerConfig) { p.VideoThreadCount = -1 },
			wantErr: true,
			errMsg:  "video_thread_count",
		},
		{
			name:    "rotation not multiple of 90",
			mutate:  func(p *PlayerConfig) { p.VideoRotate = 45 },
			wantErr: true,
			errMsg:  "video_rotate",
		},
		{
			name:    "rotation 270",
			mutate:  func(p *PlayerConfig) { p.VideoRotate = 270 },
			wantErr: false,
		},
		{
			name: "thresholds exceed pool",
			mutate: func(p *PlayerConfig) {
				p.PktQueueSize = 32
				p.AudioBufPktN = 16
				p.VideoBufPktN = 32
			},
			wantErr: true,
			errMsg:  "exceeds pktqueue_size",
		},
		{
			name:    "negative reconnect interval",
			mutate:  func(p *PlayerConfig) { p.AutoReconnect = -time.Second },
			wantErr: true,
			errMsg:  "timeouts cannot be negative",
		},
		{
			name:    "unknown sync mode",
			mutate:  func(p *PlayerConfig) { p.AVTSSyncMode = "bogus" },
			wantErr: true,
			errMsg:  "invalid avts_syncmode",
		},
		{
			name:    "live no-sync",
			mutate:  func(p *PlayerConfig) { p.AVTSSyncMode = SyncModeLiveNoSync },
			wantErr: false,
		},
		{
			name:    "unknown transport",
			mutate:  func(p *PlayerConfig) { p.RTSPTransport = "sctp" },
			wantErr: true,
			errMsg:  "invalid rtsp_transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPlayerConfig()
			tt.mutate(&p)
			err := p.Validate()
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

func TestLiveNoSync(t *testing.T) {
	p := DefaultPlayerConfig()
	assert.False(t, p.LiveNoSync())
	p.AVTSSyncMode = SyncModeLiveNoSync
	assert.True(t, p.LiveNoSync())
}

func TestLoggingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"valid stdout", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, false},
		{"invalid level", LoggingConfig{Level: "verbose", Format: "json", Output: "stdout"}, true},
		{"invalid format", LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, true},
		{"file without size", LoggingConfig{Level: "info", Format: "json", Output: "/tmp/p.log"}, true},
		{"file with rotation", LoggingConfig{Level: "info", Format: "json", Output: "/tmp/p.log", MaxSize: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
	}{
		{"disabled", ServerConfig{}, false},
		{"valid http only", ServerConfig{Enabled: true, HTTPPort: 8080}, false},
		{"invalid port", ServerConfig{Enabled: true, HTTPPort: 70000}, true},
		{"cert without key", ServerConfig{Enabled: true, HTTPPort: 8080, TLSCertFile: "cert.pem"}, true},
		{"invalid http3 port", ServerConfig{Enabled: true, HTTPPort: 8080, TLSCertFile: "c", TLSKeyFile: "k"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConsoleConfigValidate(t *testing.T) {
	assert.NoError(t, (&ConsoleConfig{Refresh: 200 * time.Millisecond}).Validate())
	assert.Error(t, (&ConsoleConfig{Refresh: -time.Second}).Validate())

	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Console: ConsoleConfig{Refresh: -1},
		Player:  DefaultPlayerConfig(),
	}
	err := cfg.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "console config")
	}
}
