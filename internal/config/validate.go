package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
)

var logLevels = []string{"panic", "fatal", "error", "warn", "info", "debug", "trace"}

// Validate checks every section and reports the first invalid one.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"logging", &c.Logging},
		{"metrics", &c.Metrics},
		{"console", &c.Console},
		{"player", &c.Player},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}
	return nil
}

func checkPort(what string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", what, port)
	}
	return nil
}

func fileExists(what, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s file not found: %s", what, path)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if err := checkPort("HTTP", s.HTTPPort); err != nil {
		return err
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return errors.New("tls_cert_file and tls_key_file must be set together")
	}
	if !s.HTTP3Enabled() {
		return nil
	}

	if err := checkPort("HTTP3", s.HTTP3Port); err != nil {
		return err
	}
	if err := fileExists("TLS certificate", s.TLSCertFile); err != nil {
		return err
	}
	if err := fileExists("TLS key", s.TLSKeyFile); err != nil {
		return err
	}
	if s.MaxIncomingStreams <= 0 {
		return errors.New("max_incoming_streams must be positive")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	if !slices.Contains(logLevels, l.Level) {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be json or text, got %q", l.Format)
	}

	switch l.Output {
	case "stdout", "stderr":
		return nil
	}
	// file output is rotated
	switch {
	case l.MaxSize <= 0:
		return errors.New("max_size must be positive for file output")
	case l.MaxBackups < 0:
		return errors.New("max_backups cannot be negative")
	case l.MaxAge < 0:
		return errors.New("max_age cannot be negative")
	}
	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if err := checkPort("metrics", m.Port); err != nil {
		return err
	}
	if m.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	return nil
}

func (c *ConsoleConfig) Validate() error {
	if c.Refresh < 0 {
		return fmt.Errorf("console refresh cannot be negative: %s", c.Refresh)
	}
	return nil
}

func (p *PlayerConfig) Validate() error {
	switch {
	case p.VideoThreadCount < 0:
		return errors.New("video_thread_count cannot be negative")
	case p.VideoRotate%90 != 0:
		return fmt.Errorf("video_rotate must be a multiple of 90: %d", p.VideoRotate)
	case p.AudioBufPktN < 0 || p.VideoBufPktN < 0:
		return errors.New("bufpktn thresholds cannot be negative")
	case p.PktQueueSize < 0:
		return errors.New("pktqueue_size cannot be negative")
	case p.InitTimeout < 0 || p.AutoReconnect < 0 || p.QueueTimeout < 0:
		return errors.New("timeouts cannot be negative")
	}

	if need := p.AudioBufPktN + p.VideoBufPktN; p.PktQueueSize > 0 && need > p.PktQueueSize {
		return fmt.Errorf("audio_bufpktn + video_bufpktn (%d) exceeds pktqueue_size (%d)", need, p.PktQueueSize)
	}

	if !slices.Contains([]SyncMode{"", SyncModeAuto, SyncModeFile, SyncModeLiveNoSync, SyncModeLiveSync}, p.AVTSSyncMode) {
		return fmt.Errorf("invalid avts_syncmode: %s", p.AVTSSyncMode)
	}
	if !slices.Contains([]string{"", "auto", "udp", "tcp"}, p.RTSPTransport) {
		return fmt.Errorf("invalid rtsp_transport: %s", p.RTSPTransport)
	}
	return nil
}
