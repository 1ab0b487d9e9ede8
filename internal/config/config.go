package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source  string        `mapstructure:"source"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Console ConsoleConfig `mapstructure:"console"`
	Player  PlayerConfig  `mapstructure:"player"`
}

type ServerConfig struct {
	// HTTP/1.1 control API
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// HTTP/3 listener, enabled when both TLS files are set
	HTTP3Port          int           `mapstructure:"http3_port"`
	TLSCertFile        string        `mapstructure:"tls_cert_file"`
	TLSKeyFile         string        `mapstructure:"tls_key_file"`
	MaxIncomingStreams int64         `mapstructure:"max_incoming_streams"`
	MaxIdleTimeout     time.Duration `mapstructure:"max_idle_timeout"`
}

// HTTP3Enabled reports whether TLS material for the QUIC listener is configured.
func (s *ServerConfig) HTTP3Enabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`     // json or text
	Output     string `mapstructure:"output"`     // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`   // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type ConsoleConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Refresh time.Duration `mapstructure:"refresh"`
}

// SyncMode selects how audio and video timestamps are reconciled.
type SyncMode string

const (
	SyncModeAuto       SyncMode = "auto"
	SyncModeFile       SyncMode = "file"
	SyncModeLiveNoSync SyncMode = "live_nosync"
	SyncModeLiveSync   SyncMode = "live_sync"
)

// PlayerConfig holds the init params for a playback session. Fields tagged
// "-" are read-only and filled in when the source has been probed.
type PlayerConfig struct {
	VideoStreamCur    int  `mapstructure:"video_stream_cur"`    // -1 selects the first video stream
	AudioStreamCur    int  `mapstructure:"audio_stream_cur"`    // -1 selects the first audio stream
	SubtitleStreamCur int  `mapstructure:"subtitle_stream_cur"` // -1 disables subtitles
	VideoThreadCount  int  `mapstructure:"video_thread_count"`
	VideoHWAccel      bool `mapstructure:"video_hwaccel"`
	VideoDeinterlace  bool `mapstructure:"video_deinterlace"`
	VideoRotate       int  `mapstructure:"video_rotate"` // degrees
	AudioBufPktN      int  `mapstructure:"audio_bufpktn"`
	VideoBufPktN      int  `mapstructure:"video_bufpktn"`

	AdevRenderType string `mapstructure:"adev_render_type"`
	VdevRenderType string `mapstructure:"vdev_render_type"`

	InitTimeout   time.Duration `mapstructure:"init_timeout"`
	OpenAutoplay  bool          `mapstructure:"open_autoplay"`
	AutoReconnect time.Duration `mapstructure:"auto_reconnect"` // 0 disables reconnection
	RTSPTransport string        `mapstructure:"rtsp_transport"` // auto, udp or tcp
	AVTSSyncMode  SyncMode      `mapstructure:"avts_syncmode"`
	FilterString  string        `mapstructure:"filter_string"`
	SwscaleType   string        `mapstructure:"swscale_type"`

	PktQueueSize int           `mapstructure:"pktqueue_size"`
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`

	VideoStreamTotal    int     `mapstructure:"-"`
	AudioStreamTotal    int     `mapstructure:"-"`
	SubtitleStreamTotal int     `mapstructure:"-"`
	VideoWidth          int     `mapstructure:"-"`
	VideoHeight         int     `mapstructure:"-"`
	VideoOutWidth       int     `mapstructure:"-"`
	VideoOutHeight      int     `mapstructure:"-"`
	VideoFrameRate      float64 `mapstructure:"-"`
	VideoCodec          string  `mapstructure:"-"`
	AudioChannels       int     `mapstructure:"-"`
	AudioSampleRate     int     `mapstructure:"-"`
	AudioCodec          string  `mapstructure:"-"`
}

// DefaultPlayerConfig returns the init params used when the engine is
// embedded without a config file.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		VideoStreamCur:    -1,
		AudioStreamCur:    -1,
		SubtitleStreamCur: -1,
		VideoThreadCount:  1,
		AudioBufPktN:      16,
		VideoBufPktN:      48,
		AdevRenderType:    "null",
		VdevRenderType:    "memory",
		InitTimeout:       5 * time.Second,
		OpenAutoplay:      true,
		AutoReconnect:     0,
		RTSPTransport:     "auto",
		AVTSSyncMode:      SyncModeAuto,
		SwscaleType:       "bilinear",
		PktQueueSize:      256,
		QueueTimeout:      20 * time.Millisecond,
	}
}

// LiveNoSync reports whether timestamp synchronisation and buffering
// thresholds are bypassed.
func (p *PlayerConfig) LiveNoSync() bool {
	return p.AVTSSyncMode == SyncModeLiveNoSync
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Environment variable override
	viper.SetEnvPrefix("PLAYBACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	setDefaults()

	if configPath != "" {
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.listen_addr", "127.0.0.1")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.debug_endpoints", false)
	viper.SetDefault("server.http3_port", 8443)
	viper.SetDefault("server.max_incoming_streams", 100)
	viper.SetDefault("server.max_idle_timeout", "30s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stderr")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age", 30)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Console defaults
	viper.SetDefault("console.enabled", true)
	viper.SetDefault("console.refresh", "200ms")

	// Player defaults
	p := DefaultPlayerConfig()
	viper.SetDefault("player.video_stream_cur", p.VideoStreamCur)
	viper.SetDefault("player.audio_stream_cur", p.AudioStreamCur)
	viper.SetDefault("player.subtitle_stream_cur", p.SubtitleStreamCur)
	viper.SetDefault("player.video_thread_count", p.VideoThreadCount)
	viper.SetDefault("player.video_hwaccel", p.VideoHWAccel)
	viper.SetDefault("player.video_deinterlace", p.VideoDeinterlace)
	viper.SetDefault("player.video_rotate", p.VideoRotate)
	viper.SetDefault("player.audio_bufpktn", p.AudioBufPktN)
	viper.SetDefault("player.video_bufpktn", p.VideoBufPktN)
	viper.SetDefault("player.adev_render_type", p.AdevRenderType)
	viper.SetDefault("player.vdev_render_type", p.VdevRenderType)
	viper.SetDefault("player.init_timeout", p.InitTimeout.String())
	viper.SetDefault("player.open_autoplay", p.OpenAutoplay)
	viper.SetDefault("player.auto_reconnect", p.AutoReconnect.String())
	viper.SetDefault("player.rtsp_transport", p.RTSPTransport)
	viper.SetDefault("player.avts_syncmode", string(p.AVTSSyncMode))
	viper.SetDefault("player.filter_string", p.FilterString)
	viper.SetDefault("player.swscale_type", p.SwscaleType)
	viper.SetDefault("player.pktqueue_size", p.PktQueueSize)
	viper.SetDefault("player.queue_timeout", p.QueueTimeout.String())
}
