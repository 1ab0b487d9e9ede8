package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/console"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/player"
	"github.com/zsiec/playback/internal/server"
	"github.com/zsiec/playback/pkg/version"
)

// flagKeys binds command line flags to config keys.
var flagKeys = map[string]string{
	"source":     "source",
	"listen":     "server.listen_addr",
	"http-port":  "server.http_port",
	"server":     "server.enabled",
	"console":    "console.enabled",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"log-output": "logging.output",
	"autoplay":   "player.open_autoplay",
	"reconnect":  "player.auto_reconnect",
	"avsync":     "player.avts_syncmode",
	"adev":       "player.adev_render_type",
	"vdev":       "player.vdev_render_type",
}

func main() {
	fs := pflag.NewFlagSet("playback", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: playback [flags] [url]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	showVersion := fs.BoolP("version", "v", false, "Show version information")
	fs.String("source", "", "Media URL to play (file path, file://, udp://, rtp://, srt://)")
	fs.String("listen", "127.0.0.1", "Control server listen address")
	fs.Int("http-port", 8080, "Control server port")
	fs.Bool("server", true, "Serve the HTTP control API")
	fs.Bool("console", true, "Show the terminal console")
	fs.String("log-level", "info", "Log level")
	fs.String("log-format", "json", "Log format (json or text)")
	fs.String("log-output", "stderr", "Log output: stdout, stderr or a file path")
	fs.Bool("autoplay", true, "Start playback once the source is open")
	fs.Duration("reconnect", 0, "Reopen a failed live source after this delay (0 disables)")
	fs.String("avsync", "auto", "Timestamp sync mode: auto, file, live_sync or live_nosync")
	fs.String("adev", "null", "Audio sink: null or raw:<path>")
	fs.String("vdev", "memory", "Video sink")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to bind flag %s: %v\n", name, err)
			os.Exit(1)
		}
	}
	if fs.NArg() > 0 {
		viper.Set("source", fs.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Source == "" {
		fs.Usage()
		os.Exit(2)
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cfg.Console.Enabled && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "stderr") {
		// the console owns the terminal
		base.SetOutput(io.Discard)
	}
	log := logger.Service(base)
	log.WithField("version", version.GetInfo().Short()).Info("Starting playback")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Playback failed")
		fmt.Fprintf(os.Stderr, "playback: %v\n", err)
		os.Exit(1)
	}
	log.Info("Playback stopped")
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifications := make(chan player.Notification, 64)
	p, err := player.Open(ctx, cfg.Source, nil, &cfg.Player,
		player.WithLogger(log),
		player.WithNotifier(player.NotifyChan(notifications)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("Session closed with errors")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		opts := []server.Option{server.WithMetricsPath("")}
		if cfg.Metrics.Enabled {
			opts = []server.Option{server.WithMetricsPath(cfg.Metrics.Path)}
		}
		srv := server.New(&cfg.Server, log, p, opts...)
		g.Go(func() error { return srv.Start(ctx) })
	} else if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics, log) })
	}

	if cfg.Console.Enabled {
		model := console.New(p, cfg.Console.Refresh, notifications)
		g.Go(func() error {
			defer cancel()
			return console.Run(ctx, model)
		})
	} else {
		g.Go(func() error { return watch(ctx, cancel, notifications, log) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watch logs session notifications when there is no console. Playback
// ends when the source completes or cannot be opened.
func watch(ctx context.Context, done context.CancelFunc, ch <-chan player.Notification, log logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-ch:
			entry := log.WithField("event", n.Msg.String())
			if n.Payload != nil {
				entry = entry.WithField("payload", fmt.Sprint(n.Payload))
			}
			entry.Info("Session event")

			switch n.Msg {
			case player.MsgPlayCompleted:
				done()
				return nil
			case player.MsgOpenFailed:
				if err, ok := n.Payload.(error); ok {
					return fmt.Errorf("open source: %w", err)
				}
				return errors.New("open failed")
			}
		}
	}
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
