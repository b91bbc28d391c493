package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/user/aegis/internal/backend"
	"github.com/user/aegis/internal/config"
	"github.com/user/aegis/internal/delivery"
	"github.com/user/aegis/internal/httpapi"
	"github.com/user/aegis/internal/hub"
	"github.com/user/aegis/internal/relay"
	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/scheduler"
	"github.com/user/aegis/internal/session"
	"github.com/user/aegis/internal/telegram"
	"github.com/user/aegis/internal/types"
)

const (
	operatorIdentity = "operator"
	shutdownTimeout  = 10 * time.Second
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aegis server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// scoringBackend returns the backend client, or nil when no base URL is
// configured.
func scoringBackend(cfg *config.Config, logger *slog.Logger) *backend.Client {
	if cfg.Backend.BaseURL == "" {
		return nil
	}
	return backend.New(cfg.Backend.BaseURL, cfg.BackendTimeout(), backend.WithLogger(logger))
}

// localURL turns a listen address into a URL clients on this host can
// reach, replacing wildcard hosts with loopback.
func localURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func roomConfig(cfg *config.Config) room.Config {
	return room.Config{
		Board: room.BoardConfig{
			AlertTTL: time.Duration(cfg.Room.AlertTTLSeconds) * time.Second,
			HintTTL:  time.Duration(cfg.Room.HintTTLSeconds) * time.Second,
			MaxHints: cfg.Room.MaxHints,
		},
		IdleAfter: time.Duration(cfg.Room.IdleAfterSeconds) * time.Second,
	}
}

// operatorDialer joins each opened room as the operator through this
// server's own relay endpoint.
func operatorDialer(relayURL string, logger *slog.Logger) httpapi.Dialer {
	return func(ctx context.Context, name types.RoomName) (types.SessionProvider, error) {
		return session.Dial(ctx, session.Config{
			URL:         relayURL,
			Room:        name,
			Identity:    operatorIdentity,
			Kind:        operatorIdentity,
			MaxAttempts: 5,
			Logger:      logger,
		})
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	logger := slog.Default()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay
	relaySrv := relay.NewServer(
		relay.WithAllowedOrigins(cfg.Relay.AllowedOrigins),
		relay.WithSendBuffer(cfg.Relay.LaneBuffer),
		relay.WithLogger(logger),
	)
	if cfg.Relay.RedisURL != "" {
		bridge, err := relay.NewRedisBridge(cfg.Relay.RedisURL, relaySrv, logger)
		if err != nil {
			return fmt.Errorf("create redis bridge: %w", err)
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("redis bridge stopped", "error", err)
			}
		}()
		slog.Info("redis bridge started", "instance", bridge.Instance())
	}

	// Notifications
	deliveryReg := delivery.NewRegistry()
	notifier := delivery.NewNotifier(deliveryReg, cfg.Notify.Targets, logger)
	defer notifier.Wait()

	// Rooms
	h := hub.New(int64(cfg.MaxConcurrent),
		hub.WithLaneBuffer(cfg.Relay.LaneBuffer),
		hub.WithLogger(logger),
		hub.WithViewOptions(
			room.WithConfig(roomConfig(cfg)),
			room.WithTakeoverHook(notifier.Takeover),
		),
	)
	h.OnOpen(notifier.Watch)
	h.Start(ctx)
	defer h.Stop()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, h, logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register("telegram:", adapter.SendTo)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Idle sweep
	sched := scheduler.New(h, cfg.Room.IdleSweep, clockwork.NewRealClock(), logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP API
	apiOpts := []httpapi.Option{
		httpapi.WithDialer(operatorDialer(localURL(cfg.HTTP.Listen), logger)),
		httpapi.WithRelay(relaySrv),
		httpapi.WithLogger(logger),
		httpapi.WithBaseContext(ctx),
	}
	if sb := scoringBackend(cfg, logger); sb != nil {
		apiOpts = append(apiOpts, httpapi.WithBackend(sb))
	} else {
		logger.Info("no scoring backend configured, resume upload disabled")
	}
	api := httpapi.NewServer(h, apiOpts...)
	defer api.Wait()

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: api,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}()

	slog.Info("aegis started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"backend", cfg.Backend.BaseURL,
		"notify_targets", len(cfg.Notify.Targets),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		var sig os.Signal
		select {
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case sig = <-sigChan:
		}
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
