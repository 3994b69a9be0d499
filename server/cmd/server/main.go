package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/intellimonitor/intellimonitor/server/internal/api"
	"github.com/intellimonitor/intellimonitor/server/internal/auth"
	"github.com/intellimonitor/intellimonitor/server/internal/config"
	"github.com/intellimonitor/intellimonitor/server/internal/engine"
	"github.com/intellimonitor/intellimonitor/server/internal/health"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
	"github.com/intellimonitor/intellimonitor/server/internal/snapshot"
	"github.com/intellimonitor/intellimonitor/server/internal/voice"
	"github.com/intellimonitor/intellimonitor/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with API keys and tokens")
	uiDir := flag.String("ui-dir", "", "serve the UI static files from this directory; leave empty to disable")
	flag.Parse()

	// Secrets referenced by *_env settings may live in a dotenv file. A
	// missing file is normal in production.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file %s: %v\n", *envFile, err)
	}

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("intellimonitor starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setLevel(&level, cfg.Log.Level)

	slog.Info("config loaded",
		"backend", cfg.Sync.BackendURL,
		"interval", cfg.Sync.Interval,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"voice", cfg.Voice.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Persistent state: alert history, voice unlock, refresh interval.
	var kv kvstore.Store
	if db, err := kvstore.Open(ctx, cfg.Storage.Path); err != nil {
		slog.Error("storage unavailable, state will not survive a restart", "path", cfg.Storage.Path, "err", err)
		kv = kvstore.NewMemory()
	} else {
		kv = db
	}
	defer kv.Close() //nolint:errcheck

	client, err := snapshot.NewClient(cfg.Sync)
	if err != nil {
		slog.Error("invalid sync configuration", "err", err)
		os.Exit(1)
	}

	reporter := health.New()
	speaker := newSpeaker(cfg.Voice)

	eng := engine.New(ctx, engine.Options{
		Config:    cfg,
		Syncer:    client,
		NewSyncer: newSyncer,
		Store:     kv,
		Speaker:   speaker,
		OnSync:    reporter.OnSync,
	})
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil {
			slog.Error("engine stopped", "err", err)
		}
	}()

	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			setLevel(&level, next.Log.Level)
			applyCtx, done := context.WithTimeout(ctx, 10*time.Second)
			defer done()
			if err := eng.ApplyConfig(applyCtx, next); err != nil {
				slog.Error("config reload not applied", "err", err)
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	guard := auth.APIKeyMiddleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)

	// gRPC health listener with optional API key authentication.
	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(
			grpc.UnaryInterceptor(auth.APIKeyInterceptor(
				cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())),
			grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(
				cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())),
		)
		reporter.Register(grpcSrv)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
			os.Exit(1)
		}
		go func() {
			slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	hub := ws.New(eng, cfg.WS.BroadcastInterval)
	go hub.Run(ctx)

	// Combined HTTP server: REST API, WebSocket push, metrics and health.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", guard(api.New(eng)))
	httpMux.Handle("/ws/stream", guard(hub))
	httpMux.Handle("/metrics", api.MetricsHandler(eng))
	httpMux.Handle("/healthz", reporter.Handler())

	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if *uiDir != "" {
		fs := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("intellimonitor shutting down")
	reporter.Shutdown()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	<-engineDone
	speaker.Wait()
}

func newSyncer(c config.SyncConfig) (engine.Syncer, error) {
	client, err := snapshot.NewClient(c)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newSpeaker builds the voice output. Without a TTS endpoint every
// announcement falls back to the chime.
func newSpeaker(v config.VoiceConfig) *voice.Speaker {
	player := voice.ExecPlayer{Command: v.PlayerCommand}
	if v.TTSURL == "" {
		return voice.NewSpeaker(nil, player)
	}
	return voice.NewSpeaker(voice.NewHTTPTTS(v), player)
}

func setLevel(lv *slog.LevelVar, name string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log level, keeping current", "level", name)
		return
	}
	lv.Set(l)
}
