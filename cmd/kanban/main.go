package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"kanban/internal/auth"
	"kanban/internal/cards"
	"kanban/internal/projects"
	"kanban/internal/realtime"
	"kanban/internal/server"
	"kanban/internal/storage/sqlite"
	"kanban/internal/util"
)

func main() {
	_ = godotenv.Load()

	addrFlag := flag.String("addr", util.EnvOrDefault("KANBAN_ADDR", ":8080"), "HTTP listen address")
	dbFlag := flag.String("db", util.EnvOrDefault("KANBAN_DB_PATH", "data/kanban.db"), "Path to sqlite database file")
	staticFlag := flag.String("static", util.EnvOrDefault("KANBAN_STATIC_DIR", "web/dist"), "Directory with built frontend")
	secretFlag := flag.String("jwt-secret", util.EnvOrDefault("KANBAN_JWT_SECRET", ""), "HMAC secret for session tokens")
	ttlFlag := flag.Duration("token-ttl", util.EnvDurationOrDefault("KANBAN_TOKEN_TTL", 24*time.Hour), "Session token lifetime")
	originsFlag := flag.String("allowed-origins", util.EnvOrDefault("KANBAN_ALLOWED_ORIGINS", "http://localhost:5173"), "Comma separated CORS origins, * for any")
	secureFlag := flag.Bool("secure-cookies", util.EnvOrDefault("KANBAN_SECURE_COOKIES", "") == "true", "Mark session cookies Secure")
	levelFlag := flag.String("log-level", util.EnvOrDefault("KANBAN_LOG_LEVEL", "info"), "debug, info, warn or error")
	logFileFlag := flag.String("log-file", util.EnvOrDefault("KANBAN_LOG_FILE", ""), "Optional rotating log file")
	bufferFlag := flag.Int("ws-send-buffer", util.EnvIntOrDefault("KANBAN_WS_SEND_BUFFER", 64), "Queued events per realtime connection before it is dropped")
	rateFlag := flag.Float64("ws-rate", float64(util.EnvIntOrDefault("KANBAN_WS_RATE", 10)), "Inbound realtime messages per second per connection")
	flag.Parse()

	logger, closer, err := util.NewLogger(*levelFlag, *logFileFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()

	if err := run(logger, options{
		addr:      *addrFlag,
		dbPath:    *dbFlag,
		staticDir: *staticFlag,
		secret:    *secretFlag,
		ttl:       *ttlFlag,
		server: server.Config{
			AllowedOrigins: util.SplitList(*originsFlag),
			SecureCookies:  *secureFlag,
			Realtime:       realtime.Options{SendBuffer: *bufferFlag, RatePerSecond: *rateFlag},
		},
	}); err != nil {
		logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type options struct {
	addr      string
	dbPath    string
	staticDir string
	secret    string
	ttl       time.Duration
	server    server.Config
}

func run(logger *slog.Logger, opts options) error {
	store, err := sqlite.Open(opts.dbPath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	hub := realtime.NewHub(store, logger.With(slog.String("component", "realtime")))
	opts.server.StaticDir = opts.staticDir
	srv := server.New(server.Deps{
		Auth:     auth.NewService(store, opts.secret, opts.ttl, logger.With(slog.String("component", "auth"))),
		Cards:    cards.NewService(store, store, hub, logger.With(slog.String("component", "cards"))),
		Projects: projects.NewService(store, hub, logger.With(slog.String("component", "projects"))),
		Hub:      hub,
		Health:   store,
	}, opts.server, logger)

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		}
		return nil
	})
	return g.Wait()
}
