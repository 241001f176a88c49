package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/sheerbytes/segflux/internal/admin"
	"github.com/sheerbytes/segflux/internal/config"
	"github.com/sheerbytes/segflux/internal/logging"
	"github.com/sheerbytes/segflux/internal/session"
	"github.com/sheerbytes/segflux/internal/termio"
	"github.com/sheerbytes/segflux/internal/transport"
)

const serverVersion = "v0.1.0"

func main() {
	termio.Init()
	args := os.Args[1:]
	if hasHelpFlag(args) {
		printServerUsage()
		termio.Exit(0)
	}
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), serverVersion)
		termio.Exit(0)
	}

	flag.CommandLine.SetOutput(termio.Stderr())
	cfg, err := config.ParseServerConfig()
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "segserv: %v\n", err)
		printServerUsage()
		termio.Exit(2)
	}
	logger := logging.New("segserv", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		fmt.Fprintf(termio.Stderr(), "segserv: %v\n", err)
		termio.Exit(1)
	}
	termio.Flush()
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	history, closeHistory, err := buildHistory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	srv := session.NewServer(session.Config{
		Root:           cfg.Root,
		ChunkSize:      cfg.ChunkSize,
		ReadAhead:      cfg.ReadAhead,
		MaxWorkers:     cfg.MaxWorkers,
		RequestCap:     cfg.RequestCap,
		RequestTimeout: cfg.RequestTimeout,
	}, history, logger)

	ln, err := transport.Listen(ctx, cfg.Transport, cfg.Addr, transport.Options{
		Logger:           logger,
		QUICConnWindow:   cfg.QUICConnWindow,
		QUICStreamWindow: cfg.QUICStreamWindow,
	})
	if err != nil {
		return err
	}
	defer ln.Close()
	fmt.Fprintf(termio.Stdout(), "starting server transport=%s addr=%s root=%s\n", cfg.Transport, ln.Addr(), cfg.Root)

	if cfg.AdminAddr != "" {
		adminLn, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("failed to start admin API: %w", err)
		}
		gin.SetMode(gin.ReleaseMode)
		handler := admin.NewHandler(srv, logger)
		go func() {
			if err := admin.ServeListener(ctx, adminLn, handler, logger); err != nil {
				logger.Error("admin API stopped", "error", err)
			}
		}()
	}

	err = srv.Serve(ctx, ln)
	if ctx.Err() != nil {
		stats := srv.Stats()
		logger.Info("shutting down", "sessions", stats.Sessions, "completed", stats.Completed, "bytes_sent", stats.BytesSent)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildHistory keeps recent sessions in memory and, when configured, also
// in Redis. Reads are served from Redis and fall back to memory when Redis
// is unavailable.
func buildHistory(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (session.History, func(), error) {
	mem := session.NewMemoryHistory(cfg.HistorySize)
	if cfg.RedisAddr == "" {
		return mem, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rh := session.NewRedisHistory(client, "", cfg.HistorySize, 0)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rh.Ping(pingCtx); err != nil {
		_ = rh.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("recording sessions in Redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return session.MultiHistory{rh, mem}, func() { _ = rh.Close() }, nil
}

func printServerUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: segserv [flags]")
	fmt.Fprintln(termio.Stderr(), "  --addr ADDR                  listen address (default :8080)")
	fmt.Fprintln(termio.Stderr(), "  --transport T                tcp, quic or ws (default tcp)")
	fmt.Fprintln(termio.Stderr(), "  --root DIR                   directory files are served from (default .)")
	fmt.Fprintln(termio.Stderr(), "  --chunk-size N               bytes per read and per stream write (default 1024)")
	fmt.Fprintln(termio.Stderr(), "  --read-ahead N               chunks a worker may buffer ahead of its turn (default 16)")
	fmt.Fprintln(termio.Stderr(), "  --max-workers N              largest worker count a client may request (default 256)")
	fmt.Fprintln(termio.Stderr(), "  --request-cap N              largest request in bytes (default 1024)")
	fmt.Fprintln(termio.Stderr(), "  --request-timeout DURATION   time allowed for the client request (default 30s)")
	fmt.Fprintln(termio.Stderr(), "  --admin-addr ADDR            admin HTTP API address (disabled if empty)")
	fmt.Fprintln(termio.Stderr(), "  --redis-addr ADDR            Redis address for session history (disabled if empty)")
	fmt.Fprintln(termio.Stderr(), "  --redis-password S           Redis password")
	fmt.Fprintln(termio.Stderr(), "  --redis-db N                 Redis database (default 0)")
	fmt.Fprintln(termio.Stderr(), "  --history-size N             sessions kept in history (default 100)")
	fmt.Fprintln(termio.Stderr(), "  --quic-conn-window N         QUIC connection receive window in bytes")
	fmt.Fprintln(termio.Stderr(), "  --quic-stream-window N       QUIC stream receive window in bytes")
	fmt.Fprintln(termio.Stderr(), "  --log-level LEVEL            debug, info, warn or error (default info)")
	fmt.Fprintln(termio.Stderr(), "  --config FILE                yaml, toml or json config file")
	fmt.Fprintln(termio.Stderr(), "every flag can also be set as SEGFLUX_<NAME>, e.g. SEGFLUX_CHUNK_SIZE=4096")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
