package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/intentd/pkg/api"
	"github.com/Mindburn-Labs/intentd/pkg/archive"
	"github.com/Mindburn-Labs/intentd/pkg/auth"
	"github.com/Mindburn-Labs/intentd/pkg/config"
	"github.com/Mindburn-Labs/intentd/pkg/executor"
	"github.com/Mindburn-Labs/intentd/pkg/lifecycle"
	"github.com/Mindburn-Labs/intentd/pkg/normalize"
	"github.com/Mindburn-Labs/intentd/pkg/observability"
	"github.com/Mindburn-Labs/intentd/pkg/policy"
	"github.com/Mindburn-Labs/intentd/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it out.
var startServer = runServer

// Run dispatches subcommands. No arguments runs the server.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return startServer(stderr)
	case "sweep":
		return runSweepCmd(stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		cfg, _ := config.Load()
		fmt.Fprintf(stdout, "intentd %s (%s)\n", cfg.Version, cfg.GitSHA)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return startServer(stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: intentd <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server    Run the ingest server (default)")
	fmt.Fprintln(w, "  sweep     Expire stale clarifications and exit")
	fmt.Fprintln(w, "  export    Export an intent journal bundle (--intent, --out)")
	fmt.Fprintln(w, "  health    Check a running server over HTTP")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openDB connects to Postgres when DATABASE_URL is set and otherwise falls
// back to a local SQLite file, lite mode for single-node setups.
func openDB(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, string, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		log.Info("postgres connected")
		return db, store.DialectPostgres, nil
	}

	path := filepath.Join("data", "intentd.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	log.Info("lite mode, sqlite", "path", path)
	return db, store.DialectSQLite, nil
}

func buildController(ctx context.Context, cfg *config.Config, log *slog.Logger) (*lifecycle.Controller, *store.Store, *sql.DB, error) {
	db, dialect, err := openDB(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.New(db, dialect)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := st.Init(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("init schema: %w", err)
	}

	var resolver normalize.Resolver = normalize.StubResolver{}
	if cfg.ContextAPIBaseURL != "" {
		resolver = normalize.NewHTTPResolver(cfg.ContextAPIBaseURL, cfg.ContextAPIBearerToken,
			cfg.ContextAPIProjectSearchPath, cfg.ContextAPITimeout)
		log.Info("project resolver: context api", "base_url", cfg.ContextAPIBaseURL)
	}

	nm := normalize.New(resolver, normalize.Options{
		UserTimezone:               cfg.UserTimezone,
		MinConfidenceToWrite:       cfg.MinConfidenceToWrite,
		MaxInferredFields:          cfg.MaxInferredFields,
		ProjectResolutionThreshold: cfg.ProjectResolutionThreshold,
		ProjectResolutionMargin:    cfg.ProjectResolutionMargin,
	})

	ctrl := lifecycle.New(st, nm, log)
	ctrl.ExecuteActions = cfg.ExecuteActions
	ctrl.ClarificationExpiry = cfg.ClarificationExpiry()
	ctrl.ArtifactVersion = cfg.ArtifactVersion

	guard, err := policy.Compile(cfg.PolicyRule)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("compile policy rule: %w", err)
	}
	ctrl.Guard = guard

	if cfg.GatewayConfigured() {
		ctrl.Exec = executor.New(cfg.GatewayBaseURL, cfg.GatewayBearerToken,
			cfg.GatewayPath, cfg.GatewayTimeout, st)
		ctrl.Exec.ArtifactVersion = cfg.ArtifactVersion
		log.Info("action gateway configured", "base_url", cfg.GatewayBaseURL)
	}
	return ctrl, st, db, nil
}

func runServer(stderr io.Writer) int {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctrl, _, db, err := buildController(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	defer db.Close()

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = api.NewRedisLimiter(client, cfg.RateLimitRPS, cfg.RateLimitBurst)
		log.Info("rate limiter: redis", "addr", cfg.RedisAddr)
	} else {
		limiter = api.NewLocalLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "intentd",
		ServiceVersion: cfg.Version,
		Environment:    getenvDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Insecure:       true,
	})
	if err != nil {
		log.Error("telemetry init failed", "error", err)
		return 1
	}

	srv := &api.Server{
		Controller:      ctrl,
		Auth:            auth.NewMiddleware(cfg.IntentServiceToken, cfg.ServiceJWTSecret),
		Limiter:         limiter,
		Log:             log,
		CORSOrigins:     cfg.CORSOrigins,
		Version:         cfg.Version,
		GitSHA:          cfg.GitSHA,
		ArtifactVersion: cfg.ArtifactVersion,
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           obs.Wrap(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Periodic expiry sweep alongside the on-read sweeps.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				expired, err := ctrl.Sweep(sweepCtx)
				if err != nil {
					log.Warn("sweep failed", "error", err)
				} else if len(expired) > 0 {
					log.Info("sweep expired clarifications", "count", len(expired))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			return 1
		}
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown incomplete", "error", err)
	}
	return 0
}

func runSweepCmd(stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	log := newLogger(cfg.LogLevel)

	ctrl, _, db, err := buildController(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer db.Close()

	expired, err := ctrl.Sweep(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "sweep: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "expired %d clarification(s)\n", len(expired))
	return 0
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		intentID   string
		out        string
		jsonOutput bool
	)
	cmd.StringVar(&intentID, "intent", "", "Intent id to export (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Archive destination, overrides ARCHIVE_URL")
	cmd.BoolVar(&jsonOutput, "json", false, "Output receipt as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if intentID == "" {
		fmt.Fprintln(stderr, "export: --intent is required")
		return 2
	}

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	log := newLogger(cfg.LogLevel)

	dest := out
	if dest == "" {
		dest = cfg.ArchiveURL
	}
	if dest == "" {
		dest = filepath.Join("data", "exports")
	}
	sink, err := archive.OpenSink(ctx, dest, os.Getenv("AWS_REGION"))
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	_, st, db, err := buildController(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer db.Close()

	receipt, err := archive.NewExporter(st, sink, log).Export(ctx, intentID)
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}
	if jsonOutput {
		_ = json.NewEncoder(stdout).Encode(receipt)
	} else {
		fmt.Fprintf(stdout, "exported %s: %s (%d artifacts)\n",
			receipt.IntentID, receipt.BundleHash, receipt.ArtifactCount)
	}
	return 0
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	resp, err := http.Get("http://localhost:" + cfg.Port + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
