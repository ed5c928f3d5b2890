package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"estate_admin/api"
	"estate_admin/config"
	"estate_admin/httputil"
	"estate_admin/logging"
	"estate_admin/models"
	"estate_admin/scheduler"
	"estate_admin/services"
	"estate_admin/storage"
	"estate_admin/workers"
)

const usage = `usage: estate_admin <command> [flags]

commands:
  login      -email <email> [-password <password>]
  logout
  list       [-preset name] [-page n] [-city c] [-status s] [-type t] [-min p] [-max p] [-sort key] [-order asc|desc]
  show       <id>
  images     <id>
  create     -f property.yaml [-img file]...
  update     <id> [-f property.yaml] [-img file]... [-primary imageID] [-rm index]...
  delete     <id>
  restore    <id>
  rm-image   <propertyID> <imageID>
  daemon
`

// app holds the shared wiring of every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	local   *storage.SQLiteStore
	clients *httputil.Clients
	client  *api.Client
	catalog *services.CatalogEngine
	logFn   services.LogFunc
	closers []func()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "estate_admin: %v\n", err)
		os.Exit(1)
	}

	err = a.run(ctx, cmd, args)
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "estate_admin: %s\n", describeError(err))
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, logFile, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() {
		logger.Sync()
		logFile.Close()
	})

	local, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open local database: %w", err)
	}
	local.PageTTL = cfg.Cache.TTL
	a.local = local
	a.closers = append(a.closers, func() { local.Close() })
	a.logFn = workers.ActivityLogger(local, logger)

	session, err := api.NewSession(local, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if session.LoggedIn() && session.Expired(time.Now()) {
		logger.Warn("saved session token has expired, run login again")
	}
	session.OnUnauthorized(func() {
		logger.Warn("session rejected by server, run login again")
	})

	a.clients, err = httputil.NewClients(&cfg.API)
	if err != nil {
		a.close()
		return nil, err
	}
	a.client = api.NewClient(cfg.API.BaseURL, a.clients.API, session, logger)

	a.catalog = services.NewCatalogEngine(a.client, cfg.DefaultFilter(), logger)
	a.closers = append(a.closers, a.catalog.Close)

	presets := make(map[string]models.Filter, len(cfg.Presets))
	for name, p := range cfg.Presets {
		presets[name] = p.Filter
	}
	a.catalog.SetPresets(presets)

	switch cfg.Cache.Backend {
	case config.CacheSQLite:
		a.catalog.SetPageStore(local)
	case config.CacheRedis:
		redis, err := storage.NewRedisPageStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.TTL)
		if err != nil {
			logger.Warn("redis page store unavailable, caching in memory only", zap.Error(err))
			break
		}
		a.catalog.SetPageStore(redis)
		a.closers = append(a.closers, func() { redis.Close() })
	}

	logger.Debug("ready",
		zap.String("api", cfg.API.BaseURL),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("presets", len(presets)))
	return a, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "list":
		return a.list(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "images":
		return a.images(ctx, args)
	case "create":
		return a.create(ctx, args)
	case "update":
		return a.update(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "restore":
		return a.restore(ctx, args)
	case "rm-image":
		return a.removeImage(ctx, args)
	case "daemon":
		return a.daemon(ctx)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

// daemon mirrors the catalog into Postgres on a schedule and backs images up to S3
func (a *app) daemon(ctx context.Context) error {
	if a.cfg.Mirror.DatabaseURL == "" {
		return fmt.Errorf("MIRROR_DB_URL is required for daemon mode")
	}

	pgStore, err := storage.NewPostgresStore(ctx, a.cfg.Mirror.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to mirror database: %w", err)
	}
	defer pgStore.Close()
	a.logger.Info("connected to mirror database", zap.String("url", maskConnectionString(a.cfg.Mirror.DatabaseURL)))

	if err := pgStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("prepare mirror schema: %w", err)
	}

	mirror := workers.NewMirrorWorker(a.catalog, a.client, pgStore, a.local, a.cfg.PerPage, a.logger)
	mirror.SetLogFunc(a.logFn)

	if a.cfg.S3.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, a.cfg.S3)
		if err != nil {
			return fmt.Errorf("set up image backup: %w", err)
		}
		backup, err := workers.NewImageBackupWorker(pgStore, uploader, a.clients.Media, a.cfg.API.BaseURL, a.logger)
		if err != nil {
			return fmt.Errorf("set up image backup: %w", err)
		}
		mirror.SetBackup(backup)
		a.logger.Info("image backup enabled", zap.String("bucket", a.cfg.S3.Bucket))
	} else {
		a.logger.Info("S3_BUCKET not set, image backup disabled")
	}

	sched := scheduler.New(&a.cfg.Scheduler, mirror, a.local, workers.MirrorName, a.logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	if last, err := a.local.LastRun(); err == nil && last == nil {
		sched.TriggerNow()
	}

	a.logger.Info("daemon running, press Ctrl+C to stop")
	mirror.Run(ctx)
	a.logger.Info("shutting down")
	return nil
}

// describeError renders err for the terminal
func describeError(err error) string {
	var verr *models.ValidationError
	var herr *api.HTTPError
	switch {
	case errors.As(err, &verr):
		var b strings.Builder
		b.WriteString("validation failed:")
		for _, line := range strings.Split(strings.TrimPrefix(verr.Error(), "validation failed: "), "; ") {
			b.WriteString("\n  " + line)
		}
		return b.String()
	case errors.As(err, &herr):
		return fmt.Sprintf("server rejected the request (%d): %s", herr.StatusCode, herr.Message)
	case errors.Is(err, api.ErrUnauthorized):
		return "not logged in or session expired, run: estate_admin login -email <email>"
	}
	return err.Error()
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := strings.Index(connStr, "://")
	if start < 0 {
		return connStr
	}
	start += 3

	at := strings.Index(connStr[start:], "@")
	if at < 0 {
		return connStr
	}
	at += start

	colon := strings.Index(connStr[start:at], ":")
	if colon < 0 {
		return connStr
	}
	colon += start
	return connStr[:colon+1] + "****" + connStr[at:]
}
