package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediagent/auth"
	"mediagent/backup"
	backupbackends "mediagent/backupBackends"
	cachepurge "mediagent/cachePurge"
	"mediagent/config"
	"mediagent/content"
	"mediagent/credentials"
	"mediagent/encoder"
	"mediagent/failures"
	"mediagent/job"
	"mediagent/logger"
	"mediagent/media"
	"mediagent/rewrite"
	"mediagent/routes"
	taskqueue "mediagent/taskQueue"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
)

const (
	cleanupInterval = 24 * time.Hour
	failureMaxAge   = 30 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if err := logger.Init(cfg.LogFile, true, logger.ParseLevel(cfg.LogLevel)); err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()
	logger.Info("Starting mediagent initialization")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Fatalf("Failed to create data dir: %v", err)
	}
	lock := flock.New(cfg.LockFilePath())
	locked, err := lock.TryLock()
	if err != nil {
		logger.Fatalf("Failed to acquire data dir lock: %v", err)
	}
	if !locked {
		logger.Fatalf("Another mediagent is already using %s", cfg.DataDir)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credentials: site secret and backup backend access info
	creds, err := credentials.Open(cfg.CredentialsDBPath())
	if err != nil {
		logger.Fatalf("Failed to initialize credentials store: %v", err)
	}
	defer creds.Close()
	if cfg.SiteKey != "" && cfg.SiteSecret != "" {
		if err := creds.RegisterSite(cfg.SiteKey, cfg.SiteSecret); err != nil {
			logger.Fatalf("Failed to register site key: %v", err)
		}
	}
	if len(cfg.BackupAccessInfo) > 0 {
		if err := creds.StoreBackendAccessInfo(cfg.BackupBackend, cfg.BackupAccessInfo); err != nil {
			logger.Fatalf("Failed to store backup access info: %v", err)
		}
	}
	accessInfo, err := creds.BackendAccessInfo(cfg.BackupBackend)
	if err != nil {
		logger.Fatalf("Failed to read backup access info: %v", err)
	}
	if cfg.BackupBackend == "local" && accessInfo["baseDir"] == "" {
		accessInfo["baseDir"] = cfg.BackupDir()
	}
	storage, err := backupbackends.New(ctx, cfg.BackupBackend, accessInfo)
	if err != nil {
		logger.Fatalf("Failed to initialize %s backup backend: %v", cfg.BackupBackend, err)
	}
	if c, ok := storage.(io.Closer); ok {
		defer c.Close()
	}
	logger.Infof("Backups go to the %s backend", storage.Name())

	library, err := media.Open(cfg.MediaDBPath(), cfg.UploadsDir, cfg.BaseURL, cfg.VariantSizes)
	if err != nil {
		logger.Fatalf("Failed to initialize media library: %v", err)
	}
	defer library.Close()

	backups, err := backup.Open(cfg.HistoryDBPath(), storage, library, cfg.BackupRetention)
	if err != nil {
		logger.Fatalf("Failed to initialize history store: %v", err)
	}
	defer backups.Close()
	library.WithHistory(backups)

	store, err := content.Open(cfg.ContentDBPath())
	if err != nil {
		logger.Fatalf("Failed to initialize content store: %v", err)
	}
	defer store.Close()

	redirects, err := rewrite.OpenRedirects(cfg.RedirectsDBPath())
	if err != nil {
		logger.Fatalf("Failed to initialize redirect store: %v", err)
	}
	defer redirects.Close()

	failureLog, err := failures.Open(cfg.FailuresDBPath())
	if err != nil {
		logger.Fatalf("Failed to initialize failure store: %v", err)
	}
	defer failureLog.Close()

	queue, err := taskqueue.OpenQueue(cfg.QueueDBPath())
	if err != nil {
		logger.Fatalf("Failed to initialize queue: %v", err)
	}
	defer queue.Close()

	var purgers []cachepurge.Purger
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		purgers = append(purgers, cachepurge.NewRedisPurger(cfg.RedisNamespace, client))
	}
	if cfg.CDNPurgeURL != "" {
		purgers = append(purgers, cachepurge.NewHTTPPurger(cfg.CDNPurgeURL))
	}
	if cfg.PageCacheDir != "" {
		purgers = append(purgers, cachepurge.NewDirectoryPurger(cfg.PageCacheDir))
	}
	purgeRegistry := cachepurge.NewRegistry(purgers...)
	logger.Infof("Cache purgers: %v", purgeRegistry.Names())

	pipeline := &job.Pipeline{
		Library:    library,
		Transcoder: encoder.NewRegistry(encoder.DefaultCandidates(cfg.TargetFormat)...),
		Backups:    backups,
		Redirects:  redirects,
		Rewriter:   rewrite.New(cfg.ReservedKeys, store),
		Purgers:    purgeRegistry,
	}
	scheduler := job.NewScheduler(queue, pipeline, failureLog,
		job.NewNotifier(cfg.CallbackURL, cfg.SiteKey, cfg.SiteSecret), cfg.PollInterval)

	logger.Info("Starting scheduler loop")
	go scheduler.Run(ctx)
	scheduler.Kick()

	logger.Info("Starting cleanup routine (runs every 24 hours)")
	go cleanupRoutine(ctx, backups, failureLog)

	handler := routes.New(routes.Deps{
		Auth:       auth.New(creds),
		Scheduler:  scheduler,
		Pipeline:   pipeline,
		Backups:    backups,
		Failures:   failureLog,
		Library:    library,
		Sideloader: media.NewSideloader(library),
		Content:    store,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           routes.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown failed: %v", err)
		}
	}()

	logger.Infof("mediagent listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Server failed: %v", err)
	}
	logger.Info("mediagent stopped")
}

// cleanupRoutine runs the backup retention sweep and prunes old failure records every 24 hours
func cleanupRoutine(ctx context.Context, backups *backup.Store, failureLog *failures.Store) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Cleanup routine stopped")
			return
		case <-ticker.C:
			logger.Info("Running scheduled cleanup")

			removed, err := backups.RetentionSweep(ctx)
			if err != nil {
				logger.Errorf("Retention sweep failed: %v", err)
			} else {
				logger.Infof("Retention sweep removed %d backup(s)", removed)
			}

			n, err := failureLog.CleanupOldRecords(failureMaxAge)
			if err != nil {
				logger.Errorf("Failed to cleanup old failure records: %v", err)
			} else {
				logger.Debugf("Removed %d failure record(s) older than %v", n, failureMaxAge)
			}
		}
	}
}
