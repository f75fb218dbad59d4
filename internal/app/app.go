package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"faceattend/internal/attempt"
	"faceattend/internal/attendance"
	"faceattend/internal/calendar"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/embedcache"
	"faceattend/internal/faceclient"
	"faceattend/internal/handler"
	"faceattend/internal/queue"
	"faceattend/internal/registry"
	"faceattend/internal/scan"
	"faceattend/internal/staging"
	"faceattend/internal/store"
	"faceattend/internal/tree"
)

const queueKey = "attendance:attempts"

// App is the wired component graph shared by the api and worker binaries.
type App struct {
	Config   config.App
	Tree     tree.Tree
	Face     *faceclient.Client
	Stager   *staging.Stager
	Registry *registry.Registry
	Calendar *calendar.Calendar
	Service  *attendance.Service
	Reporter *attendance.Reporter
	Attempts attempt.Store
	Queue    queue.Queue
	Redis    *store.Redis

	closers []io.Closer
}

// Build opens the configured backends and wires the services.
func Build(ctx context.Context, cfg config.App) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &App{Config: cfg}

	cal, err := calendar.New(cfg.Timezone, nil)
	if err != nil {
		return nil, err
	}
	a.Calendar = cal

	if a.Stager, err = staging.New(cfg.TempDir); err != nil {
		return nil, err
	}
	if a.Registry, err = registry.New(cfg.RegistryDir); err != nil {
		return nil, err
	}
	if a.Tree, err = a.openTree(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Face = faceclient.New(cfg.Face.ServiceURL, cfg.Face.Skip)
	opts := faceclient.DefaultOptions()
	opts.Model = cfg.Face.Model
	opts.Detector = cfg.Face.Detector
	opts.Metric = cfg.Face.Metric
	cache := embedcache.New(a.Face, opts, cfg.Face.CacheSize)
	scanner := scan.New(a.Registry, a.Face, scan.Config{
		Options:     opts,
		MaxDistance: cfg.Face.MaxDistance,
		Workers:     cfg.Face.Workers,
	})

	var archive attendance.Archiver
	if cfg.Cloudinary.Enabled() {
		archive = cloudinary.New(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Folder)
		log.Println("Cloudinary configured:", cfg.Cloudinary.CloudName)
	} else {
		log.Println("Cloudinary not configured, captures are not archived")
	}

	repo := attendance.NewRepository(a.Tree)
	a.Service = attendance.NewService(a.Stager, scanner, attendance.NewRecorder(repo, cal), repo, a.Registry, cache, archive)
	a.Reporter = attendance.NewReporter(repo, cal)

	if cfg.QueueBackend == "redis" {
		r := a.redis()
		a.Queue = queue.NewRedisQueue(r.Client, queueKey)
		a.Attempts = attempt.NewRedis(r.Client, 0)
	} else {
		a.Queue = queue.NewInMemory(64)
		a.Attempts = attempt.NewMemory()
	}

	log.Printf("attendance store: %s, queue: %s, face service: %s (skip=%v)",
		cfg.TreeBackend, cfg.QueueBackend, cfg.Face.ServiceURL, cfg.Face.Skip)
	log.Printf("registry: %s, staging: %s, timezone: %s",
		a.Registry.Dir(), a.Stager.Dir(), a.Calendar.Location())
	return a, nil
}

// ResetStaging empties the staging area when attempts are only handled in
// this process. With a shared queue a worker may still need the staged files.
func (a *App) ResetStaging() error {
	if a.Config.QueueBackend != "memory" {
		return nil
	}
	return a.Stager.Clear()
}

func (a *App) redis() *store.Redis {
	if a.Redis == nil {
		a.Redis = store.NewRedis(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
		a.closers = append(a.closers, a.Redis)
	}
	return a.Redis
}

func (a *App) openTree(ctx context.Context) (tree.Tree, error) {
	cfg := a.Config
	switch cfg.TreeBackend {
	case config.BackendFirebase:
		return tree.NewFirebase(ctx, cfg.Firebase.DatabaseURL, cfg.Firebase.CredentialsFile, cfg.Firebase.AuthToken)
	case config.BackendPostgres:
		db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		return tree.NewSQL(ctx, db.Client, tree.Postgres)
	case config.BackendSQLite:
		db, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		return tree.NewSQL(ctx, db.Client, tree.SQLite)
	case config.BackendRedis:
		return tree.NewRedis(a.redis().Client, "tree"), nil
	case config.BackendMemory:
		log.Println("WARNING: memory attendance store, records are lost on restart")
		return tree.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown tree backend %q", cfg.TreeBackend)
}

// Checks lists the dependency checks served by /healthz.
func (a *App) Checks() []handler.Check {
	checks := []handler.Check{
		{Name: "store", Run: a.Tree.Ping},
		{Name: "face", Run: a.Face.Health},
	}
	if a.Redis != nil {
		checks = append(checks, handler.Check{Name: "redis", Run: func(ctx context.Context) error {
			if !a.Redis.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		}})
	}
	return checks
}

// Worker builds the consumer for queued attempts.
func (a *App) Worker() *attempt.Worker {
	return attempt.NewWorker(a.Queue, a.Attempts, a.Service)
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
