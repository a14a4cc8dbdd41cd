package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/commitpipe"
	"github.com/kohakuhub/server/internal/module/gitbridge"
	"github.com/kohakuhub/server/internal/module/lakefs"
	"github.com/kohakuhub/server/internal/module/lfs"
	"github.com/kohakuhub/server/internal/module/namespace"
	"github.com/kohakuhub/server/internal/module/org"
	"github.com/kohakuhub/server/internal/module/quota"
	"github.com/kohakuhub/server/internal/module/repo"
	"github.com/kohakuhub/server/internal/module/storage"
	"github.com/kohakuhub/server/internal/shared/config"
	"github.com/kohakuhub/server/internal/shared/database"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/metrics"
	"github.com/kohakuhub/server/internal/utils/middleware"
)

const stagingSweepInterval = time.Hour

// App wires the hub's modules together.
type App struct {
	config   *config.Config
	db       *gorm.DB
	redis    *redis.Client
	router   *gin.Engine
	logger   *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	lake  *lakefs.Client
	blobs *storage.Client

	nsService    *namespace.Service
	quotaEngine  *quota.Engine
	collector    *lfs.Collector
	lfsService   *lfs.Service
	pipeline     *commitpipe.Pipeline
	repoService  *repo.Service
	orgService   *org.Service
	authMW       *middleware.Authenticator
	repoHandler  *repo.Handler
	orgHandler   *org.Handler
	commitH      *commitpipe.Handler
	lfsHandler   *lfs.Handler
	gitHandler   *gitbridge.Handler
	adminHandler *adminHandler

	stop chan struct{}
}

// New creates the application: connections first, then services, then
// handlers and routes.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	a := &App{
		config: cfg,
		logger: log,
		stop:   make(chan struct{}),
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.db = db

	if cfg.Redis.Address != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unreachable, usage cache disabled", "error", err)
			a.redis = nil
		}
	}

	a.blobs, err = storage.New(&cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	a.lake = lakefs.New(&cfg.LakeFS, log)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.initServices()
	a.initHandlers()
	a.router = a.setupRouter()

	go a.sweepLoop()

	return a, nil
}

func (a *App) initServices() {
	cfg, log := a.config, a.logger

	a.nsService = namespace.NewService(a.db, log)
	a.quotaEngine = quota.NewEngine(a.db, quota.NewUsageCache(a.redis, log), log)
	a.collector = lfs.NewCollector(a.db, a.blobs, cfg.LFS.HistoryKeep, a.metrics, log)
	a.lfsService = lfs.NewService(lfs.NewStagingRepo(a.db), a.blobs, &cfg.LFS, a.metrics, log)

	a.pipeline = commitpipe.New(a.db, a.lake, a.blobs, a.quotaEngine, a.metrics,
		cfg.LFS.InlineThresholdBytes, cfg.App.BaseURL, log)
	a.pipeline.ScheduleGC = func(repoFullID string, repoType model.RepoType) {
		go func() {
			if err := a.collector.CollectRepo(context.Background(), repoFullID); err != nil {
				log.Warn("background gc failed", "repo", repoFullID, "error", err)
			}
		}()
	}

	a.repoService = repo.NewService(a.db, a.lake, a.blobs, a.nsService,
		a.quotaEngine, a.collector, a.pipeline, cfg, log)
	a.orgService = org.NewService(a.db, a.nsService, log)
}

func (a *App) initHandlers() {
	cfg, log := a.config, a.logger

	a.authMW = middleware.NewAuthenticator(a.db, cfg.App.AdminSecretToken, log)
	a.repoHandler = repo.NewHandler(a.repoService, a.nsService, a.blobs, cfg, log)
	a.orgHandler = org.NewHandler(a.orgService)
	a.commitH = commitpipe.NewHandler(a.pipeline, a.repoService, a.nsService,
		a.db, cfg.LFS.InlineThresholdBytes, log)
	a.lfsHandler = lfs.NewHandler(a.lfsService, a.repoService, a.nsService, cfg.App.BaseURL)

	bridge := gitbridge.New(a.lake, gitbridge.NewStoreHasher(a.lake),
		cfg.Git.LFSThresholdBytes, commitpipe.DefaultBranch, a.metrics, log)
	a.gitHandler = gitbridge.NewHandler(bridge, a.repoService, a.nsService, log)

	a.adminHandler = newAdminHandler(a.nsService, a.quotaEngine, a.collector, a.lfsService, a.repoService)
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// sweepLoop periodically clears expired staging uploads.
func (a *App) sweepLoop() {
	ticker := time.NewTicker(stagingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			n, err := a.lfsService.SweepStaging(context.Background())
			if err != nil {
				a.logger.Warn("staging sweep failed", "error", err)
			} else if n > 0 {
				a.logger.Info("staging sweep", "removed", n)
			}
		}
	}
}

// Stop shuts down background work and connections.
func (a *App) Stop() {
	close(a.stop)
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}
}
