package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/config"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/logger"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/routers"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/views"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.xml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.L().Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := models.InitDB(cfg)
	if err != nil {
		log.Error("init database", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	staging, err := services.NewStagingStore(cfg.StagingDir, config.Duration(cfg.StagingTTL, 24*time.Hour))
	if err != nil {
		log.Error("init staging store", "dir", cfg.StagingDir, "error", err)
		os.Exit(1)
	}
	go staging.RunJanitor(ctx, config.Duration(cfg.JanitorInterval, time.Hour))

	var cache services.ChunkCache
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, chunk cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			cache = services.NewRedisChunkCache(rc, config.Duration(cfg.CacheTTL, 10*time.Minute))
		}
	}

	reprojectDB := db
	if !cfg.PostGIS {
		reprojectDB = nil
	}
	importer := services.NewImporter(db, Transformer.NewReprojector(reprojectDB), cfg.ImportWorkers,
		config.Duration(cfg.ImportTimeout, 30*time.Minute))
	audit := services.NewAuditService(db)
	jobs := services.NewJobManager(24 * time.Hour)

	engine := routers.NewEngine(routers.Handlers{
		Auth:    views.NewAuthenticator(db, cfg.JWTSecret),
		Uploads: views.NewUploadHandler(services.NewUploadService(db, staging, importer, jobs, audit), jobs),
		Layers:  views.NewLayerHandler(services.NewChunkServer(db, cache), services.NewLayerService(db, importer), audit),
		Scenes:  views.NewSceneHandler(services.NewSceneService(db, audit), cfg.PublicURL),
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: engine}
	go func() {
		log.Info("server listening", "addr", cfg.Listen, "db", cfg.DBType)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
}
