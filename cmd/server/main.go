package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safevoice/internal/dispatch"
	"safevoice/internal/emergency"
	handlers "safevoice/internal/handler"
	"safevoice/internal/listeners"
	"safevoice/internal/propagation"
	"safevoice/internal/telemetry"
	"safevoice/pkg/cache"
	"safevoice/pkg/config"
	"safevoice/pkg/logger"
	"safevoice/pkg/metrics"
	"safevoice/pkg/scheduler"
	"safevoice/pkg/sig"
	"safevoice/pkg/sse"
	"safevoice/pkg/store"
	"safevoice/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1) 配置与日志
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2) 存储与缓存
	hub := sig.NewHub()
	st, err := store.Open(cfg.DBDriver, cfg.DSN, hub)
	if err != nil {
		logger.Error("open store failed", zap.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	snapCache, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Error("init cache failed", zap.Error(err))
		os.Exit(1)
	}
	defer snapCache.Close()

	// 重启后把活跃预警数量的仪表对齐到存储里的真实值
	if recs, err := st.ActiveEmergencies(context.Background()); err == nil {
		metrics.Default().SetActive(len(recs))
	} else {
		logger.Warn("count active emergencies failed", zap.Error(err))
	}

	// 3) 调度与广播
	httpClient := &http.Client{Timeout: cfg.DispatchTimeout}
	dispatcher := dispatch.New(cfg.AppURL,
		dispatch.ChannelsFromConfig(cfg.Twilio, cfg.Meta, httpClient)...)

	tracker := telemetry.NewTracker(st, nil)
	defer tracker.Close()

	manager := emergency.NewManager(st, dispatcher, tracker, cfg.DispatchTimeout)

	broker := propagation.New(st, snapCache, hub, cfg.PollInterval)
	broker.Start()
	defer broker.Stop()

	// 4) 对外推送面
	sseHub := sse.NewHub(30 * time.Second)
	wsHub := websocket.NewHub()
	go wsHub.Run()
	defer wsHub.Stop()

	listeners.InitEmergencyListeners(hub, broker, sseHub, wsHub)

	// 5) 位置样本保留期清理,每天凌晨三点
	cr := scheduler.NewCron(time.Local)
	_, err = cr.Add("0 3 * * *", scheduler.FuncJob(func(ctx context.Context) {
		cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
		n, err := st.PurgeResolvedLocations(ctx, cutoff)
		if err != nil {
			logger.Warn("retention purge failed", zap.Error(err))
			return
		}
		logger.Info("retention purge done", zap.Int64("samples", n), zap.Time("cutoff", cutoff))
	}))
	if err != nil {
		logger.Error("schedule retention purge failed", zap.Error(err))
		os.Exit(1)
	}
	cr.Start()
	defer cr.Stop()

	// 6) HTTP
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.NewHandlers(st, manager, tracker, dispatcher, broker, sseHub, wsHub).Register(engine)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: engine,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	// 7) 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
