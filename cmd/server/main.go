package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/driver"
	_ "dataflow/internal/driver/all"
	"dataflow/internal/lock"
	"dataflow/internal/objectstore"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/handler"
	"dataflow/internal/server/scheduler"
	"dataflow/internal/server/syncer"
	"dataflow/internal/task_executor/orchestrator"
	"dataflow/internal/task_executor/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	common.InitConf()
	common.InitLog()
	config := common.GetConfig()
	logger := common.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dao.InitDB(); err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	store, err := objectstore.New(ctx, config)
	if err != nil {
		logger.Fatal("open object storage", zap.Error(err))
	}
	rdb := redis.NewClient(&redis.Options{Addr: config.RedisAddr, Password: config.RedisPassword})
	defer rdb.Close()

	queue := worker.NewClient(worker.RedisOpt(config), config.TaskMaxRetry)
	defer queue.Close()

	buffers := buffer.New(config.BufferDir, store)
	// steps only ever run on the worker
	orch := orchestrator.New(nil, buffers, queue, lock.New(rdb, config.RunLockTTL), driver.Deps{Store: store})
	sync := syncer.New(syncer.DirFetcher{Root: filepath.Clean(config.ReposDir)})

	sched := scheduler.NewSchedulerService(config)
	if err := sched.ScheduleScan(config.ScanCron); err != nil {
		logger.Fatal("schedule pipeline scan", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}
	defer sched.Shutdown()

	if config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.New(orch, buffers, sync)
	h.SetWebhookSecret(config.WebhookSecret)
	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", config.ListenAddr))
		var err error
		if config.CertPath != "" && config.KeyPath != "" {
			err = srv.ListenAndServeTLS(config.CertPath, config.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
