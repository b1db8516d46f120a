package main

import (
	"context"
	"errors"
	"net/http"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/driver"
	_ "dataflow/internal/driver/all"
	"dataflow/internal/lock"
	"dataflow/internal/objectstore"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/model"
	"dataflow/internal/task_executor/docker"
	"dataflow/internal/task_executor/orchestrator"
	"dataflow/internal/task_executor/runner"
	"dataflow/internal/task_executor/sandbox"
	"dataflow/internal/task_executor/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	common.InitConf()
	common.InitLog()
	config := common.GetConfig()
	logger := common.GetLogger()
	defer logger.Sync()
	ctx := context.Background()

	if err := dao.InitDB(); err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	store, err := objectstore.New(ctx, config)
	if err != nil {
		logger.Fatal("open object storage", zap.Error(err))
	}
	python, closer := pythonExecutor(ctx, config)
	defer closer()

	rdb := redis.NewClient(&redis.Options{Addr: config.RedisAddr, Password: config.RedisPassword})
	defer rdb.Close()
	queue := worker.NewClient(worker.RedisOpt(config), config.TaskMaxRetry)
	defer queue.Close()

	buffers := buffer.New(config.BufferDir, store)
	executors := sandbox.Mux{
		model.LanguagePython: python,
		model.LanguageGo:     sandbox.GoFuncs{},
	}
	engine := runner.NewEngine(executors, buffers, queue)
	orch := orchestrator.New(engine, buffers, queue, lock.New(rdb, config.RunLockTTL), driver.Deps{Store: store})

	if config.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(config.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", zap.Error(err))
			}
		}()
	}

	srv, mux := worker.NewServer(config, worker.NewHandlers(orch, buffers))
	logger.Info("worker started",
		zap.Int("concurrency", config.WorkerConcurrency),
		zap.String("sandbox", config.SandboxProvider),
		zap.Strings("go_transformations", sandbox.Registered()))
	if err := srv.Run(mux); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}

func pythonExecutor(ctx context.Context, config common.Config) (sandbox.Executor, func()) {
	logger := common.GetLogger()
	if config.SandboxProvider == "process" {
		return sandbox.NewProcess(config), func() {}
	}
	d, err := docker.NewExecutor(config)
	if err != nil {
		logger.Fatal("docker client", zap.Error(err))
	}
	if err := d.Ping(ctx); err != nil {
		logger.Fatal("docker daemon unreachable", zap.String("host", config.DockerHost), zap.Error(err))
	}
	return d, func() { d.Close() }
}
