package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arturwyroslak/apklab/internal/api"
	"github.com/arturwyroslak/apklab/internal/api/handlers"
	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/arturwyroslak/apklab/internal/download"
	"github.com/arturwyroslak/apklab/internal/middleware"
	"github.com/arturwyroslak/apklab/internal/pipeline"
	"github.com/arturwyroslak/apklab/internal/queue"
	"github.com/arturwyroslak/apklab/internal/repository"
	"github.com/arturwyroslak/apklab/internal/service"
	"github.com/arturwyroslak/apklab/internal/tools"
	"github.com/arturwyroslak/apklab/internal/watcher"
	"github.com/arturwyroslak/apklab/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("APKLab - APK Decompile & Rebuild Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APKLab %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 4. 准备存储目录
	for _, dir := range []string{cfg.Storage.TempDir, cfg.Storage.DownloadsDir, cfg.Storage.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	// 5. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")

	jobRepo := repository.NewJobRepository(db, logger)
	jobService := service.NewJobService(jobRepo, logger)

	// 清理因服务重启而中断的任务
	if n, err := jobRepo.FailStuckJobs(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to cleanup stuck jobs")
	} else if n > 0 {
		logger.Infof("Marked %d stuck jobs as failed", n)
	}

	// 6. 初始化 Prometheus 指标与内存监控
	promMetrics := middleware.NewPrometheusMetrics(logger, "apklab")
	logger.Info("Prometheus metrics initialized")

	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second)
	memMonitor.Start()
	defer memMonitor.Stop()
	logger.Info("Memory monitor started")

	// 7. 初始化工具链
	// Runner 包一层指标装饰器，每次外部工具调用都计入 Prometheus
	runner := tools.NewInstrumentedRunner(tools.NewRunner(), promMetrics.RecordToolInvocation)
	toolset := tools.NewToolset(&cfg.Tools, runner, logger)

	if report, err := toolset.CheckAll(context.Background()); err != nil {
		// 启动时工具缺失只告警，任务执行前还会再查一次
		logger.WithError(err).Warn("Toolchain check failed at startup")
	} else {
		logger.WithField("report", report).Info("Toolchain check passed")
	}

	// 8. 初始化流水线
	fetcher := download.NewFetcher(time.Duration(cfg.Download.Timeout)*time.Second, logger)
	decompiler := pipeline.NewDecompiler(&cfg.Storage, toolset, fetcher, logger)
	rebuilder := pipeline.NewRebuilder(&cfg.Storage, toolset, logger)

	// 9. 初始化 WebSocket 进度推送
	progressHandler := handlers.NewProgressHandler(logger)
	progressHandler.Start()
	logger.Info("Progress broadcaster started")

	// 10. 初始化编排器与 Worker 池
	orchestrator := worker.NewOrchestrator(jobRepo, decompiler, rebuilder, logger)
	orchestrator.SetBroadcaster(progressHandler)
	orchestrator.SetMetrics(promMetrics)

	workerPool := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, orchestrator, logger)
	workerPool.Start(context.Background())
	defer workerPool.Stop()
	logger.Infof("Worker pool started with %d workers", cfg.Worker.Concurrency)

	// 11. 初始化 RabbitMQ（可选，用于入站目录任务的持久化排队）
	var mq *queue.RabbitMQ
	var producer *queue.Producer
	if cfg.RabbitMQ.Enabled {
		mq, err = queue.NewRabbitMQ(&cfg.RabbitMQ, cfg.Worker.Concurrency, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer mq.Close()
		mq.StartConnectionWatcher()
		logger.WithField("prefetch_count", cfg.Worker.Concurrency).Info("RabbitMQ connected successfully")

		producer = queue.NewProducer(mq, logger)

		// 消费端：从队列取任务，同步等待本地 Worker 池执行完成
		consumer := queue.NewConsumer(mq, createQueueHandler(workerPool, logger), cfg.Worker.Concurrency, logger)
		if err := consumer.Start(context.Background()); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
		logger.Infof("Queue consumer started with %d workers", cfg.Worker.Concurrency)
	} else {
		logger.Info("RabbitMQ disabled, inbound jobs go straight to worker pool")
	}

	// 12. 启动入站目录监控（投放 *.apk 自动创建解包任务）
	inboundWatcher, err := watcher.NewInboundWatcher(
		cfg.Storage.InboundDir,
		createInboundHandler(jobService, workerPool, producer, logger),
		logger,
	)
	if err != nil {
		logger.Fatalf("Failed to create inbound watcher: %v", err)
	}
	defer inboundWatcher.Stop()
	inboundWatcher.Start(context.Background())
	logger.Infof("Inbound watcher started for directory: %s", cfg.Storage.InboundDir)

	// 13. 启动指标更新协程
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			promMetrics.UpdateSystemStats()
			promMetrics.UpdateWorkerPoolStats(workerPool.GetWorkerCount(), workerPool.GetQueueSize())

			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				promMetrics.UpdateDBStats(stats.OpenConnections, stats.Idle, stats.InUse)
			}
		}
	}()

	// 14. 设置 HTTP Server
	router := api.SetupRouter(cfg, logger, db, toolset, workerPool, mq, progressHandler, memMonitor, promMetrics, Version)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 大 APK 上传
		WriteTimeout: 5 * time.Minute,  // 大产物下载
		IdleTimeout:  120 * time.Second,
	}

	// 15. 启动 HTTP Server
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 16. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 17. 优雅关闭 (30秒超时)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("Server stopped")
}

// createQueueHandler 队列消息处理器：把消息还原成任务并同步提交到 Worker 池
// 消息里只有路径和选项，没有任何凭据
func createQueueHandler(workerPool *worker.Pool, logger *logrus.Logger) queue.JobHandler {
	return func(ctx context.Context, msg *queue.JobMessage) error {
		logger.WithFields(logrus.Fields{
			"job_id":   msg.JobID,
			"apk_name": msg.APKName,
		}).Info("Received job from queue, submitting to worker pool")

		task := &worker.Task{
			JobID: msg.JobID,
			Decompile: &pipeline.DecompileRequest{
				APKPath: msg.APKPath,
				Options: msg.Options,
			},
		}
		return workerPool.SubmitAndWait(ctx, task)
	}
}

// createInboundHandler 入站 APK 处理器：建任务记录后发队列或直接进池
func createInboundHandler(jobService service.JobService, workerPool *worker.Pool, producer *queue.Producer, logger *logrus.Logger) watcher.APKHandler {
	// 入站任务固定走默认选项的完整解包
	defaultOptions := []string{tools.OptMitmPatch, tools.OptDecompileJava}

	return func(ctx context.Context, apkPath string) error {
		job, err := jobService.CreateJob(ctx, domain.JobKindDecompile, filepath.Base(apkPath), defaultOptions)
		if err != nil {
			return err
		}

		if producer != nil {
			return producer.PublishJob(ctx, &queue.JobMessage{
				JobID:   job.ID,
				APKName: job.APKName,
				APKPath: apkPath,
				Options: defaultOptions,
			})
		}

		return workerPool.Submit(&worker.Task{
			JobID: job.ID,
			Decompile: &pipeline.DecompileRequest{
				APKPath: apkPath,
				Options: defaultOptions,
			},
		})
	}
}
