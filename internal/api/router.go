package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/arturwyroslak/apklab/internal/api/handlers"
	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/middleware"
	"github.com/arturwyroslak/apklab/internal/queue"
	"github.com/arturwyroslak/apklab/internal/repository"
	"github.com/arturwyroslak/apklab/internal/service"
	"github.com/arturwyroslak/apklab/internal/tools"
	"github.com/arturwyroslak/apklab/internal/worker"
)

// SetupRouter 组装 HTTP 路由
func SetupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	db *gorm.DB,
	toolset *tools.Toolset,
	pool *worker.Pool,
	mq *queue.RabbitMQ,
	progressHandler *handlers.ProgressHandler,
	memMonitor *middleware.MemoryMonitor,
	promMetrics *middleware.PrometheusMetrics,
	version string,
) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Prometheus 监控中间件
	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
	}

	// 上传的 APK 可能很大，超出部分落盘
	r.MaxMultipartMemory = 32 << 20

	// 静态资源
	r.Static("/static", "./web/static")
	r.LoadHTMLGlob("./web/templates/*")

	// 初始化依赖
	jobRepo := repository.NewJobRepository(db, logger)
	jobService := service.NewJobService(jobRepo, logger)

	// 初始化处理器
	pipelineHandler := handlers.NewPipelineHandler(jobService, jobRepo, pool, &cfg.Storage, logger)
	jobHandler := handlers.NewJobHandler(jobService, logger)
	fileHandler := handlers.NewFileHandler(cfg.Storage.DownloadsDir, logger)
	systemHandler := handlers.NewSystemHandler(toolset, pool, mq, version, logger)

	// 主页面
	r.GET("/", func(c *gin.Context) {
		c.HTML(200, "index.html", gin.H{
			"title": "APKLab - APK 解包与重打包",
		})
	})

	// 任务进度 WebSocket（:id 为任务 ID 或 "all"）
	r.GET("/ws/jobs/:id", progressHandler.HandleWebSocket)

	// 性能监控端点 (仅在非生产环境)
	if cfg.Server.Mode != "release" {
		middleware.RegisterPprof(r)
		logger.Info("pprof endpoints registered at /debug/pprof/*")
	}

	// 内存监控端点
	r.GET("/metrics", memMonitor.MetricsEndpoint())
	r.POST("/debug/gc", middleware.ForceGC())

	// Prometheus 指标端点
	if promMetrics != nil {
		r.GET("/metrics/prometheus", promMetrics.Handler())
	}

	// API v1
	v1 := r.Group("/api")
	{
		// 健康检查
		v1.GET("/health", systemHandler.Health)

		// 工具链检测
		v1.GET("/tools", systemHandler.CheckTools)

		// 系统统计
		v1.GET("/stats", jobHandler.GetStats)

		// 流水线提交
		v1.POST("/decompile", pipelineHandler.SubmitDecompile)
		v1.POST("/rebuild", pipelineHandler.SubmitRebuild)

		// 任务管理
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.GET("/jobs/:id/log", jobHandler.GetJobLog)
		v1.DELETE("/jobs/:id", jobHandler.DeleteJob)

		// 产物下载
		v1.GET("/download/:filename", fileHandler.Download)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  method,
			"path":    path,
			"latency": latency.Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
