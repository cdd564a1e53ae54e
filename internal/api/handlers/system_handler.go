package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/arturwyroslak/apklab/internal/queue"
	"github.com/arturwyroslak/apklab/internal/tools"
	"github.com/arturwyroslak/apklab/internal/worker"
)

// SystemHandler 系统状态处理器
type SystemHandler struct {
	toolset   *tools.Toolset
	pool      *worker.Pool
	mq        *queue.RabbitMQ // 可为 nil（未启用消息队列）
	logger    *logrus.Logger
	startTime time.Time
	version   string
}

// NewSystemHandler 创建系统状态处理器
func NewSystemHandler(toolset *tools.Toolset, pool *worker.Pool, mq *queue.RabbitMQ, version string, logger *logrus.Logger) *SystemHandler {
	return &SystemHandler{
		toolset:   toolset,
		pool:      pool,
		mq:        mq,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

// CheckTools 检测外部工具链可用性
// GET /api/tools
func (h *SystemHandler) CheckTools(c *gin.Context) {
	report, err := h.toolset.CheckAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"report": report,
	})
}

// Health 健康检查
// GET /api/health
func (h *SystemHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":     "ok",
		"version":    h.version,
		"uptime":     time.Since(h.startTime).Round(time.Second).String(),
		"workers":    h.pool.GetWorkerCount(),
		"queue_size": h.pool.GetQueueSize(),
	}

	if h.mq != nil {
		resp["rabbitmq_connected"] = h.mq.IsConnected()
	}

	c.JSON(http.StatusOK, resp)
}
