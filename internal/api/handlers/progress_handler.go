package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ProgressMessage 推送给前端的任务进度消息
type ProgressMessage struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Step      string `json:"step,omitempty"`
	Percent   int    `json:"percent"`
	Artifact  string `json:"artifact,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ProgressHandler 任务进度 WebSocket 推送
// 实现 worker.ProgressBroadcaster，编排器的进度旁路信号经这里广播；
// 订阅 "all" 的客户端收到所有任务的消息
type ProgressHandler struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*websocket.Conn]string // conn → 订阅的 job_id
	clientMutex sync.RWMutex
	broadcast   chan ProgressMessage
}

// NewProgressHandler 创建进度推送处理器
func NewProgressHandler(logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 单机自部署工具，不限制来源
			},
		},
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan ProgressMessage, 100),
	}
}

// Start 启动广播服务
func (h *ProgressHandler) Start() {
	go h.runBroadcaster()
}

func (h *ProgressHandler) runBroadcaster() {
	for msg := range h.broadcast {
		var stale []*websocket.Conn

		h.clientMutex.RLock()
		for conn, jobID := range h.clients {
			if jobID != msg.JobID && jobID != "all" {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Warn("Failed to write to WebSocket client")
				stale = append(stale, conn)
			}
		}
		h.clientMutex.RUnlock()

		if len(stale) > 0 {
			h.clientMutex.Lock()
			for _, conn := range stale {
				conn.Close()
				delete(h.clients, conn)
			}
			h.clientMutex.Unlock()
		}
	}
}

// BroadcastProgress 实现 worker.ProgressBroadcaster
// 通道满时丢弃消息，进度推送永远不反压流水线
func (h *ProgressHandler) BroadcastProgress(jobID string, status string, step string, percent int, artifactName string) {
	msg := ProgressMessage{
		JobID:     jobID,
		Status:    status,
		Step:      step,
		Percent:   percent,
		Artifact:  artifactName,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("Progress broadcast channel full, message dropped")
	}
}

// HandleWebSocket 处理进度订阅连接
// GET /ws/jobs/:id  (:id 为任务 ID 或 "all")
func (h *ProgressHandler) HandleWebSocket(c *gin.Context) {
	jobID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	h.clientMutex.Lock()
	h.clients[conn] = jobID
	h.clientMutex.Unlock()

	h.logger.WithField("job_id", jobID).Debug("WebSocket client subscribed")

	// 读循环只为感知客户端断开
	go func() {
		defer func() {
			h.clientMutex.Lock()
			delete(h.clients, conn)
			h.clientMutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
