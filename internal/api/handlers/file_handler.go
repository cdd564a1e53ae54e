package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FileHandler 产物下载处理器
type FileHandler struct {
	downloadsDir string
	logger       *logrus.Logger
}

// NewFileHandler 创建产物下载处理器
func NewFileHandler(downloadsDir string, logger *logrus.Logger) *FileHandler {
	return &FileHandler{
		downloadsDir: downloadsDir,
		logger:       logger,
	}
}

// Download 下载流水线产物
// GET /api/download/:filename
// 文件名必须是下载目录内的裸文件名，拒绝任何路径穿越
func (h *FileHandler) Download(c *gin.Context) {
	filename := c.Param("filename")

	if filename == "" || filename != filepath.Base(filename) ||
		strings.Contains(filename, "..") || strings.HasPrefix(filename, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法的文件名"})
		return
	}

	path := filepath.Join(h.downloadsDir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"file": filename,
		"size": info.Size(),
	}).Info("Artifact download")

	c.FileAttachment(path, filename)
}
