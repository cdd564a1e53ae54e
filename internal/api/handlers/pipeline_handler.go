package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/arturwyroslak/apklab/internal/download"
	"github.com/arturwyroslak/apklab/internal/pipeline"
	"github.com/arturwyroslak/apklab/internal/repository"
	"github.com/arturwyroslak/apklab/internal/service"
	"github.com/arturwyroslak/apklab/internal/worker"
)

// PipelineHandler 流水线任务提交处理器
// 负责接收上传、创建任务记录并投递到 Worker 池；
// 重打包的密钥库凭据只进内存任务，绝不落库
type PipelineHandler struct {
	jobService service.JobService
	jobRepo    repository.JobRepository
	pool       *worker.Pool
	storage    *config.StorageConfig
	logger     *logrus.Logger
}

// NewPipelineHandler 创建流水线提交处理器
func NewPipelineHandler(
	jobService service.JobService,
	jobRepo repository.JobRepository,
	pool *worker.Pool,
	storage *config.StorageConfig,
	logger *logrus.Logger,
) *PipelineHandler {
	return &PipelineHandler{
		jobService: jobService,
		jobRepo:    jobRepo,
		pool:       pool,
		storage:    storage,
		logger:     logger,
	}
}

// SubmitDecompile 提交解包任务
// POST /api/decompile  (multipart: file 或 url 二选一, options[] 可选)
func (h *PipelineHandler) SubmitDecompile(c *gin.Context) {
	apkURL := strings.TrimSpace(c.PostForm("url"))
	file, fileErr := c.FormFile("file")
	options := c.PostFormArray("options")

	if fileErr != nil && apkURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请上传 APK 文件或提供下载地址"})
		return
	}

	var apkPath, apkName string
	if fileErr == nil {
		staged, err := h.stageUpload(c, file)
		if err != nil {
			h.logger.WithError(err).Error("Failed to stage uploaded APK")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
			return
		}
		apkPath = staged
		apkName = filepath.Base(staged)
	} else {
		name, err := download.FileName(apkURL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的下载地址"})
			return
		}
		apkName = name
	}

	job, err := h.jobService.CreateJob(c.Request.Context(), domain.JobKindDecompile, apkName, options)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := &worker.Task{
		JobID: job.ID,
		Decompile: &pipeline.DecompileRequest{
			APKPath: apkPath,
			APKURL:  apkURL,
			Options: options,
		},
	}

	if err := h.pool.Submit(task); err != nil {
		h.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to submit job")
		_ = h.jobRepo.MarkFailed(c.Request.Context(), job.ID, "任务队列已满", "")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "任务队列已满，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "解包任务已提交",
	})
}

// SubmitRebuild 提交重打包签名任务
// POST /api/rebuild  (multipart: project_zip, keystore, ks_pass, ks_alias, key_pass, options[])
func (h *PipelineHandler) SubmitRebuild(c *gin.Context) {
	ksPass := c.PostForm("ks_pass")
	ksAlias := c.PostForm("ks_alias")
	keyPass := c.PostForm("key_pass")
	options := c.PostFormArray("options")

	projectZip, err := c.FormFile("project_zip")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请上传解包项目压缩包"})
		return
	}
	keystore, err := c.FormFile("keystore")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请上传密钥库文件"})
		return
	}
	if ksPass == "" || ksAlias == "" || keyPass == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "密钥库口令、别名和密钥口令均不能为空"})
		return
	}

	zipPath, err := h.stageUpload(c, projectZip)
	if err != nil {
		h.logger.WithError(err).Error("Failed to stage project zip")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
		return
	}
	keystorePath, err := h.stageUpload(c, keystore)
	if err != nil {
		h.logger.WithError(err).Error("Failed to stage keystore")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
		return
	}

	job, err := h.jobService.CreateJob(c.Request.Context(), domain.JobKindRebuild, filepath.Base(zipPath), options)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := &worker.Task{
		JobID: job.ID,
		Rebuild: &pipeline.RebuildRequest{
			ProjectZip:   zipPath,
			KeystorePath: keystorePath,
			KsPass:       ksPass,
			KsAlias:      ksAlias,
			KeyPass:      keyPass,
			Options:      options,
		},
	}

	if err := h.pool.Submit(task); err != nil {
		h.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to submit job")
		_ = h.jobRepo.MarkFailed(c.Request.Context(), job.ID, "任务队列已满", "")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "任务队列已满，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "重打包任务已提交",
	})
}

// stageUpload 把上传文件落到临时目录的独立子目录，保留原始文件名
// 文件名决定后续工作目录与产物命名，所以不能改写
func (h *PipelineHandler) stageUpload(c *gin.Context, file *multipart.FileHeader) (string, error) {
	name := filepath.Base(file.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid upload filename: %q", file.Filename)
	}

	stageDir := filepath.Join(h.storage.TempDir, "uploads", uuid.New().String()[:8])
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	dest := filepath.Join(stageDir, name)
	if err := c.SaveUploadedFile(file, dest); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"file": name,
		"size": file.Size,
	}).Debug("Upload staged")

	return dest, nil
}
