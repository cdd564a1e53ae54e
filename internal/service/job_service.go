package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/arturwyroslak/apklab/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobService 任务服务接口
type JobService interface {
	// 创建任务记录（queued 状态）
	CreateJob(ctx context.Context, kind domain.JobKind, apkName string, options []string) (*domain.Job, error)

	// 获取任务
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// 获取任务列表（分页）
	ListJobs(ctx context.Context, page int, pageSize int) ([]*domain.Job, int64, error)

	// 删除任务记录（不动已产出的下载文件）
	DeleteJob(ctx context.Context, jobID string) error

	// 获取任务状态统计
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
}

type jobService struct {
	jobRepo repository.JobRepository
	logger  *logrus.Logger
}

// NewJobService 创建任务服务实例
func NewJobService(jobRepo repository.JobRepository, logger *logrus.Logger) JobService {
	return &jobService{
		jobRepo: jobRepo,
		logger:  logger,
	}
}

func (s *jobService) CreateJob(ctx context.Context, kind domain.JobKind, apkName string, options []string) (*domain.Job, error) {
	job := &domain.Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		APKName:     apkName,
		Options:     strings.Join(options, ","),
		Status:      domain.JobStatusQueued,
		CurrentStep: "任务已创建",
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		s.logger.WithError(err).Error("Failed to create job")
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   kind,
		"apk":    apkName,
	}).Info("Job created")

	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobRepo.FindByID(ctx, jobID)
}

func (s *jobService) ListJobs(ctx context.Context, page int, pageSize int) ([]*domain.Job, int64, error) {
	return s.jobRepo.ListWithPagination(ctx, page, pageSize)
}

func (s *jobService) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("任务仍在执行中，无法删除")
	}
	return s.jobRepo.Delete(ctx, jobID)
}

func (s *jobService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	return s.jobRepo.GetStatusCounts(ctx)
}
