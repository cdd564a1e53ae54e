package repository

import (
	"context"
	"time"

	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	FindByID(ctx context.Context, id string) (*domain.Job, error)
	ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Job, int64, error)
	Delete(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, step string, percent int) error
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, artifactName string, log string) error
	MarkFailed(ctx context.Context, id string, errorMessage string, log string) error
	// 获取各状态任务数量统计（数据库聚合查询）
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	// 服务重启后把失去执行者的 queued/running 任务置为 failed
	FailStuckJobs(ctx context.Context) (int64, error)
}

type jobRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewJobRepository(db *gorm.DB, logger *logrus.Logger) JobRepository {
	return &jobRepo{
		db:     db,
		logger: logger,
	}
}

func (r *jobRepo) Create(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Job, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []*domain.Job
	err := r.db.WithContext(ctx).
		// 列表查询不带完整日志，日志单独按 ID 取
		Omit("log").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

func (r *jobRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Job{}, "id = ?", id).Error
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id string, step string, percent int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_step":     step,
			"progress_percent": percent,
		}).Error
}

func (r *jobRepo) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusRunning,
			"started_at": now,
		}).Error
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id string, artifactName string, log string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           domain.JobStatusCompleted,
			"artifact_name":    artifactName,
			"log":              log,
			"current_step":     "完成",
			"progress_percent": 100,
			"completed_at":     now,
		}).Error
}

func (r *jobRepo) MarkFailed(ctx context.Context, id string, errorMessage string, log string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"error_message": errorMessage,
			"log":           log,
			"completed_at":  now,
		}).Error

	if err != nil {
		r.logger.WithError(err).WithField("job_id", id).Error("Failed to mark job failed")
	}
	return err
}

func (r *jobRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type row struct {
		Status string
		Count  int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, rw := range rows {
		counts[rw.Status] = rw.Count
		total += rw.Count
	}

	return counts, total, nil
}

func (r *jobRepo) FailStuckJobs(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	// API 提交的任务只存在于内存队列，重启后 queued 和 running 都
	// 没有执行者了；统一置为 failed。持久化队列重投的消息会把对应
	// 任务重新驱动回 running
	result := r.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"error_message": "服务重启，任务中断",
			"completed_at":  now,
		})

	return result.RowsAffected, result.Error
}
