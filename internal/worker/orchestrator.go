package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/arturwyroslak/apklab/internal/pipeline"
	"github.com/arturwyroslak/apklab/internal/repository"
	"github.com/sirupsen/logrus"
)

// ProgressBroadcaster 进度广播接口
// 由 WebSocket 处理器实现，编排器不依赖具体的推送通道
type ProgressBroadcaster interface {
	BroadcastProgress(jobID string, status string, step string, percent int, artifactName string)
}

// JobMetrics 任务指标接口，由 Prometheus 收集器实现
// JobStarted/JobFinished 维护执行中任务的计量，成对调用
type JobMetrics interface {
	JobStarted()
	JobFinished()
	RecordJob(kind string, status string, duration time.Duration)
}

// Orchestrator 任务编排器
// 从任务记录出发驱动对应流水线：置 running、把流水线进度回调适配成
// 数据库更新 + WebSocket 推送，结束后持久化日志/产物/终态
type Orchestrator struct {
	jobRepo     repository.JobRepository
	decompiler  *pipeline.Decompiler
	rebuilder   *pipeline.Rebuilder
	broadcaster ProgressBroadcaster
	metrics     JobMetrics
	logger      *logrus.Logger
}

// NewOrchestrator 创建任务编排器
func NewOrchestrator(jobRepo repository.JobRepository, decompiler *pipeline.Decompiler, rebuilder *pipeline.Rebuilder, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		jobRepo:    jobRepo,
		decompiler: decompiler,
		rebuilder:  rebuilder,
		logger:     logger,
	}
}

// SetBroadcaster 设置进度广播器（可选）
func (o *Orchestrator) SetBroadcaster(b ProgressBroadcaster) {
	o.broadcaster = b
}

// SetMetrics 设置指标收集器（可选）
func (o *Orchestrator) SetMetrics(m JobMetrics) {
	o.metrics = m
}

// Execute 执行一个任务
func (o *Orchestrator) Execute(ctx context.Context, task *Task) error {
	startTime := time.Now()

	job, err := o.jobRepo.FindByID(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", task.JobID, err)
	}

	// 找不到任务记录不计入执行中
	if o.metrics != nil {
		o.metrics.JobStarted()
		defer o.metrics.JobFinished()
	}

	if err := o.jobRepo.MarkRunning(ctx, job.ID); err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to mark job running")
	}
	o.broadcast(job.ID, string(domain.JobStatusRunning), "开始执行", 0, "")

	progress := o.progressFunc(ctx, job.ID)

	var artifactName, runLog string
	var runErr error

	switch {
	case task.Decompile != nil:
		result, err := o.decompiler.Run(ctx, task.Decompile, progress)
		runLog = result.Log
		artifactName = result.ArchiveName
		runErr = err

	case task.Rebuild != nil:
		result, err := o.rebuilder.Run(ctx, task.Rebuild, progress)
		runLog = result.Log
		artifactName = result.APKName
		runErr = err

	default:
		runErr = fmt.Errorf("task %s carries no pipeline request", task.JobID)
	}

	duration := time.Since(startTime)

	if runErr != nil {
		errMsg := fmt.Sprintf("[%s] %v", pipeline.CategoryOf(runErr), runErr)
		if err := o.jobRepo.MarkFailed(ctx, job.ID, errMsg, runLog); err != nil {
			o.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to persist job failure")
		}
		o.broadcast(job.ID, string(domain.JobStatusFailed), errMsg, 0, "")
		o.record(string(job.Kind), string(domain.JobStatusFailed), duration)

		o.logger.WithError(runErr).WithFields(logrus.Fields{
			"job_id":   job.ID,
			"kind":     job.Kind,
			"category": pipeline.CategoryOf(runErr),
			"duration": duration,
		}).Error("Pipeline failed")
		return runErr
	}

	if err := o.jobRepo.MarkCompleted(ctx, job.ID, artifactName, runLog); err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to persist job completion")
	}
	o.broadcast(job.ID, string(domain.JobStatusCompleted), "完成", 100, artifactName)
	o.record(string(job.Kind), string(domain.JobStatusCompleted), duration)

	o.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"artifact": artifactName,
		"duration": duration,
	}).Info("Pipeline completed")

	return nil
}

// progressFunc 把流水线进度回调适配为数据库更新 + WebSocket 推送
// 进度是旁路信号，持久化失败只记日志，不打断流水线
func (o *Orchestrator) progressFunc(ctx context.Context, jobID string) pipeline.ProgressFunc {
	return func(fraction float64, step string) {
		percent := int(fraction * 100)
		if percent > 100 {
			percent = 100
		}

		if err := o.jobRepo.UpdateProgress(ctx, jobID, step, percent); err != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Debug("Failed to persist progress")
		}
		o.broadcast(jobID, string(domain.JobStatusRunning), step, percent, "")
	}
}

func (o *Orchestrator) broadcast(jobID, status, step string, percent int, artifactName string) {
	if o.broadcaster != nil {
		o.broadcaster.BroadcastProgress(jobID, status, step, percent, artifactName)
	}
}

func (o *Orchestrator) record(kind, status string, duration time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordJob(kind, status, duration)
	}
}
