package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/arturwyroslak/apklab/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Task 待执行的流水线任务
// 请求体（含重打包的密钥库凭据）只存在于内存中，随任务在池内流转，
// 不落库也不进消息队列
type Task struct {
	JobID     string
	Decompile *pipeline.DecompileRequest
	Rebuild   *pipeline.RebuildRequest
	resultCh  chan error // 用于同步等待任务完成
}

// Pool Worker 池
type Pool struct {
	workers      int
	taskChan     chan *Task
	orchestrator *Orchestrator
	logger       *logrus.Logger
	wg           sync.WaitGroup
}

// NewPool 创建 Worker 池
func NewPool(workers int, queueSize int, orchestrator *Orchestrator, logger *logrus.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:      workers,
		taskChan:     make(chan *Task, queueSize),
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Info("Task channel closed, worker exiting")
				return
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"job_id":    task.JobID,
			}).Info("Processing job")

			err := p.orchestrator.Execute(ctx, task)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"job_id":    task.JobID,
				}).Error("Job execution failed")
			} else {
				p.logger.WithFields(logrus.Fields{
					"worker_id": id,
					"job_id":    task.JobID,
				}).Info("Job completed successfully")
			}

			if task.resultCh != nil {
				task.resultCh <- err
				close(task.resultCh)
			}
		}
	}
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		p.logger.WithField("job_id", task.JobID).Debug("Task submitted to pool")
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SubmitAndWait 提交任务并等待完成（消息队列消费端使用）
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	select {
	case p.taskChan <- task:
		p.logger.WithField("job_id", task.JobID).Debug("Task submitted to pool (sync)")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止 Worker 池
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool")
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// GetQueueSize 获取队列中任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}

// GetWorkerCount 获取 Worker 数量
func (p *Pool) GetWorkerCount() int {
	return p.workers
}
