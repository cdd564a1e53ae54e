package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// JobMessage 任务消息
// 只携带任务标识和 APK 位置，凭据类输入绝不进队列
type JobMessage struct {
	JobID   string   `json:"job_id"`
	APKName string   `json:"apk_name"`
	APKPath string   `json:"apk_path"`
	Options []string `json:"options,omitempty"`
}

// Producer 消息生产者
type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// PublishJob 发布任务消息
func (p *Producer) PublishJob(ctx context.Context, msg *JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.mq.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("job_id", msg.JobID).Error("Failed to publish job")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":   msg.JobID,
		"apk_name": msg.APKName,
	}).Info("Job published to queue")

	return nil
}
