package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// JobHandler 任务消息处理函数
type JobHandler func(ctx context.Context, msg *JobMessage) error

// Consumer 消息消费者
// 并发度与 worker 数量一致，手动确认：处理成功 ack，
// 失败 nack 且不重新入队（流水线不做自动重试，由用户重新触发）
type Consumer struct {
	mq       *RabbitMQ
	handler  JobHandler
	workers  int
	logger   *logrus.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, handler JobHandler, workers int, logger *logrus.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		mq:       mq,
		handler:  handler,
		workers:  workers,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start 启动消费
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.mq.Consume()
	if err != nil {
		return err
	}

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func(id int) {
			defer c.wg.Done()
			c.logger.WithField("consumer_id", id).Info("Consumer started")

			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stopChan:
					return
				case delivery, ok := <-msgs:
					if !ok {
						c.logger.WithField("consumer_id", id).Warn("Delivery channel closed")
						return
					}

					var msg JobMessage
					if err := json.Unmarshal(delivery.Body, &msg); err != nil {
						c.logger.WithError(err).Error("Failed to unmarshal job message, discarding")
						delivery.Nack(false, false)
						continue
					}

					c.logger.WithFields(logrus.Fields{
						"consumer_id": id,
						"job_id":      msg.JobID,
					}).Info("Received job from queue")

					if err := c.handler(ctx, &msg); err != nil {
						c.logger.WithError(err).WithField("job_id", msg.JobID).Error("Job handler failed")
						delivery.Nack(false, false)
						continue
					}

					delivery.Ack(false)
				}
			}
		}(i)
	}

	return nil
}

// Stop 停止消费
func (c *Consumer) Stop() {
	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Consumer stopped")
}
