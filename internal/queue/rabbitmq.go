package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arturwyroslak/apklab/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitMQ RabbitMQ 客户端
// 可选的分布式任务通道：只承载文件监控产生的反编译任务，
// 消息里永远不含密钥库凭据
type RabbitMQ struct {
	cfg           *config.RabbitMQConfig
	conn          *amqp.Connection
	channel       *amqp.Channel
	logger        *logrus.Logger
	queueName     string
	prefetchCount int // 预取数量，与 worker 数量匹配以并行消费

	mu         sync.RWMutex
	closed     bool
	connNotify chan *amqp.Error
}

// NewRabbitMQ 创建 RabbitMQ 客户端并建立连接
// prefetchCount 应与 worker 数量匹配
func NewRabbitMQ(cfg *config.RabbitMQConfig, prefetchCount int, logger *logrus.Logger) (*RabbitMQ, error) {
	if prefetchCount <= 0 {
		prefetchCount = 1
	}

	mq := &RabbitMQ{
		cfg:           cfg,
		logger:        logger,
		queueName:     cfg.Queue,
		prefetchCount: prefetchCount,
	}

	if err := mq.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	return mq, nil
}

// connect 建立连接、声明队列、设置 QoS
func (mq *RabbitMQ) connect() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		mq.cfg.User, mq.cfg.Password, mq.cfg.Host, mq.cfg.Port, mq.cfg.VHost)

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	mq.conn = conn

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	mq.channel = ch

	if err := ch.Qos(mq.prefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// 持久化队列
	_, err = ch.QueueDeclare(mq.queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	mq.connNotify = make(chan *amqp.Error, 1)
	mq.conn.NotifyClose(mq.connNotify)

	mq.logger.WithFields(logrus.Fields{
		"host":           mq.cfg.Host,
		"port":           mq.cfg.Port,
		"queue":          mq.queueName,
		"prefetch_count": mq.prefetchCount,
	}).Info("Connected to RabbitMQ")

	return nil
}

// StartConnectionWatcher 监听连接断开并自动重连，直到主动 Close
func (mq *RabbitMQ) StartConnectionWatcher() {
	go func() {
		for {
			mq.mu.RLock()
			closed := mq.closed
			notify := mq.connNotify
			mq.mu.RUnlock()

			if closed {
				return
			}

			amqpErr, ok := <-notify
			mq.mu.RLock()
			closed = mq.closed
			mq.mu.RUnlock()
			if closed {
				return
			}

			if ok && amqpErr != nil {
				mq.logger.WithError(amqpErr).Error("RabbitMQ connection closed unexpectedly")
			}

			// 线性退避重连
			for attempt := 1; attempt <= 10; attempt++ {
				mq.logger.Infof("Attempting to reconnect to RabbitMQ (attempt %d/10)", attempt)
				if err := mq.connect(); err != nil {
					mq.logger.WithError(err).Error("Failed to reconnect")
					time.Sleep(time.Duration(attempt) * time.Second)
					continue
				}
				mq.logger.Info("Successfully reconnected to RabbitMQ")
				break
			}
		}
	}()
}

// Publish 发布持久化消息
func (mq *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	return ch.PublishWithContext(
		ctx,
		"",           // exchange
		mq.queueName, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Consume 消费消息（手动确认）
func (mq *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()

	if ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}

	msgs, err := ch.Consume(mq.queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	return msgs, nil
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 关闭连接
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	conn := mq.conn
	ch := mq.channel
	mq.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			mq.logger.WithError(err).Error("Failed to close channel")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			mq.logger.WithError(err).Error("Failed to close connection")
		}
	}

	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
