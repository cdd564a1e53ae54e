package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// APKHandler 新 APK 落地后的处理函数
type APKHandler func(ctx context.Context, apkPath string) error

// InboundWatcher 入站目录监控器
// 往 inbound 目录投放 *.apk 即自动创建反编译任务
type InboundWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	handler  APKHandler
	logger   *logrus.Logger
	debounce time.Duration

	mu         sync.Mutex
	processing map[string]bool

	stopChan chan struct{}
}

// NewInboundWatcher 创建入站目录监控器
func NewInboundWatcher(dir string, handler APKHandler, logger *logrus.Logger) (*InboundWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	w := &InboundWatcher{
		watcher:    fw,
		dir:        dir,
		handler:    handler,
		logger:     logger,
		debounce:   2 * time.Second, // 大文件复制会触发多次写事件
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}

	logger.WithField("watch_dir", dir).Info("Inbound watcher created")
	return w, nil
}

// Start 启动监控
// 启动时不扫描已存在的文件，避免服务重启后重复建任务
func (w *InboundWatcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("Inbound watcher started")
}

func (w *InboundWatcher) eventLoop(ctx context.Context) {
	debounceTimer := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("Watcher events channel closed")
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".apk") {
				continue
			}

			w.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  filepath.Base(event.Name),
			}).Debug("File event detected")

			// 防抖：同一文件短时间内多次触发只处理一次
			if timer, exists := debounceTimer[event.Name]; exists {
				timer.Stop()
			}
			name := event.Name
			debounceTimer[name] = time.AfterFunc(w.debounce, func() {
				w.handleFile(ctx, name)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *InboundWatcher) handleFile(ctx context.Context, path string) {
	w.mu.Lock()
	if w.processing[path] {
		w.mu.Unlock()
		return
	}
	w.processing[path] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.processing, path)
		w.mu.Unlock()
	}()

	if err := w.waitForFileReady(path); err != nil {
		w.logger.WithError(err).WithField("file", path).Error("File not ready")
		return
	}

	w.logger.WithField("file", path).Info("New APK detected")

	if err := w.handler(ctx, path); err != nil {
		w.logger.WithError(err).WithField("file", path).Error("Failed to handle inbound APK")
	}
}

// waitForFileReady 轮询文件大小直到稳定，确认写入完成
func (w *InboundWatcher) waitForFileReady(path string) error {
	const maxAttempts = 10

	for i := 0; i < maxAttempts; i++ {
		info1, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		time.Sleep(500 * time.Millisecond)

		info2, err := os.Stat(path)
		if err != nil {
			return err
		}

		if info1.Size() == info2.Size() && info1.Size() > 0 {
			return nil
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// Stop 停止监控
func (w *InboundWatcher) Stop() error {
	close(w.stopChan)
	return w.watcher.Close()
}
