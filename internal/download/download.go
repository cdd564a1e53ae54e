package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultName URL 末段不是 .apk 时使用的兜底文件名
const DefaultName = "downloaded.apk"

// chunkSize 流式写盘的分块大小
const chunkSize = 8192

// ProgressFunc 下载进度回调 (fraction 取值 0~1，total 未知时恒为 0)
// 纯观察用途，不影响控制流
type ProgressFunc func(fraction float64, desc string)

// Fetcher URL 拉取 APK
type Fetcher struct {
	client *http.Client
	logger *logrus.Logger
}

// NewFetcher 创建下载器，timeout 为整体超时
func NewFetcher(timeout time.Duration, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch 流式下载 APK 到 destDir，返回本地文件路径
// 有 Content-Length 时按 downloaded/total 报告进度；没有时进度为退化值 (0)，
// 这不是错误。任何传输层失败都是致命的，此时尚未创建任何项目目录
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destDir string, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}

	name, err := FileName(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download APK from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to download APK from URL: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	destPath := filepath.Join(destDir, name)
	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}
	defer out.Close()

	totalSize := resp.ContentLength // 服务端可能不给，-1
	var downloaded int64
	buf := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return "", fmt.Errorf("failed to write local file: %w", writeErr)
			}
			downloaded += int64(n)

			fraction := 0.0
			if totalSize > 0 {
				fraction = float64(downloaded) / float64(totalSize)
			}
			progress(fraction, fmt.Sprintf("Downloading: %d/%d bytes", downloaded, totalSize))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to download APK from URL: %w", readErr)
		}
	}

	f.logger.WithFields(logrus.Fields{
		"url":   rawURL,
		"path":  destPath,
		"bytes": downloaded,
	}).Info("APK downloaded")

	return destPath, nil
}

// FileName 从 URL 推导本地文件名：取路径末段，
// 不以 .apk 结尾时替换为固定默认名
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || !strings.HasSuffix(strings.ToLower(name), ".apk") {
		return DefaultName, nil
	}
	return name, nil
}
