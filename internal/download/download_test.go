package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestFetch 正常下载，进度按 downloaded/total 推进
func TestFetch(t *testing.T) {
	payload := make([]byte, 20000) // 跨多个分块
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	var fractions []float64
	fetcher := NewFetcher(10*time.Second, testLogger())

	destDir := t.TempDir()
	path, err := fetcher.Fetch(context.Background(), server.URL+"/files/sample.apk", destDir, func(fraction float64, desc string) {
		fractions = append(fractions, fraction)
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "sample.apk"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NotEmpty(t, fractions)
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 0.001)
	for i := 1; i < len(fractions); i++ {
		assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
	}
}

// TestFetch_NoContentLength total 未知时进度退化为 0，不算错误
func TestFetch_NoContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("chunk-1"))
		flusher.Flush() // 强制 chunked 传输，不带 Content-Length
		w.Write([]byte("chunk-2"))
	}))
	defer server.Close()

	var fractions []float64
	fetcher := NewFetcher(10*time.Second, testLogger())

	path, err := fetcher.Fetch(context.Background(), server.URL+"/app.apk", t.TempDir(), func(fraction float64, desc string) {
		fractions = append(fractions, fraction)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "chunk-1chunk-2", string(data))

	for _, f := range fractions {
		assert.Equal(t, 0.0, f)
	}
}

// TestFetch_HTTPError 非 2xx 状态是致命传输错误
func TestFetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := NewFetcher(10*time.Second, testLogger())

	_, err := fetcher.Fetch(context.Background(), server.URL+"/missing.apk", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

// TestFetch_ConnectionRefused 连接失败是致命传输错误
func TestFetch_ConnectionRefused(t *testing.T) {
	fetcher := NewFetcher(2*time.Second, testLogger())

	_, err := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/app.apk", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download APK")
}

// TestFileName URL 末段推导本地文件名
func TestFileName(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/files/app.apk", "app.apk"},
		{"https://example.com/files/App-1.2.3.APK", "App-1.2.3.APK"},
		{"https://example.com/download?id=42", DefaultName}, // 末段不是 .apk
		{"https://example.com/", DefaultName},
		{"https://example.com/files/archive.zip", DefaultName},
	}

	for _, tc := range cases {
		got, err := FileName(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.want, got, tc.url)
	}
}
