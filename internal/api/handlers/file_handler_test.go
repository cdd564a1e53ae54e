package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupFileRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	downloadsDir := t.TempDir()
	h := NewFileHandler(downloadsDir, testLogger())

	r := gin.New()
	r.UseRawPath = true
	r.GET("/api/download/:filename", h.Download)
	return r, downloadsDir
}

// TestDownload 正常下载产物
func TestDownload(t *testing.T) {
	r, downloadsDir := setupFileRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(downloadsDir, "sample-decompiled.zip"), []byte("zip-bytes"), 0644))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/download/sample-decompiled.zip", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "zip-bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "sample-decompiled.zip")
}

// TestDownload_NotFound 文件不存在返回 404
func TestDownload_NotFound(t *testing.T) {
	r, _ := setupFileRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/download/missing.zip", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestDownload_RejectsTraversal 路径穿越被拒绝，下载目录之外不可达
func TestDownload_RejectsTraversal(t *testing.T) {
	r, downloadsDir := setupFileRouter(t)

	// 下载目录旁放一个"秘密"文件
	secret := filepath.Join(filepath.Dir(downloadsDir), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0644))

	for _, name := range []string{
		url.PathEscape("../secret.txt"),
		url.PathEscape("..\\secret.txt"),
		"..",
		".hidden",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/download/"+name, nil)
		r.ServeHTTP(w, req)

		assert.NotEqual(t, http.StatusOK, w.Code, name)
		assert.NotContains(t, w.Body.String(), "secret", name)
	}
}
