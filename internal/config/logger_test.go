package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// TestInitLogger_LevelFallback 非法级别回退到 info，默认文本格式
func TestInitLogger_LevelFallback(t *testing.T) {
	logger := InitLogger(&LogConfig{Level: "verbose", Format: "text"})

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

// TestInitLogger_JSONFormat json 格式与显式级别
func TestInitLogger_JSONFormat(t *testing.T) {
	logger := InitLogger(&LogConfig{Level: "debug", Format: "json"})

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
	assert.True(t, logger.ReportCaller)
}
