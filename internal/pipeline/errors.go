package pipeline

import (
	"errors"
	"fmt"
)

// Category 流水线错误分类
// 配置/输入/传输错误在做任何实际工作前就被拦下；
// 必需阶段失败中止流水线；可选阶段失败只进日志
type Category string

const (
	CategoryConfig   Category = "config"    // 必需外部工具缺失
	CategoryInput    Category = "input"     // 用户输入缺失或非法
	CategoryTransp   Category = "transport" // URL 下载失败
	CategoryRequired Category = "stage"     // 必需阶段 (decode/build/sign) 失败
)

// Error 带分类和阶段名的流水线错误
type Error struct {
	Category Category
	Stage    string
	Err      error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newConfigError(err error) error {
	return &Error{Category: CategoryConfig, Stage: "tool check", Err: err}
}

func newInputError(format string, args ...interface{}) error {
	return &Error{Category: CategoryInput, Err: fmt.Errorf(format, args...)}
}

func newTransportError(err error) error {
	return &Error{Category: CategoryTransp, Stage: "download", Err: err}
}

func newStageError(stage string, err error) error {
	return &Error{Category: CategoryRequired, Stage: stage, Err: err}
}

// CategoryOf 提取错误分类，非流水线错误归为必需阶段失败
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryRequired
}
