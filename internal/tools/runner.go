package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Result 外部命令执行结果
// stdout / stderr 分开捕获，失败时原样透给调用方
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error // 进程无法启动等非退出码类错误
}

// Ok 命令是否成功 (启动成功且退出码为 0)
func (r *Result) Ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Combined 合并输出，用于诊断信息展示
func (r *Result) Combined() string {
	parts := make([]string, 0, 3)
	if r.Stdout != "" {
		parts = append(parts, r.Stdout)
	}
	if r.Stderr != "" {
		parts = append(parts, r.Stderr)
	}
	if r.Err != nil {
		parts = append(parts, r.Err.Error())
	}
	return strings.Join(parts, "\n")
}

// Runner 外部命令执行接口
// 编排逻辑与操作系统之间唯一的接缝，测试中只 mock 这一个依赖
type Runner interface {
	// Run 在 dir 目录下同步执行命令，等待进程退出
	// dir 为空时使用当前工作目录
	Run(ctx context.Context, dir string, name string, args ...string) *Result
}

type execRunner struct{}

// NewRunner 创建基于 os/exec 的命令执行器
func NewRunner() Runner {
	return &execRunner{}
}

func (e *execRunner) Run(ctx context.Context, dir string, name string, args ...string) *Result {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := &Result{}
	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// 进程没跑起来（找不到可执行文件等）
			res.ExitCode = -1
			res.Err = err
		}
	}

	return res
}
