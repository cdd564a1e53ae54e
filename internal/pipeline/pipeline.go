package pipeline

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ProgressFunc 进度回调 (fraction 0~1 + 阶段描述)
// 注入式观察者，不参与控制流；无界面调用方传 nil 即可
type ProgressFunc func(fraction float64, step string)

// nopProgress 空进度回调
func nopProgress(float64, string) {}

// runLog 运行日志累加器
// 每个阶段的工具输出原样记录，成功失败都完整返回给调用方
type runLog struct {
	b strings.Builder
}

func (l *runLog) Append(line string) {
	l.b.WriteString(line)
	l.b.WriteString("\n")
}

func (l *runLog) Appendf(format string, args ...interface{}) {
	l.Append(fmt.Sprintf(format, args...))
}

func (l *runLog) Section(title string) {
	l.Appendf("\n--- %s ---", title)
}

func (l *runLog) ToolOutput(tool, stdout, stderr string) {
	l.Appendf("%s STDOUT:\n%s", tool, stdout)
	l.Appendf("%s STDERR:\n%s", tool, stderr)
}

func (l *runLog) String() string {
	return l.b.String()
}

// uniqueSuffix 工作目录随机后缀 (uuid 前 4 字节的 8 位十六进制)
// 保证并发运行的流水线互不共享可变文件系统状态
func uniqueSuffix() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}

// stem 去掉扩展名的文件名主干
func stem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
