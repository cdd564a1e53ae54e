package tools

import (
	"context"
	"path/filepath"
	"strings"
)

// InvocationObserver 工具调用观察者 (tool 为工具标识, ok 为是否成功)
type InvocationObserver func(tool string, ok bool)

// instrumentedRunner 带指标上报的 Runner 装饰器
type instrumentedRunner struct {
	inner    Runner
	observer InvocationObserver
}

// NewInstrumentedRunner 包装 Runner，把每次外部工具调用上报给观察者
func NewInstrumentedRunner(inner Runner, observer InvocationObserver) Runner {
	return &instrumentedRunner{
		inner:    inner,
		observer: observer,
	}
}

func (r *instrumentedRunner) Run(ctx context.Context, dir string, name string, args ...string) *Result {
	res := r.inner.Run(ctx, dir, name, args...)
	if r.observer != nil {
		r.observer(toolLabel(name, args), res.Ok())
	}
	return res
}

// toolLabel 从命令行推断工具标识
// java -jar xxx.jar … 的情况用 jar 名区分 apktool 和签名器
func toolLabel(name string, args []string) string {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "java") {
		return strings.TrimSuffix(base, filepath.Ext(base))
	}

	for i, a := range args {
		if a == "-jar" && i+1 < len(args) {
			jar := filepath.Base(args[i+1])
			return strings.TrimSuffix(jar, filepath.Ext(jar))
		}
	}
	return "java"
}
