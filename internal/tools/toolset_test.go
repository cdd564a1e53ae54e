package tools

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturwyroslak/apklab/internal/config"
)

// recordedCall 一次 Runner 调用的参数快照
type recordedCall struct {
	Dir  string
	Name string
	Args []string
}

// fakeRunner 记录调用参数的假 Runner，不触碰任何外部进程
type fakeRunner struct {
	calls   []recordedCall
	results map[string]*Result // 按命令名返回预设结果，缺省成功
}

func (f *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) *Result {
	f.calls = append(f.calls, recordedCall{Dir: dir, Name: name, Args: args})
	if f.results != nil {
		if res, ok := f.results[name]; ok {
			return res
		}
	}
	return &Result{ExitCode: 0, Stdout: "ok"}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// setupToolset 创建工具全部就位的测试工具集
func setupToolset(t *testing.T, runner Runner) (*Toolset, *config.ToolsConfig) {
	dir := t.TempDir()

	cfg := &config.ToolsConfig{
		JavaPath:    "java",
		ApktoolPath: filepath.Join(dir, "apktool.jar"),
		SignerPath:  filepath.Join(dir, "uber-apk-signer.jar"),
		JadxPath:    filepath.Join(dir, "jadx"),
		QuarkPath:   "quark",
	}
	for _, p := range []string{cfg.ApktoolPath, cfg.SignerPath, cfg.JadxPath} {
		require.NoError(t, os.WriteFile(p, []byte("stub"), 0755))
	}

	return NewToolset(cfg, runner, testLogger()), cfg
}

// TestCheckAll_Success 所有工具就位时通过并返回诊断日志
func TestCheckAll_Success(t *testing.T) {
	runner := &fakeRunner{}
	ts, _ := setupToolset(t, runner)

	report, err := ts.CheckAll(context.Background())
	require.NoError(t, err)

	assert.Contains(t, report, "Java Version:")
	assert.Contains(t, report, "apktool.jar found.")
	assert.Contains(t, report, "uber-apk-signer.jar found.")
	assert.Contains(t, report, "JADX found.")

	// java --version 是唯一的进程调用
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "java", runner.calls[0].Name)
	assert.Equal(t, []string{"--version"}, runner.calls[0].Args)
}

// TestCheckAll_JavaMissing java 不可用时立即失败
func TestCheckAll_JavaMissing(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*Result{
			"java": {ExitCode: 127, Stderr: "command not found"},
		},
	}
	ts, _ := setupToolset(t, runner)

	_, err := ts.CheckAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Java (JDK) not found")
}

// TestCheckAll_ApktoolMissing apktool.jar 缺失时报出具体路径
func TestCheckAll_ApktoolMissing(t *testing.T) {
	runner := &fakeRunner{}
	ts, cfg := setupToolset(t, runner)
	require.NoError(t, os.Remove(cfg.ApktoolPath))

	_, err := ts.CheckAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apktool.jar not found at "+cfg.ApktoolPath)
}

// TestDecode_CommandLine 验证 apktool decode 的完整命令行
func TestDecode_CommandLine(t *testing.T) {
	runner := &fakeRunner{}
	ts, cfg := setupToolset(t, runner)

	res := ts.Decode(context.Background(), "/tmp/sample.apk", "/tmp/out", []string{OptNoSrc, OptNoRes})
	require.True(t, res.Ok())

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "java", call.Name)
	assert.Equal(t, []string{
		"-jar", cfg.ApktoolPath,
		"d", "/tmp/sample.apk", "-o", "/tmp/out", "-f",
		"-s", "-r",
	}, call.Args)
}

// TestBuild_CommandLine 验证 apktool build 的完整命令行
func TestBuild_CommandLine(t *testing.T) {
	runner := &fakeRunner{}
	ts, cfg := setupToolset(t, runner)

	ts.Build(context.Background(), "/tmp/project", "/tmp/out.apk", []string{OptUseAapt2})

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"-jar", cfg.ApktoolPath,
		"b", "/tmp/project", "-o", "/tmp/out.apk",
		"--use-aapt2",
	}, runner.calls[0].Args)
}

// TestDecompileJava_CommandLine JADX 在项目目录下执行，源码输出到 java_sources
func TestDecompileJava_CommandLine(t *testing.T) {
	runner := &fakeRunner{}
	ts, cfg := setupToolset(t, runner)

	ts.DecompileJava(context.Background(), "/tmp/sample.apk", "/tmp/project", []string{OptDeobf})

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "/tmp/project", call.Dir)
	assert.Equal(t, cfg.JadxPath, call.Name)
	assert.Equal(t, []string{
		"-r", "-q", "-ds", filepath.Join("/tmp/project", "java_sources"),
		"--deobf",
		"/tmp/sample.apk",
	}, call.Args)
}

// TestAnalyze_CommandLine quark 报告固定写入项目目录
func TestAnalyze_CommandLine(t *testing.T) {
	runner := &fakeRunner{}
	ts, _ := setupToolset(t, runner)

	ts.Analyze(context.Background(), "/tmp/sample.apk", "/tmp/project")

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "quark", call.Name)
	assert.Equal(t, []string{
		"analyze", "-a", "/tmp/sample.apk",
		"-o", filepath.Join("/tmp/project", "quark-report.json"),
	}, call.Args)
}

// TestSign_CommandLine 凭据只出现在本次调用的参数中
func TestSign_CommandLine(t *testing.T) {
	runner := &fakeRunner{}
	ts, cfg := setupToolset(t, runner)

	ts.Sign(context.Background(), "/tmp/unsigned.apk", "/tmp/release.jks", "storepass", "alias", "keypass")

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"-jar", cfg.SignerPath,
		"--apks", "/tmp/unsigned.apk",
		"--ks", "/tmp/release.jks",
		"--ksPass", "storepass",
		"--ksAlias", "alias",
		"--keyPass", "keypass",
	}, runner.calls[0].Args)
}

// TestSignedName 签名器的固定命名约定
func TestSignedName(t *testing.T) {
	assert.Equal(t, "rebuilt-unsigned-aligned-signed.apk", SignedName("/tmp/out/rebuilt-unsigned.apk"))
	assert.Equal(t, "app-aligned-signed.apk", SignedName("app.apk"))
}

// TestInstrumentedRunner 装饰器上报工具标识与结果
func TestInstrumentedRunner(t *testing.T) {
	inner := &fakeRunner{
		results: map[string]*Result{
			"quark": {ExitCode: 1, Stderr: "boom"},
		},
	}

	type observed struct {
		tool string
		ok   bool
	}
	var seen []observed
	runner := NewInstrumentedRunner(inner, func(tool string, ok bool) {
		seen = append(seen, observed{tool, ok})
	})

	runner.Run(context.Background(), "", "java", "-jar", "/tools/apktool.jar", "d", "x.apk")
	runner.Run(context.Background(), "", "java", "-jar", "/tools/uber-apk-signer.jar", "--apks", "x.apk")
	runner.Run(context.Background(), "", "/tools/jadx/bin/jadx", "-r", "x.apk")
	runner.Run(context.Background(), "", "quark", "analyze")

	assert.Equal(t, []observed{
		{"apktool", true},
		{"uber-apk-signer", true},
		{"jadx", true},
		{"quark", false},
	}, seen)
}
