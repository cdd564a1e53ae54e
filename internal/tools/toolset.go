package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/sirupsen/logrus"
)

// Toolset 外部工具集
// 负责工具存在性校验和命令行构造，真正的执行通过 Runner 完成
type Toolset struct {
	cfg    *config.ToolsConfig
	runner Runner
	logger *logrus.Logger
}

// NewToolset 创建工具集实例
func NewToolset(cfg *config.ToolsConfig, runner Runner, logger *logrus.Logger) *Toolset {
	return &Toolset{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// CheckAll 校验所有必需工具是否就位
// 任何一项缺失都视为配置错误，流水线在做任何实际工作前中止
// 返回的 log 包含每项工具的诊断信息
func (t *Toolset) CheckAll(ctx context.Context) (string, error) {
	var logs []string

	// 1. JVM: 跑一次版本查询，非零退出一律按"未找到"处理
	res := t.runner.Run(ctx, "", t.cfg.JavaPath, "--version")
	if !res.Ok() {
		return "", fmt.Errorf("Java (JDK) not found: %s", res.Combined())
	}
	logs = append(logs, fmt.Sprintf("Java Version:\n%s", res.Combined()))

	// 2. apktool.jar
	if _, err := os.Stat(t.cfg.ApktoolPath); err != nil {
		return "", fmt.Errorf("apktool.jar not found at %s", t.cfg.ApktoolPath)
	}
	logs = append(logs, "apktool.jar found.")

	// 3. uber-apk-signer.jar
	if _, err := os.Stat(t.cfg.SignerPath); err != nil {
		return "", fmt.Errorf("uber-apk-signer.jar not found at %s", t.cfg.SignerPath)
	}
	logs = append(logs, "uber-apk-signer.jar found.")

	// 4. JADX
	if _, err := os.Stat(t.cfg.JadxPath); err != nil {
		return "", fmt.Errorf("JADX not found at %s", t.cfg.JadxPath)
	}
	logs = append(logs, "JADX found.")

	return strings.Join(logs, "\n"), nil
}

// Decode 调用 apktool 把 APK 解包为项目目录
// apktool d <apk> -o <outDir> -f <opts...>
func (t *Toolset) Decode(ctx context.Context, apkPath, outDir string, options []string) *Result {
	args := []string{"-jar", t.cfg.ApktoolPath, "d", apkPath, "-o", outDir, "-f"}
	args = append(args, DecodeArgs(options)...)

	t.logger.WithFields(logrus.Fields{
		"apk":     apkPath,
		"out_dir": outDir,
		"args":    strings.Join(DecodeArgs(options), " "),
	}).Info("Running apktool decode")

	return t.runner.Run(ctx, "", t.cfg.JavaPath, args...)
}

// Build 调用 apktool 把项目目录重打包为未签名 APK
// apktool b <projectDir> -o <outApk> <opts...>
func (t *Toolset) Build(ctx context.Context, projectDir, outApk string, options []string) *Result {
	args := []string{"-jar", t.cfg.ApktoolPath, "b", projectDir, "-o", outApk}
	args = append(args, BuildArgs(options)...)

	t.logger.WithFields(logrus.Fields{
		"project": projectDir,
		"out_apk": outApk,
	}).Info("Running apktool build")

	return t.runner.Run(ctx, "", t.cfg.JavaPath, args...)
}

// DecompileJava 调用 JADX 反编译 Java 源码到项目目录下的 java_sources
// 以项目目录作为工作目录执行
func (t *Toolset) DecompileJava(ctx context.Context, apkPath, projectDir string, options []string) *Result {
	javaSrcDir := filepath.Join(projectDir, "java_sources")
	args := []string{"-r", "-q", "-ds", javaSrcDir}
	args = append(args, JadxArgs(options)...)
	args = append(args, apkPath)

	t.logger.WithFields(logrus.Fields{
		"apk":     apkPath,
		"src_dir": javaSrcDir,
	}).Info("Running JADX decompilation")

	return t.runner.Run(ctx, projectDir, t.cfg.JadxPath, args...)
}

// Analyze 调用 quark-engine 做静态分析，报告写入项目目录
// quark analyze -a <apk> -o <report>，失败永远是非致命的
func (t *Toolset) Analyze(ctx context.Context, apkPath, projectDir string) *Result {
	reportPath := filepath.Join(projectDir, "quark-report.json")

	t.logger.WithFields(logrus.Fields{
		"apk":    apkPath,
		"report": reportPath,
	}).Info("Running quark-engine analysis")

	return t.runner.Run(ctx, "", t.cfg.QuarkPath, "analyze", "-a", apkPath, "-o", reportPath)
}

// Sign 调用 uber-apk-signer 对 APK 对齐并签名
// 凭据只在本次调用的参数里出现，不落盘、不入库
func (t *Toolset) Sign(ctx context.Context, apkPath, keystorePath, ksPass, ksAlias, keyPass string) *Result {
	t.logger.WithField("apk", apkPath).Info("Running uber-apk-signer")

	return t.runner.Run(ctx, "", t.cfg.JavaPath,
		"-jar", t.cfg.SignerPath,
		"--apks", apkPath,
		"--ks", keystorePath,
		"--ksPass", ksPass,
		"--ksAlias", ksAlias,
		"--keyPass", keyPass,
	)
}

// SignedName uber-apk-signer 的固定命名约定：在原文件名后追加 -aligned-signed
func SignedName(unsignedApk string) string {
	base := filepath.Base(unsignedApk)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "-aligned-signed.apk"
}
