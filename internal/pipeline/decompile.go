package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arturwyroslak/apklab/internal/archive"
	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/download"
	"github.com/arturwyroslak/apklab/internal/patch"
	"github.com/arturwyroslak/apklab/internal/tools"
	"github.com/sirupsen/logrus"
)

// DecompileRequest 反编译请求
// APKPath 与 APKURL 二选一，两者都缺是输入错误
type DecompileRequest struct {
	APKPath string   // 已落盘的本地 APK (上传场景)
	APKURL  string   // 远程 APK 地址 (URL 场景)
	Options []string // 选项令牌集合，未知令牌被忽略
}

// DecompileResult 反编译结果
// Log 无论成败都完整返回；失败时 ArchivePath 为空
type DecompileResult struct {
	ArchivePath string
	ArchiveName string
	Log         string
}

// Decompiler 解包流水线
// 状态严格串行: ToolsChecked → AcquireInput → Decode(必需) →
// [Patch] → [Analyze] → [DecompileSources] → Package → Cleanup
type Decompiler struct {
	storage *config.StorageConfig
	tools   *tools.Toolset
	fetcher *download.Fetcher
	logger  *logrus.Logger
}

// NewDecompiler 创建解包流水线
func NewDecompiler(storage *config.StorageConfig, ts *tools.Toolset, fetcher *download.Fetcher, logger *logrus.Logger) *Decompiler {
	return &Decompiler{
		storage: storage,
		tools:   ts,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Run 执行解包流水线
// Decode 失败是致命的：立即中止，工具输出原样进日志，工作目录保留以便事后排查。
// Patch / Analyze / DecompileSources 失败是非致命的：记日志后继续打包，
// 用户总能拿到已产出的内容
func (d *Decompiler) Run(ctx context.Context, req *DecompileRequest, progress ProgressFunc) (*DecompileResult, error) {
	if progress == nil {
		progress = nopProgress
	}

	log := &runLog{}
	result := &DecompileResult{}

	// 1. 工具校验，缺任何一项都在实际工作开始前失败
	toolLogs, err := d.tools.CheckAll(ctx)
	log.Append("--- Tool Check ---")
	if err != nil {
		log.Append(err.Error())
		result.Log = log.String()
		return result, newConfigError(err)
	}
	log.Append(toolLogs)

	// 2. 获取输入 APK
	if req.APKPath == "" && req.APKURL == "" {
		result.Log = log.String()
		return result, newInputError("please upload an APK file or provide a URL")
	}

	apkPath := req.APKPath
	if apkPath == "" {
		log.Appendf("Downloading APK from URL: %s", req.APKURL)
		progress(0, "Downloading APK...")

		apkPath, err = d.fetcher.Fetch(ctx, req.APKURL, d.storage.TempDir, download.ProgressFunc(progress))
		if err != nil {
			log.Appendf("Download failed: %v", err)
			result.Log = log.String()
			return result, newTransportError(err)
		}
		log.Appendf("APK downloaded to: %s", apkPath)
	} else {
		log.Appendf("Processing uploaded file: %s", apkPath)
	}

	// 3. 创建唯一命名的工作目录
	projectName := stem(filepath.Base(apkPath))
	projectDir := filepath.Join(d.storage.TempDir, fmt.Sprintf("%s-decompiled-%s", projectName, uniqueSuffix()))
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		result.Log = log.String()
		return result, newStageError("decode", fmt.Errorf("failed to create project directory: %w", err))
	}
	log.Appendf("Created project directory: %s", projectDir)

	// 4. apktool 解包（必需阶段）
	progress(0.2, "Decompiling with Apktool...")
	log.Section("Apktool Decompilation")

	res := d.tools.Decode(ctx, apkPath, projectDir, req.Options)
	log.ToolOutput("Apktool", res.Stdout, res.Stderr)
	if !res.Ok() {
		// 致命失败：不打包、不清理，目录留作事后检查
		result.Log = log.String()
		return result, newStageError("decode", fmt.Errorf("apktool exited with code %d", res.ExitCode))
	}

	// 5. 可选: MITM 网络信任补丁
	if tools.HasOption(req.Options, tools.OptMitmPatch) {
		progress(0.5, "Applying MITM patch...")
		log.Section("MITM Patch")

		msg, err := patch.ApplyMITM(projectDir, d.logger)
		if err != nil {
			log.Appendf("MITM patch failed: %v", err) // 非致命
		} else {
			log.Append(msg)
		}
	}

	// 6. 可选: quark-engine 静态分析
	if tools.HasOption(req.Options, tools.OptQuarkAnalysis) {
		progress(0.6, "Analyzing with Quark-Engine...")
		log.Section("Quark Engine Analysis")

		res := d.tools.Analyze(ctx, apkPath, projectDir)
		log.ToolOutput("Quark", res.Stdout, res.Stderr)
		if !res.Ok() {
			log.Append("Quark analysis failed.") // 非致命
		}
	}

	// 7. 可选: JADX 反编译 Java 源码
	if tools.HasOption(req.Options, tools.OptDecompileJava) {
		progress(0.8, "Decompiling Java with JADX...")
		log.Section("JADX Decompilation")

		res := d.tools.DecompileJava(ctx, apkPath, projectDir, req.Options)
		log.ToolOutput("JADX", res.Stdout, res.Stderr)
		if !res.Ok() {
			log.Append("JADX decompilation failed.") // 非致命
		}
	}

	// 8. 打包。可选阶段即使部分失败也序列化当前目录状态
	progress(0.95, "Creating ZIP archive...")

	zipName := projectName + "-decompiled.zip"
	zipPath := filepath.Join(d.storage.DownloadsDir, zipName)
	if err := archive.ZipDir(projectDir, zipPath); err != nil {
		result.Log = log.String()
		return result, newStageError("package", err)
	}
	log.Appendf("\nProject zipped to %s", zipPath)

	// 9. 清理工作目录
	if err := os.RemoveAll(projectDir); err != nil {
		d.logger.WithError(err).WithField("dir", projectDir).Warn("Failed to remove project directory")
	}

	d.logger.WithFields(logrus.Fields{
		"project": projectName,
		"archive": zipPath,
	}).Info("Decompile pipeline completed")

	result.ArchivePath = zipPath
	result.ArchiveName = zipName
	result.Log = log.String()
	return result, nil
}
