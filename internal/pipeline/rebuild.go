package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arturwyroslak/apklab/internal/archive"
	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/tools"
	"github.com/sirupsen/logrus"
)

// unsignedName apktool 重打包产物的固定文件名
const unsignedName = "rebuilt-unsigned.apk"

// RebuildRequest 重打包签名请求
// 密钥库凭据只在内存中传递，不持久化、不进消息队列
type RebuildRequest struct {
	ProjectZip   string // 解包项目压缩包路径
	KeystorePath string // 密钥库文件路径
	KsPass       string
	KsAlias      string
	KeyPass      string
	Options      []string
}

// RebuildResult 重打包签名结果
type RebuildResult struct {
	APKPath string
	APKName string
	Log     string
}

// Rebuilder 重打包签名流水线
// 状态: ValidateInputs → Unpack → Build(必需) → Sign(必需) → Finalize → Cleanup
type Rebuilder struct {
	storage *config.StorageConfig
	tools   *tools.Toolset
	logger  *logrus.Logger
}

// NewRebuilder 创建重打包流水线
func NewRebuilder(storage *config.StorageConfig, ts *tools.Toolset, logger *logrus.Logger) *Rebuilder {
	return &Rebuilder{
		storage: storage,
		tools:   ts,
		logger:  logger,
	}
}

// Run 执行重打包签名流水线
// Build 与 Sign 失败都是致命的：中止、清理两个工作目录、返回捕获的工具输出。
// 两个工作目录在任何退出路径上都会被清理
func (r *Rebuilder) Run(ctx context.Context, req *RebuildRequest, progress ProgressFunc) (*RebuildResult, error) {
	if progress == nil {
		progress = nopProgress
	}

	log := &runLog{}
	result := &RebuildResult{}

	// 1. 输入校验，任何文件系统操作和工具调用之前完成
	if err := r.validate(req); err != nil {
		result.Log = log.String()
		return result, err
	}

	// 工具校验同样前置
	toolLogs, err := r.tools.CheckAll(ctx)
	log.Append("--- Tool Check ---")
	if err != nil {
		log.Append(err.Error())
		result.Log = log.String()
		return result, newConfigError(err)
	}
	log.Append(toolLogs)

	// 2. 唯一命名的工作目录，保证并发运行互不干扰
	suffix := uniqueSuffix()
	projectDir := filepath.Join(r.storage.TempDir, "rebuild-"+suffix)
	outputDir := filepath.Join(r.storage.TempDir, "rebuild-out-"+suffix)

	// 无论成败都把两个工作目录清掉
	defer func() {
		for _, dir := range []string{projectDir, outputDir} {
			if err := os.RemoveAll(dir); err != nil {
				r.logger.WithError(err).WithField("dir", dir).Warn("Failed to remove working directory")
			}
		}
	}()

	// 3. 解压项目
	progress(0.1, "Unzipping project...")
	if err := archive.Unzip(req.ProjectZip, projectDir); err != nil {
		log.Appendf("Unzip failed: %v", err)
		result.Log = log.String()
		return result, newStageError("unpack", err)
	}
	log.Appendf("Project unzipped to %s", projectDir)

	// 4. apktool 重打包（必需阶段）
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		result.Log = log.String()
		return result, newStageError("build", err)
	}
	unsignedApk := filepath.Join(outputDir, unsignedName)

	progress(0.3, "Rebuilding with Apktool...")
	log.Section("Apktool Rebuild")

	res := r.tools.Build(ctx, projectDir, unsignedApk, req.Options)
	log.ToolOutput("Apktool", res.Stdout, res.Stderr)
	if !res.Ok() {
		result.Log = log.String()
		return result, newStageError("build", fmt.Errorf("apktool exited with code %d", res.ExitCode))
	}

	// 5. 签名（必需阶段）
	progress(0.8, "Signing APK...")
	log.Section("Signing APK")

	res = r.tools.Sign(ctx, unsignedApk, req.KeystorePath, req.KsPass, req.KsAlias, req.KeyPass)
	log.ToolOutput("Signer", res.Stdout, res.Stderr)
	if !res.Ok() {
		result.Log = log.String()
		return result, newStageError("sign", fmt.Errorf("signer exited with code %d", res.ExitCode))
	}

	// 6. 归位。签名器按固定约定在原名后追加 -aligned-signed，
	//    把它挪到以项目压缩包主干命名的稳定下载路径
	progress(0.95, "Finalizing...")

	signedApk := filepath.Join(outputDir, tools.SignedName(unsignedApk))
	finalName := stem(filepath.Base(req.ProjectZip)) + "-signed.apk"
	finalPath := filepath.Join(r.storage.DownloadsDir, finalName)

	if err := moveFile(signedApk, finalPath); err != nil {
		log.Appendf("Failed to move signed APK: %v", err)
		result.Log = log.String()
		return result, newStageError("finalize", err)
	}
	log.Appendf("\nSigned APK moved to %s", finalPath)

	r.logger.WithFields(logrus.Fields{
		"project": req.ProjectZip,
		"apk":     finalPath,
	}).Info("Rebuild pipeline completed")

	result.APKPath = finalPath
	result.APKName = finalName
	result.Log = log.String()
	return result, nil
}

// validate 拒绝缺少项目压缩包、密钥库或任一凭据字符串的请求
func (r *Rebuilder) validate(req *RebuildRequest) error {
	if req.ProjectZip == "" {
		return newInputError("please upload a project ZIP file")
	}
	if _, err := os.Stat(req.ProjectZip); err != nil {
		return newInputError("project ZIP file not found: %s", req.ProjectZip)
	}
	if req.KeystorePath == "" {
		return newInputError("please upload a keystore file")
	}
	if _, err := os.Stat(req.KeystorePath); err != nil {
		return newInputError("keystore file not found: %s", req.KeystorePath)
	}
	if req.KsPass == "" || req.KsAlias == "" || req.KeyPass == "" {
		return newInputError("please provide all keystore credentials")
	}
	return nil
}

// moveFile 重命名优先，跨文件系统时退回复制
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Remove(src)
}
