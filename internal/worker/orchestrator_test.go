package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/arturwyroslak/apklab/internal/download"
	"github.com/arturwyroslak/apklab/internal/pipeline"
	"github.com/arturwyroslak/apklab/internal/repository"
	"github.com/arturwyroslak/apklab/internal/tools"
)

// fakeRunner 模拟 apktool/签名器，decode 失败可注入
type fakeRunner struct {
	failDecode bool
}

func (f *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) *tools.Result {
	cmd := strings.Join(args, " ")
	switch {
	case strings.HasPrefix(cmd, "--version"):
		return &tools.Result{ExitCode: 0, Stdout: "openjdk 17"}
	case strings.Contains(cmd, " d "):
		if f.failDecode {
			return &tools.Result{ExitCode: 1, Stderr: "decode exploded"}
		}
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				os.MkdirAll(args[i+1], 0755)
				os.WriteFile(filepath.Join(args[i+1], "AndroidManifest.xml"), []byte("<manifest/>"), 0644)
			}
		}
		return &tools.Result{ExitCode: 0}
	default:
		return &tools.Result{ExitCode: 0}
	}
}

// recordingBroadcaster 收集广播消息
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []string // 按到达顺序记录的 status
}

func (b *recordingBroadcaster) BroadcastProgress(jobID string, status string, step string, percent int, artifactName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, status)
}

func (b *recordingBroadcaster) statuses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

// recordingMetrics 收集任务终态指标和执行中计数
type recordingMetrics struct {
	mu       sync.Mutex
	records  []string // "kind:status"
	started  int
	finished int
}

func (m *recordingMetrics) RecordJob(kind string, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, kind+":"+status)
}

func (m *recordingMetrics) JobStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) JobFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished++
}

type workerEnv struct {
	repo         repository.JobRepository
	runner       *fakeRunner
	orchestrator *Orchestrator
	broadcaster  *recordingBroadcaster
	metrics      *recordingMetrics
	storage      *config.StorageConfig
}

func setupWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	root := t.TempDir()
	storage := &config.StorageConfig{
		TempDir:      filepath.Join(root, "temp"),
		DownloadsDir: filepath.Join(root, "downloads"),
		DataDir:      filepath.Join(root, "data"),
	}
	require.NoError(t, os.MkdirAll(storage.TempDir, 0755))
	require.NoError(t, os.MkdirAll(storage.DownloadsDir, 0755))

	toolsDir := filepath.Join(root, "tools")
	require.NoError(t, os.MkdirAll(toolsDir, 0755))
	toolsCfg := &config.ToolsConfig{
		JavaPath:    "java",
		ApktoolPath: filepath.Join(toolsDir, "apktool.jar"),
		SignerPath:  filepath.Join(toolsDir, "uber-apk-signer.jar"),
		JadxPath:    filepath.Join(toolsDir, "jadx"),
		QuarkPath:   "quark",
	}
	for _, p := range []string{toolsCfg.ApktoolPath, toolsCfg.SignerPath, toolsCfg.JadxPath} {
		require.NoError(t, os.WriteFile(p, []byte("stub"), 0755))
	}

	db, err := repository.InitDB(&config.DatabaseConfig{Type: "sqlite"}, storage.DataDir, logger)
	require.NoError(t, err)
	repo := repository.NewJobRepository(db, logger)

	runner := &fakeRunner{}
	toolset := tools.NewToolset(toolsCfg, runner, logger)
	fetcher := download.NewFetcher(5*time.Second, logger)
	decompiler := pipeline.NewDecompiler(storage, toolset, fetcher, logger)
	rebuilder := pipeline.NewRebuilder(storage, toolset, logger)

	orch := NewOrchestrator(repo, decompiler, rebuilder, logger)
	broadcaster := &recordingBroadcaster{}
	metrics := &recordingMetrics{}
	orch.SetBroadcaster(broadcaster)
	orch.SetMetrics(metrics)

	return &workerEnv{
		repo:         repo,
		runner:       runner,
		orchestrator: orch,
		broadcaster:  broadcaster,
		metrics:      metrics,
		storage:      storage,
	}
}

func (e *workerEnv) createJob(t *testing.T, kind domain.JobKind) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:     uuid.New().String(),
		Kind:   kind,
		Status: domain.JobStatusQueued,
	}
	require.NoError(t, e.repo.Create(context.Background(), job))
	return job
}

func (e *workerEnv) sampleAPK(t *testing.T) string {
	t.Helper()
	path := filepath.Join(e.storage.TempDir, "sample.apk")
	require.NoError(t, os.WriteFile(path, []byte("apk-bytes"), 0644))
	return path
}

// TestExecute_DecompileCompleted 任务从 queued 驱动到 completed，产物与日志落库
func TestExecute_DecompileCompleted(t *testing.T) {
	env := setupWorkerEnv(t)
	job := env.createJob(t, domain.JobKindDecompile)

	task := &Task{
		JobID:     job.ID,
		Decompile: &pipeline.DecompileRequest{APKPath: env.sampleAPK(t)},
	}
	require.NoError(t, env.orchestrator.Execute(context.Background(), task))

	got, err := env.repo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "sample-decompiled.zip", got.ArtifactName)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.Contains(t, got.Log, "--- Tool Check ---")
	assert.Empty(t, got.ErrorMessage)

	// 广播了 running 和最终 completed
	statuses := env.broadcaster.statuses()
	assert.Contains(t, statuses, string(domain.JobStatusRunning))
	assert.Equal(t, string(domain.JobStatusCompleted), statuses[len(statuses)-1])

	assert.Equal(t, []string{"decompile:completed"}, env.metrics.records)
	// 执行中计数成对
	assert.Equal(t, 1, env.metrics.started)
	assert.Equal(t, 1, env.metrics.finished)
}

// TestExecute_DecompileFailed 流水线失败时终态、分类错误消息和日志都落库
func TestExecute_DecompileFailed(t *testing.T) {
	env := setupWorkerEnv(t)
	env.runner.failDecode = true
	job := env.createJob(t, domain.JobKindDecompile)

	task := &Task{
		JobID:     job.ID,
		Decompile: &pipeline.DecompileRequest{APKPath: env.sampleAPK(t)},
	}
	require.Error(t, env.orchestrator.Execute(context.Background(), task))

	got, err := env.repo.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "[stage]")
	assert.Contains(t, got.Log, "decode exploded")

	statuses := env.broadcaster.statuses()
	assert.Equal(t, string(domain.JobStatusFailed), statuses[len(statuses)-1])
	assert.Equal(t, []string{"decompile:failed"}, env.metrics.records)
	// 失败路径同样归还执行中计数
	assert.Equal(t, 1, env.metrics.started)
	assert.Equal(t, 1, env.metrics.finished)
}

// TestExecute_UnknownJob 任务记录不存在时直接报错
func TestExecute_UnknownJob(t *testing.T) {
	env := setupWorkerEnv(t)

	err := env.orchestrator.Execute(context.Background(), &Task{JobID: "missing"})
	assert.Error(t, err)
	// 没加载到任务记录就不计入执行中
	assert.Equal(t, 0, env.metrics.started)
}

// TestPool_SubmitAndWait 池化执行，同步等待结果
func TestPool_SubmitAndWait(t *testing.T) {
	env := setupWorkerEnv(t)
	job := env.createJob(t, domain.JobKindDecompile)

	pool := NewPool(2, 10, env.orchestrator, logrusDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	err := pool.SubmitAndWait(context.Background(), &Task{
		JobID:     job.ID,
		Decompile: &pipeline.DecompileRequest{APKPath: env.sampleAPK(t)},
	})
	require.NoError(t, err)

	got, findErr := env.repo.FindByID(context.Background(), job.ID)
	require.NoError(t, findErr)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	assert.Equal(t, 2, pool.GetWorkerCount())
}

// TestPool_QueueFull 队列满时 Submit 立即拒绝
func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(1, 1, nil, logrusDiscard())
	// 不启动 Worker，队列容量 1

	require.NoError(t, pool.Submit(&Task{JobID: "a"}))
	err := pool.Submit(&Task{JobID: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
	assert.Equal(t, 1, pool.GetQueueSize())
}

func logrusDiscard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
