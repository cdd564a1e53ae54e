package service

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturwyroslak/apklab/internal/config"
	"github.com/arturwyroslak/apklab/internal/domain"
	"github.com/arturwyroslak/apklab/internal/repository"
)

func setupService(t *testing.T) (JobService, repository.JobRepository) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := repository.InitDB(&config.DatabaseConfig{Type: "sqlite"}, t.TempDir(), logger)
	require.NoError(t, err)

	repo := repository.NewJobRepository(db, logger)
	return NewJobService(repo, logger), repo
}

// TestCreateJob 新任务带 UUID、queued 状态和逗号拼接的选项
func TestCreateJob(t *testing.T) {
	svc, _ := setupService(t)

	job, err := svc.CreateJob(context.Background(), domain.JobKindDecompile, "sample.apk", []string{"mitm_patch", "no_src"})
	require.NoError(t, err)

	assert.Len(t, job.ID, 36) // uuid
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "mitm_patch,no_src", job.Options)
	assert.Equal(t, "sample.apk", job.APKName)

	got, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

// TestDeleteJob_RefusesActive 未到终态的任务不可删除
func TestDeleteJob_RefusesActive(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, domain.JobKindDecompile, "a.apk", nil)
	require.NoError(t, err)

	// queued 拒绝
	err = svc.DeleteJob(ctx, job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "无法删除")

	// running 拒绝
	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	require.Error(t, svc.DeleteJob(ctx, job.ID))

	// 终态放行
	require.NoError(t, repo.MarkCompleted(ctx, job.ID, "a.zip", ""))
	require.NoError(t, svc.DeleteJob(ctx, job.ID))

	_, err = svc.GetJob(ctx, job.ID)
	assert.Error(t, err)
}

// TestGetStatusCounts 统计透传仓储层聚合
func TestGetStatusCounts(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	j1, err := svc.CreateJob(ctx, domain.JobKindDecompile, "a.apk", nil)
	require.NoError(t, err)
	_, err = svc.CreateJob(ctx, domain.JobKindRebuild, "b.zip", nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRunning(ctx, j1.ID))

	counts, total, err := svc.GetStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), counts[string(domain.JobStatusRunning)])
	assert.Equal(t, int64(1), counts[string(domain.JobStatusQueued)])
}
