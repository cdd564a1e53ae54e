package domain

import (
	"time"
)

type JobKind string

const (
	JobKindDecompile JobKind = "decompile"
	JobKindRebuild   JobKind = "rebuild"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job 一次流水线运行的持久化记录
// 工作目录和中间产物都是临时的，这里只留下状态、日志和最终产物名。
// 密钥库凭据永远不会出现在这张表里
type Job struct {
	ID      string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind    JobKind `gorm:"type:varchar(20);not null;index:idx_kind" json:"kind"`
	APKName string  `gorm:"type:varchar(255)" json:"apk_name"`
	Options string  `gorm:"type:varchar(500)" json:"options"` // 逗号分隔的选项令牌

	Status          JobStatus `gorm:"type:varchar(20);not null;index:idx_status" json:"status"`
	CurrentStep     string    `gorm:"type:varchar(255)" json:"current_step"`
	ProgressPercent int       `gorm:"default:0" json:"progress_percent"`

	// 成功后可供下载的产物文件名 (downloads 目录下)，失败时为空
	ArtifactName string `gorm:"type:varchar(255)" json:"artifact_name,omitempty"`

	// 各阶段工具输出的完整文本日志
	Log          string `gorm:"type:text" json:"log,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;index:idx_created_at" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName 指定表名
func (Job) TableName() string {
	return "apklab_jobs"
}

// IsTerminal 任务是否已到终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
