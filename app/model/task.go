package model

import (
	"time"
)

// TaskStatus 下载任务状态
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// DownloadTask 下载任务模型，每个视频对应一行，以 VideoID 作为唯一键
type DownloadTask struct {
	ID            uint       `json:"id" gorm:"primarykey"`
	VideoID       string     `json:"video_id" gorm:"size:16;not null;uniqueIndex;comment:YouTube 视频ID"`
	SourceURL     string     `json:"source_url" gorm:"not null;comment:首次见到的原始URL"`
	SuggestedName string     `json:"suggested_name" gorm:"comment:根据标题规范化得到的建议文件名"`
	FinalVideo    string     `json:"final_video" gorm:"comment:去冲突后的视频文件名，创建时一次性确定"`
	FinalAudio    string     `json:"final_audio" gorm:"comment:去冲突后的音频文件名，创建时一次性确定"`
	Status        TaskStatus `json:"status" gorm:"size:20;default:pending;index;comment:状态"`
	VideoPath     string     `json:"video_path" gorm:"comment:视频最终保存路径"`
	AudioPath     string     `json:"audio_path" gorm:"comment:音频最终保存路径"`
	VideoHash     string     `json:"video_hash" gorm:"size:64;comment:视频内容摘要"`
	AudioHash     string     `json:"audio_hash" gorm:"size:64;comment:音频内容摘要"`
	RetryCount    int        `json:"retry_count" gorm:"default:0;comment:重试次数"`
	ErrorMessage  string     `json:"error_message" gorm:"type:text;comment:最后一次错误信息"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (DownloadTask) TableName() string {
	return "download_tasks"
}

// IsCompleted 任务是否已完成。
// 状态流转统一走 TaskStore.Update 的白名单列更新，模型上不再放置写方法。
func (t *DownloadTask) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}
