package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tube-keeper/app/config"
	"tube-keeper/app/logger"
	"tube-keeper/app/model"
	"tube-keeper/app/utils/namer"

	"gorm.io/gorm"
)

// Dirs 一次下载例程的输出目录，按集合传入，不同集合互不影响
type Dirs struct {
	Video string
	Audio string
}

// TaskStore 下载任务的持久化层，以 VideoID 作为唯一键保证幂等
type TaskStore struct {
	db  *gorm.DB
	log *logger.Logger
	cfg *config.Config

	// 文件名分配是先查占用再插入，没有锁的话并发提交同名标题
	// 会各自认为名字空闲而分到同一对文件名
	addMu sync.Mutex
}

// NewTaskStore 创建任务存储
func NewTaskStore(db *gorm.DB, log *logger.Logger, cfg *config.Config) *TaskStore {
	return &TaskStore{db: db, log: log, cfg: cfg}
}

// Get 按视频ID查询任务，不存在时返回 (nil, nil)
func (s *TaskStore) Get(videoID string) (*model.DownloadTask, error) {
	var task model.DownloadTask
	err := s.db.Where("video_id = ?", videoID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询任务失败 %s: %w", videoID, err)
	}
	return &task, nil
}

// Add 为视频创建任务，已存在时直接返回现有任务（幂等）。
// 最终文件名在创建时一次性确定：对规范化标题做冲突解析，
// 同名文件已经在磁盘上或已被其他任务占用时追加 _1、_2 序号。
func (s *TaskStore) Add(videoID, url, title string, dirs Dirs) (*model.DownloadTask, error) {
	// 冲突解析和插入必须作为一个整体串行执行，
	// API 层会并发提交，见 TaskStore.addMu 的说明
	s.addMu.Lock()
	defer s.addMu.Unlock()

	if existing, err := s.Get(videoID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	suggested := namer.Normalize(title, s.cfg.Download.MaxFileLength)
	if suggested == "" {
		suggested = videoID
	}

	finalVideo, finalAudio, err := s.resolveNames(suggested, dirs)
	if err != nil {
		return nil, err
	}

	task := &model.DownloadTask{
		VideoID:       videoID,
		SourceURL:     url,
		SuggestedName: suggested,
		FinalVideo:    finalVideo,
		FinalAudio:    finalAudio,
		Status:        model.TaskStatusPending,
	}
	if err := s.db.Create(task).Error; err != nil {
		// 并发创建时唯一索引会拦下第二次插入，回读第一次的结果
		if existing, getErr := s.Get(videoID); getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("创建任务失败 %s: %w", videoID, err)
	}

	s.log.Infof("创建下载任务: %s -> %s", videoID, finalVideo)
	return task, nil
}

// resolveNames 对基础名做冲突解析，返回带扩展名的视频和音频文件名。
// 磁盘上已有同名文件、或数据库中已有任务占用该名字时都算冲突。
func (s *TaskStore) resolveNames(base string, dirs Dirs) (string, string, error) {
	videoExt := s.cfg.Download.VideoExt
	audioExt := s.cfg.Download.AudioExt

	for i := 0; i < s.cfg.Download.MaxNameAttempts; i++ {
		candidate := base
		if i > 0 {
			suffix := fmt.Sprintf("_%d", i)
			candidate = namer.TruncateForSuffix(base, suffix, s.cfg.Download.MaxFileLength) + suffix
		}

		finalVideo := candidate + "." + videoExt
		finalAudio := candidate + "." + audioExt

		taken, err := s.nameTaken(finalVideo, finalAudio, dirs)
		if err != nil {
			return "", "", err
		}
		if !taken {
			return finalVideo, finalAudio, nil
		}
	}
	return "", "", fmt.Errorf("文件名冲突解析超过 %d 次尝试: %s", s.cfg.Download.MaxNameAttempts, base)
}

func (s *TaskStore) nameTaken(finalVideo, finalAudio string, dirs Dirs) (bool, error) {
	if dirs.Video != "" {
		if _, err := os.Stat(filepath.Join(dirs.Video, finalVideo)); err == nil {
			return true, nil
		}
	}
	if dirs.Audio != "" {
		if _, err := os.Stat(filepath.Join(dirs.Audio, finalAudio)); err == nil {
			return true, nil
		}
	}

	var count int64
	err := s.db.Model(&model.DownloadTask{}).
		Where("final_video = ? OR final_audio = ?", finalVideo, finalAudio).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询文件名占用失败: %w", err)
	}
	return count > 0, nil
}

// 允许通过 Update 修改的列
var updatableColumns = map[string]bool{
	"status":        true,
	"video_path":    true,
	"audio_path":    true,
	"video_hash":    true,
	"audio_hash":    true,
	"retry_count":   true,
	"error_message": true,
}

// Update 更新任务的部分字段，只接受白名单内的列，空更新只告警不报错
func (s *TaskStore) Update(videoID string, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		if !updatableColumns[k] {
			s.log.Warnf("忽略不可更新的列: %s", k)
			continue
		}
		updates[k] = v
	}
	if len(updates) == 0 {
		s.log.Warnf("任务 %s 的更新没有任何有效字段", videoID)
		return nil
	}
	updates["updated_at"] = time.Now()

	result := s.db.Model(&model.DownloadTask{}).
		Where("video_id = ?", videoID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新任务失败 %s: %w", videoID, result.Error)
	}
	if result.RowsAffected == 0 {
		s.log.Warnf("更新任务 %s 没有命中任何行", videoID)
	}
	return nil
}

// CountByVideoID 统计某视频ID的任务行数，正常情况下只会是 0 或 1
func (s *TaskStore) CountByVideoID(videoID string) (int64, error) {
	var count int64
	err := s.db.Model(&model.DownloadTask{}).
		Where("video_id = ?", videoID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计任务失败 %s: %w", videoID, err)
	}
	return count, nil
}

// ListByStatus 按状态查询任务，status 为空时返回全部
func (s *TaskStore) ListByStatus(status model.TaskStatus) ([]model.DownloadTask, error) {
	var tasks []model.DownloadTask
	query := s.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}
	return tasks, nil
}

// List 返回全部任务
func (s *TaskStore) List() ([]model.DownloadTask, error) {
	return s.ListByStatus("")
}

// FindByFinalName 按最终文件名查找任务，用于目录监听事件反查
func (s *TaskStore) FindByFinalName(filename string) (*model.DownloadTask, error) {
	var task model.DownloadTask
	err := s.db.Where("final_video = ? OR final_audio = ?", filename, filename).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("按文件名查询任务失败 %s: %w", filename, err)
	}
	return &task, nil
}

// FindByHash 按内容摘要查找已完成的任务，用于内容去重
func (s *TaskStore) FindByHash(hash string) (*model.DownloadTask, error) {
	if hash == "" {
		return nil, nil
	}
	var task model.DownloadTask
	err := s.db.Where("status = ? AND (video_hash = ? OR audio_hash = ?)",
		model.TaskStatusCompleted, hash, hash).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("按摘要查询任务失败: %w", err)
	}
	return &task, nil
}

// Stats 各状态的任务数量
func (s *TaskStore) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)
	rows := []struct {
		Status string
		Count  int64
	}{}
	err := s.db.Model(&model.DownloadTask{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计任务状态失败: %w", err)
	}
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}

// ResetStale 把上次运行遗留的 in_progress 任务重置为 pending，启动时调用
func (s *TaskStore) ResetStale() error {
	result := s.db.Model(&model.DownloadTask{}).
		Where("status = ?", model.TaskStatusInProgress).
		Updates(map[string]interface{}{
			"status":     model.TaskStatusPending,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("重置遗留任务失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Infof("重置了 %d 个遗留的进行中任务", result.RowsAffected)
	}
	return nil
}
