package service

import (
	"fmt"
	"os"

	"tube-keeper/app/config"
	"tube-keeper/app/logger"
	"tube-keeper/app/model"
	"tube-keeper/app/store"
	"tube-keeper/app/utils/namer"

	"github.com/robfig/cron/v3"
)

// AuditIssue 一条对账问题
type AuditIssue struct {
	Kind    string `json:"kind"` // missing_file, duplicate_title, audio_video_gap
	VideoID string `json:"video_id"`
	Detail  string `json:"detail"`
}

// AuditReport 一次对账的结果
type AuditReport struct {
	MissingFiles    []AuditIssue `json:"missing_files"`
	DuplicateTitles []AuditIssue `json:"duplicate_titles"`
	AudioVideoGaps  []AuditIssue `json:"audio_video_gaps"`
}

// Total 问题总数
func (r *AuditReport) Total() int {
	return len(r.MissingFiles) + len(r.DuplicateTitles) + len(r.AudioVideoGaps)
}

// AuditService 数据库和磁盘之间的对账服务
type AuditService struct {
	cfg   *config.Config
	log   *logger.Logger
	store *store.TaskStore
	cron  *cron.Cron
}

// NewAuditService 创建对账服务
func NewAuditService(cfg *config.Config, log *logger.Logger, taskStore *store.TaskStore) *AuditService {
	return &AuditService{
		cfg:   cfg,
		log:   log,
		store: taskStore,
	}
}

// Start 按配置的 cron 表达式启动定时对账
func (s *AuditService) Start() error {
	if !s.cfg.Audit.Enabled {
		s.log.Infof("定时对账未启用")
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Audit.Cron, func() {
		report, err := s.RunAll()
		if err != nil {
			s.log.Errorf("定时对账执行失败: %v", err)
			return
		}
		s.log.Infof("定时对账完成，发现 %d 个问题", report.Total())
	})
	if err != nil {
		return fmt.Errorf("注册对账定时任务失败: %w", err)
	}

	s.cron.Start()
	s.log.Infof("定时对账已启动: %s", s.cfg.Audit.Cron)
	return nil
}

// Stop 停止定时对账
func (s *AuditService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunAll 执行全部对账检查
func (s *AuditService) RunAll() (*AuditReport, error) {
	report := &AuditReport{}

	missing, err := s.MissingFiles()
	if err != nil {
		return nil, err
	}
	report.MissingFiles = missing

	dups, err := s.DuplicateTitles()
	if err != nil {
		return nil, err
	}
	report.DuplicateTitles = dups

	gaps, err := s.AudioVideoGap()
	if err != nil {
		return nil, err
	}
	report.AudioVideoGaps = gaps

	return report, nil
}

// MissingFiles 找出数据库标记已完成但产出文件已不在磁盘上的任务
func (s *AuditService) MissingFiles() ([]AuditIssue, error) {
	tasks, err := s.store.ListByStatus(model.TaskStatusCompleted)
	if err != nil {
		return nil, err
	}

	var issues []AuditIssue
	for _, t := range tasks {
		if t.VideoPath != "" {
			if _, err := os.Stat(t.VideoPath); os.IsNotExist(err) {
				issues = append(issues, AuditIssue{
					Kind:    "missing_file",
					VideoID: t.VideoID,
					Detail:  fmt.Sprintf("视频文件不存在: %s", t.VideoPath),
				})
			}
		}
		if t.AudioPath != "" {
			if _, err := os.Stat(t.AudioPath); os.IsNotExist(err) {
				issues = append(issues, AuditIssue{
					Kind:    "missing_file",
					VideoID: t.VideoID,
					Detail:  fmt.Sprintf("音频文件不存在: %s", t.AudioPath),
				})
			}
		}
	}
	return issues, nil
}

// DuplicateTitles 找出规范化标题相同但视频ID不同的任务对。
// 标题比较用和文件名生成相同的规范化算法，保证口径一致。
func (s *AuditService) DuplicateTitles() ([]AuditIssue, error) {
	tasks, err := s.store.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string) // 规范化标题 -> 第一次见到的视频ID
	var issues []AuditIssue
	for _, t := range tasks {
		key := namer.Normalize(t.SuggestedName, s.cfg.Download.MaxFileLength)
		if key == "" {
			continue
		}
		if first, ok := seen[key]; ok {
			issues = append(issues, AuditIssue{
				Kind:    "duplicate_title",
				VideoID: t.VideoID,
				Detail:  fmt.Sprintf("标题 %q 与视频 %s 重复", t.SuggestedName, first),
			})
			continue
		}
		seen[key] = t.VideoID
	}
	return issues, nil
}

// AudioVideoGap 找出已完成但音视频产出不完整的任务（只有视频没有音频，或反过来）
func (s *AuditService) AudioVideoGap() ([]AuditIssue, error) {
	tasks, err := s.store.ListByStatus(model.TaskStatusCompleted)
	if err != nil {
		return nil, err
	}

	var issues []AuditIssue
	for _, t := range tasks {
		switch {
		case s.cfg.Download.Video && s.cfg.Download.Audio && t.VideoPath != "" && t.AudioPath == "":
			issues = append(issues, AuditIssue{
				Kind:    "audio_video_gap",
				VideoID: t.VideoID,
				Detail:  "有视频产出但缺少音频产出",
			})
		case s.cfg.Download.Video && s.cfg.Download.Audio && t.VideoPath == "" && t.AudioPath != "":
			issues = append(issues, AuditIssue{
				Kind:    "audio_video_gap",
				VideoID: t.VideoID,
				Detail:  "有音频产出但缺少视频产出",
			})
		}
	}
	return issues, nil
}
