package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tube-keeper/app/config"
	"tube-keeper/app/logger"
	"tube-keeper/app/media/ffmpeg"
	"tube-keeper/app/media/youtube"
	"tube-keeper/app/model"
	"tube-keeper/app/store"
	"tube-keeper/app/utils/hasher"
	"tube-keeper/app/utils/namer"

	"github.com/google/uuid"
)

// DownloadService 下载编排器，驱动单视频例程和各类集合的批处理
type DownloadService struct {
	cfg        *config.Config
	log        *logger.Logger
	store      *store.TaskStore
	fetcher    youtube.Fetcher
	enumerator youtube.Enumerator
	transcoder ffmpeg.Transcoder
}

// NewDownloadService 创建下载编排器
func NewDownloadService(
	cfg *config.Config,
	log *logger.Logger,
	taskStore *store.TaskStore,
	fetcher youtube.Fetcher,
	enumerator youtube.Enumerator,
	transcoder ffmpeg.Transcoder,
) *DownloadService {
	return &DownloadService{
		cfg:        cfg,
		log:        log,
		store:      taskStore,
		fetcher:    fetcher,
		enumerator: enumerator,
		transcoder: transcoder,
	}
}

// DefaultDirs 配置指定的默认输出目录
func (s *DownloadService) DefaultDirs() store.Dirs {
	return store.Dirs{
		Video: s.cfg.Download.VideoDir,
		Audio: s.cfg.Download.AudioDir,
	}
}

// collectionDirs 为集合派生专属输出目录：<根>/<规范化标题> 和 <根>/<规范化标题>-Audio
func (s *DownloadService) collectionDirs(title string) store.Dirs {
	base := namer.Normalize(title, s.cfg.Download.MaxFileLength)
	return store.Dirs{
		Video: filepath.Join(s.cfg.Download.BasePath, base),
		Audio: filepath.Join(s.cfg.Download.BasePath, base+"-Audio"),
	}
}

// Run 执行配置中声明的全部下载：单视频、播放列表、频道、搜索。
// 单项失败不会中断批处理，取消信号会在项与项之间生效。
func (s *DownloadService) Run(ctx context.Context) error {
	defaultDirs := s.DefaultDirs()

	for _, url := range s.cfg.Download.Videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.DownloadVideo(ctx, url, defaultDirs); err != nil {
			s.log.Errorf("视频下载失败 %s: %v", url, err)
		}
	}

	for _, url := range s.cfg.Download.Playlists {
		if err := ctx.Err(); err != nil {
			return err
		}
		col, err := s.enumerator.Playlist(ctx, url)
		if err != nil {
			s.log.Errorf("播放列表枚举失败 %s: %v", url, err)
			continue
		}
		s.runCollection(ctx, col)
	}

	for _, url := range s.cfg.Download.Channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		col, err := s.enumerator.Channel(ctx, url)
		if err != nil {
			s.log.Errorf("频道枚举失败 %s: %v", url, err)
			continue
		}
		s.runCollection(ctx, col)
	}

	for _, q := range s.cfg.Download.Searches {
		if err := ctx.Err(); err != nil {
			return err
		}
		col, err := s.enumerator.Search(ctx, youtube.SearchOptions{
			Query:  q.Query,
			SortBy: q.SortBy,
			TopN:   q.TopN,
		})
		if err != nil {
			s.log.Errorf("搜索枚举失败 %q: %v", q.Query, err)
			continue
		}
		s.runCollection(ctx, col)
	}

	return ctx.Err()
}

// runCollection 下载一个集合的全部成员，输出到集合专属目录
func (s *DownloadService) runCollection(ctx context.Context, col *youtube.Collection) {
	dirs := s.collectionDirs(col.Title)
	s.log.Infof("开始下载集合 %q，共 %d 个视频，输出目录: %s", col.Title, len(col.Videos), dirs.Video)

	botHits := 0
	for _, ref := range col.Videos {
		if ctx.Err() != nil {
			return
		}
		if err := s.DownloadVideo(ctx, ref.WatchURL, dirs); err != nil {
			if errors.Is(err, youtube.ErrBotDetected) {
				botHits++
				s.log.Warnf("集合 %q 第 %d 次触发机器人识别: %s", col.Title, botHits, ref.ID)
				continue
			}
			s.log.Errorf("集合成员下载失败 %s: %v", ref.ID, err)
		}
	}

	if botHits > 0 {
		s.log.Warnf("集合 %q 共 %d 个视频被风控拦截，建议更换出口IP后重跑", col.Title, botHits)
	}
}

// DownloadVideo 下载单个视频，瞬时错误按配置重试，终止类错误立即失败
func (s *DownloadService) DownloadVideo(ctx context.Context, url string, dirs store.Dirs) error {
	attempts := s.cfg.Download.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.downloadOnce(ctx, url, dirs)
		if lastErr == nil {
			return nil
		}
		if youtube.IsTerminal(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt < attempts {
			s.log.Warnf("第 %d/%d 次尝试失败，%d 秒后重试 %s: %v",
				attempt, attempts, s.cfg.Download.RetryDelay, url, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(s.cfg.Download.RetryDelay) * time.Second):
			}
		}
	}
	return lastErr
}

// downloadOnce 单视频例程的一次执行。
// 已完成的任务在解析元数据之前就返回，重跑时不会发出任何网络请求。
func (s *DownloadService) downloadOnce(ctx context.Context, url string, dirs store.Dirs) error {
	videoID := youtube.ExtractVideoID(url)
	if videoID == "" {
		return fmt.Errorf("%w: %s", youtube.ErrBadReference, url)
	}

	existing, err := s.store.Get(videoID)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsCompleted() {
		s.log.Infof("任务已完成，跳过: %s (%s)", videoID, existing.FinalVideo)
		return nil
	}

	video, err := s.fetcher.Resolve(ctx, url)
	if err != nil {
		// 已有任务行时把终止错误也记到行上
		if existing != nil {
			s.markFailed(videoID, err)
		}
		return err
	}

	task, err := s.store.Add(videoID, url, video.Title, dirs)
	if err != nil {
		return err
	}
	if task.IsCompleted() {
		s.log.Infof("任务已完成，跳过: %s (%s)", videoID, task.FinalVideo)
		return nil
	}

	if err := s.store.Update(videoID, map[string]interface{}{
		"status": model.TaskStatusInProgress,
	}); err != nil {
		return err
	}

	if err := s.runPipeline(ctx, task, video, dirs); err != nil {
		s.markFailed(videoID, err)
		return err
	}
	return nil
}

func (s *DownloadService) markFailed(videoID string, cause error) {
	task, err := s.store.Get(videoID)
	retry := 1
	if err == nil && task != nil {
		retry = task.RetryCount + 1
	}
	if err := s.store.Update(videoID, map[string]interface{}{
		"status":        model.TaskStatusFailed,
		"error_message": cause.Error(),
		"retry_count":   retry,
	}); err != nil {
		s.log.Errorf("记录任务失败状态出错 %s: %v", videoID, err)
	}
}

// runPipeline 按配置执行各个下载步骤，全部成功后标记完成
func (s *DownloadService) runPipeline(ctx context.Context, task *model.DownloadTask, video *youtube.Video, dirs store.Dirs) error {
	cfg := s.cfg.Download

	if cfg.Caption {
		s.saveCaptions(ctx, task, video, dirs)
	}
	if cfg.Thumbnail {
		s.saveThumbnail(ctx, task, video, dirs)
	}

	var videoPath string
	if cfg.Video {
		p, err := s.downloadVideoStream(ctx, task, video, dirs)
		if err != nil {
			return err
		}
		videoPath = p
	}

	var audioPath string
	if cfg.Audio {
		p, err := s.produceAudio(ctx, task, video, dirs, videoPath)
		if err != nil {
			return err
		}
		audioPath = p
	}

	if cfg.Merge && videoPath != "" && audioPath != "" {
		if err := s.mergeAudioBack(ctx, task, videoPath, audioPath); err != nil {
			return err
		}
	}

	return s.finalize(task, videoPath, audioPath)
}

// saveCaptions 逐条保存字幕轨，单条失败只告警，不影响其余轨和后续步骤
func (s *DownloadService) saveCaptions(ctx context.Context, task *model.DownloadTask, video *youtube.Video, dirs store.Dirs) {
	if len(video.Captions) == 0 {
		return
	}
	if err := os.MkdirAll(dirs.Video, 0755); err != nil {
		s.log.Warnf("创建字幕目录失败: %v", err)
		return
	}

	base := strings.TrimSuffix(task.FinalVideo, filepath.Ext(task.FinalVideo))
	for _, t := range video.Captions {
		path := filepath.Join(dirs.Video, base+"."+t.Code+".txt")
		if s.cfg.Download.DryRun {
			s.log.Infof("[试运行] 保存字幕 %s -> %s", t.Code, path)
			continue
		}
		if err := s.fetcher.SaveCaption(ctx, t, path); err != nil {
			s.log.Warnf("字幕保存失败 %s/%s: %v", task.VideoID, t.Code, err)
			continue
		}
		s.log.Infof("字幕已保存: %s", path)
	}
}

// saveThumbnail 保存缩略图预览，失败只告警
func (s *DownloadService) saveThumbnail(ctx context.Context, task *model.DownloadTask, video *youtube.Video, dirs store.Dirs) {
	if video.ThumbnailURL == "" {
		return
	}
	base := strings.TrimSuffix(task.FinalVideo, filepath.Ext(task.FinalVideo))
	path := filepath.Join(dirs.Video, base+".jpg")
	if s.cfg.Download.DryRun {
		s.log.Infof("[试运行] 保存缩略图 -> %s", path)
		return
	}
	if err := os.MkdirAll(dirs.Video, 0755); err != nil {
		s.log.Warnf("创建缩略图目录失败: %v", err)
		return
	}
	if err := s.fetcher.FetchThumbnail(ctx, video.ThumbnailURL, path); err != nil {
		s.log.Warnf("缩略图保存失败 %s: %v", task.VideoID, err)
		return
	}
	if err := downscaleThumbnail(path); err != nil {
		s.log.Warnf("缩略图缩放失败 %s: %v", path, err)
	}
}

// downloadVideoStream 选流、下载到暂存目录、移动到最终位置，返回最终路径
func (s *DownloadService) downloadVideoStream(ctx context.Context, task *model.DownloadTask, video *youtube.Video, dirs store.Dirs) (string, error) {
	cfg := s.cfg.Download

	// 最终文件已经在磁盘上时不重新下载，这是断点续跑的依据
	dst := filepath.Join(dirs.Video, task.FinalVideo)
	if _, err := os.Stat(dst); err == nil {
		s.log.Infof("视频文件已存在，跳过下载: %s", dst)
		if err := s.store.Update(task.VideoID, map[string]interface{}{
			"video_path": dst,
		}); err != nil {
			return "", err
		}
		return dst, nil
	}

	stream := s.pickVideoStream(video)
	if stream == nil {
		return "", fmt.Errorf("%w: 视频 %s 没有满足条件的视频流", youtube.ErrNoStream, task.VideoID)
	}

	if cfg.DryRun {
		s.log.Infof("[试运行] 下载视频流 itag=%d -> %s", stream.Itag, dst)
		return dst, nil
	}

	// 先落到暂存目录的会话文件，成功后再移入最终目录，
	// 中途崩溃只会留下暂存垃圾，不会产生半成品的最终文件
	staging := filepath.Join(cfg.TempDir, uuid.NewString()+filepath.Ext(task.FinalVideo))
	if err := s.fetcher.Download(ctx, stream, cfg.TempDir, filepath.Base(staging)); err != nil {
		return "", err
	}
	defer os.Remove(staging)

	if cfg.DedupByContent {
		dup, err := s.commitDedup(task, staging)
		if err != nil {
			return "", err
		}
		if dup != "" {
			return dup, nil
		}
	}

	if err := os.MkdirAll(dirs.Video, 0755); err != nil {
		return "", fmt.Errorf("创建视频目录失败: %w", err)
	}
	if err := moveFile(staging, dst); err != nil {
		return "", fmt.Errorf("移动视频文件失败: %w", err)
	}

	if err := s.store.Update(task.VideoID, map[string]interface{}{
		"video_path": dst,
	}); err != nil {
		return "", err
	}
	s.log.Infof("视频已保存: %s", dst)
	return dst, nil
}

// pickVideoStream 按配置的过滤链选视频流，精确匹配失败后回退到最高分辨率
func (s *DownloadService) pickVideoStream(video *youtube.Video) *youtube.Stream {
	cfg := s.cfg.Download
	progressive := cfg.Progressive

	filtered := video.Streams.Filter(youtube.StreamFilter{
		MimeType:    "video/" + cfg.VideoMime,
		Res:         cfg.VideoRes,
		Progressive: &progressive,
	})
	if stream := filtered.OrderBy(cfg.OrderBy).Desc().Last(); stream != nil {
		return stream
	}
	if stream := video.Streams.HighestResolution(progressive); stream != nil {
		return stream
	}
	// 渐进式约束也放开，能下多少是多少
	return video.Streams.HighestResolution(!progressive)
}

// commitDedup 按内容摘要查重。命中已完成任务时丢弃暂存文件，
// 把当前任务直接指向既有文件，返回该路径；未命中返回空串。
func (s *DownloadService) commitDedup(task *model.DownloadTask, staging string) (string, error) {
	hash, err := hasher.FileSHA256(staging)
	if err != nil {
		return "", fmt.Errorf("计算暂存文件摘要失败: %w", err)
	}
	dup, err := s.store.FindByHash(hash)
	if err != nil {
		return "", err
	}
	if dup == nil || dup.VideoID == task.VideoID {
		return "", nil
	}

	s.log.Infof("内容去重命中: %s 与 %s 内容相同，复用 %s", task.VideoID, dup.VideoID, dup.VideoPath)
	if err := s.store.Update(task.VideoID, map[string]interface{}{
		"video_path": dup.VideoPath,
		"video_hash": hash,
	}); err != nil {
		return "", err
	}
	return dup.VideoPath, nil
}

// produceAudio 产出目标格式的音频。
// 优先从已下载的视频中提取音轨，视频没有音轨或未下载时单独下载音频流再转码。
func (s *DownloadService) produceAudio(ctx context.Context, task *model.DownloadTask, video *youtube.Video, dirs store.Dirs, videoPath string) (string, error) {
	cfg := s.cfg.Download
	dst := filepath.Join(dirs.Audio, task.FinalAudio)

	if _, err := os.Stat(dst); err == nil {
		s.log.Infof("音频文件已存在，跳过产出: %s", dst)
		if err := s.store.Update(task.VideoID, map[string]interface{}{
			"audio_path": dst,
		}); err != nil {
			return "", err
		}
		return dst, nil
	}

	if cfg.DryRun {
		s.log.Infof("[试运行] 产出音频 -> %s", dst)
		return dst, nil
	}
	if err := os.MkdirAll(dirs.Audio, 0755); err != nil {
		return "", fmt.Errorf("创建音频目录失败: %w", err)
	}

	if videoPath != "" {
		probe, err := s.transcoder.Probe(ctx, videoPath)
		if err != nil {
			return "", err
		}
		if probe.HasAudio {
			if err := s.transcoder.ExtractAudio(ctx, videoPath, dst, cfg.AudioBitrate); err != nil {
				return "", err
			}
			if err := s.store.Update(task.VideoID, map[string]interface{}{
				"audio_path": dst,
			}); err != nil {
				return "", err
			}
			s.log.Infof("音频已从视频中提取: %s", dst)
			return dst, nil
		}
	}

	stream := s.pickAudioStream(video)
	if stream == nil {
		return "", fmt.Errorf("%w: 视频 %s 没有满足条件的音频流", youtube.ErrNoStream, task.VideoID)
	}

	staging := filepath.Join(cfg.TempDir, uuid.NewString()+"."+stream.Subtype())
	if err := s.fetcher.Download(ctx, stream, cfg.TempDir, filepath.Base(staging)); err != nil {
		return "", err
	}
	defer os.Remove(staging)

	if err := s.transcoder.ExtractAudio(ctx, staging, dst, cfg.AudioBitrate); err != nil {
		return "", err
	}

	if cfg.KeepOriginalAudio {
		base := strings.TrimSuffix(task.FinalAudio, filepath.Ext(task.FinalAudio))
		origDst := filepath.Join(dirs.Audio, base+"."+stream.Subtype())
		if err := moveFile(staging, origDst); err != nil {
			s.log.Warnf("保留原始音频容器失败: %v", err)
		}
	}

	if err := s.store.Update(task.VideoID, map[string]interface{}{
		"audio_path": dst,
	}); err != nil {
		return "", err
	}
	s.log.Infof("音频已保存: %s", dst)
	return dst, nil
}

// pickAudioStream 按配置的过滤链选音频流，逐级放宽容器约束
func (s *DownloadService) pickAudioStream(video *youtube.Video) *youtube.Stream {
	cfg := s.cfg.Download

	filtered := video.Streams.Filter(youtube.StreamFilter{
		MimeType:  "audio/" + cfg.AudioMime,
		Abr:       cfg.AudioBitrate,
		AudioOnly: true,
	})
	if stream := filtered.First(); stream != nil {
		return stream
	}
	if stream := video.Streams.AudioOnly(cfg.AudioMime); stream != nil {
		return stream
	}
	return video.Streams.AudioOnly("")
}

// mergeAudioBack 把转码后的音频合并回视频文件。
// 视频本身已有音轨时跳过，避免重复合并。
func (s *DownloadService) mergeAudioBack(ctx context.Context, task *model.DownloadTask, videoPath, audioPath string) error {
	if s.cfg.Download.DryRun {
		s.log.Infof("[试运行] 合并音频 %s -> %s", audioPath, videoPath)
		return nil
	}

	probe, err := s.transcoder.Probe(ctx, videoPath)
	if err != nil {
		return err
	}
	if probe.HasAudio {
		s.log.Debugf("视频 %s 已有音轨，跳过合并", task.VideoID)
		return nil
	}

	merged := filepath.Join(s.cfg.Download.TempDir, uuid.NewString()+filepath.Ext(videoPath))
	if err := s.transcoder.Mux(ctx, videoPath, audioPath, merged); err != nil {
		os.Remove(merged)
		return err
	}

	if s.cfg.Download.KeepOriginalVideo {
		ext := filepath.Ext(videoPath)
		origDst := strings.TrimSuffix(videoPath, ext) + "_original" + ext
		if err := moveFile(videoPath, origDst); err != nil {
			os.Remove(merged)
			return fmt.Errorf("保留原始视频失败: %w", err)
		}
	}

	if err := moveFile(merged, videoPath); err != nil {
		os.Remove(merged)
		return fmt.Errorf("替换合并后的视频失败: %w", err)
	}
	s.log.Infof("音频已合并回视频: %s", videoPath)
	return nil
}

// finalize 计算产出文件的内容摘要并把任务标记为已完成
func (s *DownloadService) finalize(task *model.DownloadTask, videoPath, audioPath string) error {
	updates := map[string]interface{}{
		"status":        model.TaskStatusCompleted,
		"error_message": "",
	}

	if videoPath != "" && !s.cfg.Download.DryRun {
		if hash, err := hasher.FileSHA256(videoPath); err == nil {
			updates["video_hash"] = hash
		} else {
			s.log.Warnf("计算视频摘要失败 %s: %v", videoPath, err)
		}
	}
	if audioPath != "" && !s.cfg.Download.DryRun {
		if hash, err := hasher.FileSHA256(audioPath); err == nil {
			updates["audio_hash"] = hash
		} else {
			s.log.Warnf("计算音频摘要失败 %s: %v", audioPath, err)
		}
	}

	if err := s.store.Update(task.VideoID, updates); err != nil {
		return err
	}
	s.log.Infof("任务完成: %s (%s)", task.VideoID, task.FinalVideo)
	return nil
}

// moveFile 移动文件，跨文件系统时退化为复制加删除
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
