package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"tube-keeper/app/config"
	"tube-keeper/app/logger"
	"tube-keeper/app/media/ffmpeg"
	"tube-keeper/app/media/youtube"
	"tube-keeper/app/model"
	"tube-keeper/app/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testVideoID = "dQw4w9WgXcQ"
const testURL = "https://www.youtube.com/watch?v=" + testVideoID

// fakeFetcher 记录调用次数的假抓取器
type fakeFetcher struct {
	video         *youtube.Video
	resolveErr    error
	failDownloads int // 前 N 次下载返回瞬时错误

	resolveCalls  int
	downloadCalls int
	captionCalls  int
}

func (f *fakeFetcher) Resolve(ctx context.Context, url string) (*youtube.Video, error) {
	f.resolveCalls++
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.video, nil
}

func (f *fakeFetcher) Download(ctx context.Context, s *youtube.Stream, dir, filename string) error {
	f.downloadCalls++
	if f.downloadCalls <= f.failDownloads {
		return errors.New("connection reset")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filename), []byte("stream-bytes-"+fmt.Sprint(s.Itag)), 0644)
}

func (f *fakeFetcher) SaveCaption(ctx context.Context, t youtube.CaptionTrack, path string) error {
	f.captionCalls++
	return os.WriteFile(path, []byte("caption "+t.Code), 0644)
}

func (f *fakeFetcher) FetchThumbnail(ctx context.Context, url, path string) error {
	return os.WriteFile(path, []byte("jpg"), 0644)
}

// fakeTranscoder 假转码器，探测结果可配置
type fakeTranscoder struct {
	hasAudio bool

	extractCalls int
	muxCalls     int
}

func (f *fakeTranscoder) Probe(ctx context.Context, path string) (*ffmpeg.Probe, error) {
	return &ffmpeg.Probe{Path: path, Duration: 212, HasVideo: true, HasAudio: f.hasAudio}, nil
}

func (f *fakeTranscoder) ExtractAudio(ctx context.Context, src, dst, bitrate string) error {
	f.extractCalls++
	return os.WriteFile(dst, []byte("audio-from-"+filepath.Base(src)), 0644)
}

func (f *fakeTranscoder) Mux(ctx context.Context, videoSrc, audioSrc, dst string) error {
	f.muxCalls++
	return os.WriteFile(dst, []byte("muxed"), 0644)
}

// fakeEnumerator 返回固定集合的假枚举器
type fakeEnumerator struct {
	col *youtube.Collection
}

func (f *fakeEnumerator) Playlist(ctx context.Context, url string) (*youtube.Collection, error) {
	return f.col, nil
}

func (f *fakeEnumerator) Channel(ctx context.Context, url string) (*youtube.Collection, error) {
	return f.col, nil
}

func (f *fakeEnumerator) Search(ctx context.Context, opts youtube.SearchOptions) (*youtube.Collection, error) {
	return f.col, nil
}

func testVideo() *youtube.Video {
	return &youtube.Video{
		ID:    testVideoID,
		Title: "My Cool Song",
		Captions: []youtube.CaptionTrack{
			{Code: "en", Name: "English", URL: "http://example.test/en"},
		},
		Streams: youtube.NewCatalog([]*youtube.Stream{
			{Itag: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Resolution: "720p", Bitrate: 2_000_000, URL: "http://example.test/v"},
			{Itag: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Abr: "128kbps", Bitrate: 130_000, URL: "http://example.test/a"},
		}),
	}
}

func newTestService(t *testing.T, fetcher *fakeFetcher, transcoder *fakeTranscoder) (*DownloadService, *store.TaskStore, store.Dirs) {
	t.Helper()

	root := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(root, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.DownloadTask{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	cfg := &config.Config{}
	cfg.Download.BasePath = filepath.Join(root, "media")
	cfg.Download.VideoDir = filepath.Join(root, "media", "video")
	cfg.Download.AudioDir = filepath.Join(root, "media", "audio")
	cfg.Download.TempDir = filepath.Join(root, "temp")
	cfg.Download.MaxFileLength = 63
	cfg.Download.MaxNameAttempts = 100
	cfg.Download.Caption = true
	cfg.Download.Video = true
	cfg.Download.VideoExt = "mp4"
	cfg.Download.VideoMime = "mp4"
	cfg.Download.VideoRes = "720p"
	cfg.Download.OrderBy = "itag"
	cfg.Download.Audio = true
	cfg.Download.AudioExt = "mp3"
	cfg.Download.AudioMime = "mp4"
	cfg.Download.AudioBitrate = "128kbps"
	cfg.Download.Merge = true
	cfg.Download.Retries = 1
	cfg.Download.RetryDelay = 0

	if err := os.MkdirAll(cfg.Download.TempDir, 0755); err != nil {
		t.Fatal(err)
	}

	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	taskStore := store.NewTaskStore(db, log, cfg)
	svc := NewDownloadService(cfg, log, taskStore, fetcher, &fakeEnumerator{}, transcoder)

	return svc, taskStore, store.Dirs{Video: cfg.Download.VideoDir, Audio: cfg.Download.AudioDir}
}

func TestDownloadVideoFresh(t *testing.T) {
	fetcher := &fakeFetcher{video: testVideo()}
	transcoder := &fakeTranscoder{hasAudio: true}
	svc, taskStore, dirs := newTestService(t, fetcher, transcoder)

	if err := svc.DownloadVideo(context.Background(), testURL, dirs); err != nil {
		t.Fatalf("下载失败: %v", err)
	}

	task, err := taskStore.Get(testVideoID)
	if err != nil || task == nil {
		t.Fatalf("任务不存在: %v", err)
	}
	if task.Status != model.TaskStatusCompleted {
		t.Fatalf("任务状态 = %q, want completed, 错误: %s", task.Status, task.ErrorMessage)
	}
	if task.VideoHash == "" || task.AudioHash == "" {
		t.Error("完成的任务应记录内容摘要")
	}

	videoPath := filepath.Join(dirs.Video, "My_Cool_Song.mp4")
	if _, err := os.Stat(videoPath); err != nil {
		t.Errorf("视频产出文件不存在: %v", err)
	}
	audioPath := filepath.Join(dirs.Audio, "My_Cool_Song.mp3")
	if _, err := os.Stat(audioPath); err != nil {
		t.Errorf("音频产出文件不存在: %v", err)
	}
	captionPath := filepath.Join(dirs.Video, "My_Cool_Song.en.txt")
	if _, err := os.Stat(captionPath); err != nil {
		t.Errorf("字幕产出文件不存在: %v", err)
	}

	// 视频自带音轨时音频直接提取，不单独下载音频流，也不需要合并
	if fetcher.downloadCalls != 1 {
		t.Errorf("下载调用次数 = %d, want 1", fetcher.downloadCalls)
	}
	if transcoder.extractCalls != 1 {
		t.Errorf("提取调用次数 = %d, want 1", transcoder.extractCalls)
	}
	if transcoder.muxCalls != 0 {
		t.Errorf("合并调用次数 = %d, want 0", transcoder.muxCalls)
	}
}

func TestDownloadVideoSkipsCompleted(t *testing.T) {
	fetcher := &fakeFetcher{video: testVideo()}
	transcoder := &fakeTranscoder{hasAudio: true}
	svc, _, dirs := newTestService(t, fetcher, transcoder)

	if err := svc.DownloadVideo(context.Background(), testURL, dirs); err != nil {
		t.Fatalf("首次下载失败: %v", err)
	}
	resolveAfterFirst := fetcher.resolveCalls
	downloadAfterFirst := fetcher.downloadCalls

	// 重跑同一个视频：任何抓取调用都不应发生
	if err := svc.DownloadVideo(context.Background(), testURL, dirs); err != nil {
		t.Fatalf("重跑失败: %v", err)
	}
	if fetcher.resolveCalls != resolveAfterFirst {
		t.Errorf("重跑触发了元数据解析: %d -> %d", resolveAfterFirst, fetcher.resolveCalls)
	}
	if fetcher.downloadCalls != downloadAfterFirst {
		t.Errorf("重跑触发了下载: %d -> %d", downloadAfterFirst, fetcher.downloadCalls)
	}
}

func TestDownloadVideoTerminalErrorNoRetry(t *testing.T) {
	fetcher := &fakeFetcher{resolveErr: fmt.Errorf("%w: Video unavailable", youtube.ErrUnavailable)}
	transcoder := &fakeTranscoder{}
	svc, _, dirs := newTestService(t, fetcher, transcoder)
	svc.cfg.Download.Retries = 3

	err := svc.DownloadVideo(context.Background(), testURL, dirs)
	if !errors.Is(err, youtube.ErrUnavailable) {
		t.Fatalf("期望 ErrUnavailable, 得到 %v", err)
	}
	if fetcher.resolveCalls != 1 {
		t.Errorf("终止类错误不应重试, 解析调用次数 = %d", fetcher.resolveCalls)
	}
}

func TestDownloadVideoTransientErrorRetries(t *testing.T) {
	fetcher := &fakeFetcher{video: testVideo(), failDownloads: 1}
	transcoder := &fakeTranscoder{hasAudio: true}
	svc, taskStore, dirs := newTestService(t, fetcher, transcoder)
	svc.cfg.Download.Retries = 2

	if err := svc.DownloadVideo(context.Background(), testURL, dirs); err != nil {
		t.Fatalf("重试后仍失败: %v", err)
	}

	task, _ := taskStore.Get(testVideoID)
	if task == nil || task.Status != model.TaskStatusCompleted {
		t.Fatalf("重试后任务应完成, 得到 %+v", task)
	}
	if task.RetryCount != 1 {
		t.Errorf("重试次数 = %d, want 1", task.RetryCount)
	}
	if fetcher.downloadCalls != 2 {
		t.Errorf("下载调用次数 = %d, want 2", fetcher.downloadCalls)
	}
}

func TestDownloadVideoMergesWhenNoAudioTrack(t *testing.T) {
	fetcher := &fakeFetcher{video: testVideo()}
	transcoder := &fakeTranscoder{hasAudio: false}
	svc, taskStore, dirs := newTestService(t, fetcher, transcoder)

	if err := svc.DownloadVideo(context.Background(), testURL, dirs); err != nil {
		t.Fatalf("下载失败: %v", err)
	}

	// 视频没有音轨：单独下载音频流、转码、再合并回视频
	if fetcher.downloadCalls != 2 {
		t.Errorf("下载调用次数 = %d, want 2（视频流和音频流）", fetcher.downloadCalls)
	}
	if transcoder.extractCalls != 1 {
		t.Errorf("提取调用次数 = %d, want 1", transcoder.extractCalls)
	}
	if transcoder.muxCalls != 1 {
		t.Errorf("合并调用次数 = %d, want 1", transcoder.muxCalls)
	}

	task, _ := taskStore.Get(testVideoID)
	if task == nil || task.Status != model.TaskStatusCompleted {
		t.Fatalf("任务应完成, 得到 %+v", task)
	}

	// 合并后的内容替换了原始视频
	videoPath := filepath.Join(dirs.Video, "My_Cool_Song.mp4")
	data, err := os.ReadFile(videoPath)
	if err != nil {
		t.Fatalf("读取视频产出失败: %v", err)
	}
	if string(data) != "muxed" {
		t.Errorf("视频产出应是合并后的内容, 得到 %q", data)
	}
}

func TestDownloadVideoBadReference(t *testing.T) {
	fetcher := &fakeFetcher{video: testVideo()}
	transcoder := &fakeTranscoder{}
	svc, taskStore, dirs := newTestService(t, fetcher, transcoder)

	err := svc.DownloadVideo(context.Background(), "https://example.com/not-a-video", dirs)
	if !errors.Is(err, youtube.ErrBadReference) {
		t.Fatalf("期望 ErrBadReference, 得到 %v", err)
	}
	if fetcher.resolveCalls != 0 {
		t.Error("无法解析的引用不应触发元数据解析")
	}

	tasks, _ := taskStore.List()
	if len(tasks) != 0 {
		t.Errorf("无法解析的引用不应创建任务, 得到 %d 行", len(tasks))
	}
}

func TestRunCollectionUsesDerivedDirs(t *testing.T) {
	fetcher := &fakeFetcher{video: testVideo()}
	transcoder := &fakeTranscoder{hasAudio: true}
	svc, taskStore, _ := newTestService(t, fetcher, transcoder)

	col := &youtube.Collection{
		ID:    "PLtest",
		Title: "Best Playlist",
		Videos: []youtube.VideoRef{
			{ID: testVideoID, Title: "My Cool Song", WatchURL: testURL},
		},
	}
	svc.runCollection(context.Background(), col)

	task, _ := taskStore.Get(testVideoID)
	if task == nil || task.Status != model.TaskStatusCompleted {
		t.Fatalf("集合成员任务应完成, 得到 %+v", task)
	}

	wantVideo := filepath.Join(svc.cfg.Download.BasePath, "Best_Playlist", "My_Cool_Song.mp4")
	if _, err := os.Stat(wantVideo); err != nil {
		t.Errorf("集合视频应输出到派生目录 %s: %v", wantVideo, err)
	}
	wantAudio := filepath.Join(svc.cfg.Download.BasePath, "Best_Playlist-Audio", "My_Cool_Song.mp3")
	if _, err := os.Stat(wantAudio); err != nil {
		t.Errorf("集合音频应输出到派生目录 %s: %v", wantAudio, err)
	}
}
