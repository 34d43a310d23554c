package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tube-keeper/app/config"
	"tube-keeper/app/logger"
	"tube-keeper/app/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*TaskStore, Dirs) {
	t.Helper()

	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.DownloadTask{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	cfg := &config.Config{}
	cfg.Download.VideoExt = "mp4"
	cfg.Download.AudioExt = "mp3"
	cfg.Download.MaxFileLength = 63
	cfg.Download.MaxNameAttempts = 100

	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})

	dirs := Dirs{
		Video: filepath.Join(dir, "video"),
		Audio: filepath.Join(dir, "audio"),
	}
	return NewTaskStore(db, log, cfg), dirs
}

func TestGetAbsent(t *testing.T) {
	s, _ := newTestStore(t)

	task, err := s.Get("dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Get 返回错误: %v", err)
	}
	if task != nil {
		t.Fatalf("不存在的任务应返回 nil, 得到 %+v", task)
	}
}

func TestAddIdempotent(t *testing.T) {
	s, dirs := newTestStore(t)

	first, err := s.Add("dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "My Cool Song", dirs)
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if first.FinalVideo != "My_Cool_Song.mp4" {
		t.Errorf("FinalVideo = %q, want My_Cool_Song.mp4", first.FinalVideo)
	}
	if first.FinalAudio != "My_Cool_Song.mp3" {
		t.Errorf("FinalAudio = %q, want My_Cool_Song.mp3", first.FinalAudio)
	}
	if first.Status != model.TaskStatusPending {
		t.Errorf("新任务状态 = %q, want pending", first.Status)
	}

	// 重复添加返回同一行，不会新建
	second, err := s.Add("dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "My Cool Song", dirs)
	if err != nil {
		t.Fatalf("重复添加失败: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("重复添加产生了新行: %d != %d", second.ID, first.ID)
	}

	count, err := s.CountByVideoID("dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if count != 1 {
		t.Errorf("任务行数 = %d, want 1", count)
	}
}

func TestAddNameCollision(t *testing.T) {
	s, dirs := newTestStore(t)

	// 两个不同的视频，标题相同
	first, err := s.Add("aaaaaaaaaaa", "https://youtu.be/aaaaaaaaaaa", "Same Title", dirs)
	if err != nil {
		t.Fatalf("创建第一个任务失败: %v", err)
	}
	second, err := s.Add("bbbbbbbbbbb", "https://youtu.be/bbbbbbbbbbb", "Same Title", dirs)
	if err != nil {
		t.Fatalf("创建第二个任务失败: %v", err)
	}

	if first.FinalVideo != "Same_Title.mp4" {
		t.Errorf("第一个任务 FinalVideo = %q", first.FinalVideo)
	}
	if second.FinalVideo != "Same_Title_1.mp4" {
		t.Errorf("第二个任务应追加序号, FinalVideo = %q", second.FinalVideo)
	}
	if second.FinalAudio != "Same_Title_1.mp3" {
		t.Errorf("音频文件名应使用同一个序号, FinalAudio = %q", second.FinalAudio)
	}
}

func TestAddConcurrentSameTitle(t *testing.T) {
	s, dirs := newTestStore(t)

	// 并发为不同视频提交相同标题，最终文件名必须两两不同
	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			videoID := fmt.Sprintf("%011d", n)
			_, errs[n] = s.Add(videoID, "https://youtu.be/"+videoID, "Same Title", dirs)
		}(i)
	}
	wg.Wait()

	for n, err := range errs {
		if err != nil {
			t.Fatalf("第 %d 个并发创建失败: %v", n, err)
		}
	}

	tasks, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != workers {
		t.Fatalf("任务行数 = %d, want %d", len(tasks), workers)
	}

	seenVideo := make(map[string]string)
	seenAudio := make(map[string]string)
	for _, task := range tasks {
		if prev, ok := seenVideo[task.FinalVideo]; ok {
			t.Errorf("视频文件名冲突: %s 和 %s 都分到了 %q", prev, task.VideoID, task.FinalVideo)
		}
		seenVideo[task.FinalVideo] = task.VideoID
		if prev, ok := seenAudio[task.FinalAudio]; ok {
			t.Errorf("音频文件名冲突: %s 和 %s 都分到了 %q", prev, task.VideoID, task.FinalAudio)
		}
		seenAudio[task.FinalAudio] = task.VideoID
	}
}

func TestAddDiskCollision(t *testing.T) {
	s, dirs := newTestStore(t)

	// 磁盘上已有同名文件但数据库里没有任务
	if err := os.MkdirAll(dirs.Video, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dirs.Video, "Occupied.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	task, err := s.Add("ccccccccccc", "https://youtu.be/ccccccccccc", "Occupied", dirs)
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if task.FinalVideo != "Occupied_1.mp4" {
		t.Errorf("磁盘冲突应追加序号, FinalVideo = %q", task.FinalVideo)
	}
}

func TestAddEmptyTitleFallsBackToVideoID(t *testing.T) {
	s, dirs := newTestStore(t)

	task, err := s.Add("ddddddddddd", "https://youtu.be/ddddddddddd", "｜｜｜", dirs)
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if task.SuggestedName != "ddddddddddd" {
		t.Errorf("标题规范化为空时应回退到视频ID, SuggestedName = %q", task.SuggestedName)
	}
}

func TestUpdateWhitelist(t *testing.T) {
	s, dirs := newTestStore(t)

	if _, err := s.Add("eeeeeeeeeee", "https://youtu.be/eeeeeeeeeee", "Title", dirs); err != nil {
		t.Fatal(err)
	}

	err := s.Update("eeeeeeeeeee", map[string]interface{}{
		"status":      model.TaskStatusCompleted,
		"video_path":  "/tmp/v.mp4",
		"final_video": "hacked.mp4", // 不在白名单内
	})
	if err != nil {
		t.Fatalf("更新失败: %v", err)
	}

	task, _ := s.Get("eeeeeeeeeee")
	if task.Status != model.TaskStatusCompleted {
		t.Errorf("状态未更新: %q", task.Status)
	}
	if task.VideoPath != "/tmp/v.mp4" {
		t.Errorf("视频路径未更新: %q", task.VideoPath)
	}
	if task.FinalVideo == "hacked.mp4" {
		t.Error("白名单外的列不应被更新")
	}

	// 空更新只告警不报错
	if err := s.Update("eeeeeeeeeee", map[string]interface{}{"bogus": 1}); err != nil {
		t.Errorf("空更新不应报错: %v", err)
	}
}

func TestResetStale(t *testing.T) {
	s, dirs := newTestStore(t)

	for _, id := range []string{"fffffffffff", "ggggggggggg"} {
		if _, err := s.Add(id, "https://youtu.be/"+id, "T "+id, dirs); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Update("fffffffffff", map[string]interface{}{"status": model.TaskStatusInProgress}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("ggggggggggg", map[string]interface{}{"status": model.TaskStatusCompleted}); err != nil {
		t.Fatal(err)
	}

	if err := s.ResetStale(); err != nil {
		t.Fatalf("重置失败: %v", err)
	}

	first, _ := s.Get("fffffffffff")
	if first.Status != model.TaskStatusPending {
		t.Errorf("进行中任务应被重置为 pending, 得到 %q", first.Status)
	}
	second, _ := s.Get("ggggggggggg")
	if second.Status != model.TaskStatusCompleted {
		t.Errorf("已完成任务不应被重置, 得到 %q", second.Status)
	}
}

func TestStats(t *testing.T) {
	s, dirs := newTestStore(t)

	for _, id := range []string{"hhhhhhhhhhh", "iiiiiiiiiii", "jjjjjjjjjjj"} {
		if _, err := s.Add(id, "https://youtu.be/"+id, "T "+id, dirs); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Update("hhhhhhhhhhh", map[string]interface{}{"status": model.TaskStatusCompleted}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats[string(model.TaskStatusPending)] != 2 {
		t.Errorf("pending = %d, want 2", stats[string(model.TaskStatusPending)])
	}
	if stats[string(model.TaskStatusCompleted)] != 1 {
		t.Errorf("completed = %d, want 1", stats[string(model.TaskStatusCompleted)])
	}
}
