package filewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tube-keeper/app/config"
	"tube-keeper/app/logger"
	"tube-keeper/app/store"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监控输出目录，产出文件被外部删除或改名时发出告警。
// 数据库里的完成状态以磁盘文件为依据，文件丢了需要尽早知道。
type Watcher struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.TaskStore
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex
}

// New 创建输出目录监控器
func New(cfg *config.Config, log *logger.Logger, taskStore *store.TaskStore) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		log:     log,
		store:   taskStore,
		watcher: fsw,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动监控，覆盖默认输出目录和集合输出根目录
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("输出目录监控器已经在运行")
	}

	dirs := []string{
		w.cfg.Download.VideoDir,
		w.cfg.Download.AudioDir,
		w.cfg.Download.BasePath,
	}
	added := 0
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warnf("添加目录监控失败: %s, 错误: %v", dir, err)
			continue
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("没有任何可监控的输出目录")
	}

	w.watching = true
	w.wg.Add(1)
	go w.watchLoop()

	w.log.Infof("输出目录监控器已启动，共监控 %d 个目录", added)
	return nil
}

// Stop 停止监控
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
	w.watching = false

	w.log.Infof("输出目录监控器已停止")
	return nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("输出目录监控器错误: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// 集合下载会在输出根目录下新建子目录，跟着加入监控
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Warnf("添加新目录监控失败: %s, 错误: %v", event.Name, err)
			}
		}
		return
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	filename := filepath.Base(event.Name)
	task, err := w.store.FindByFinalName(filename)
	if err != nil {
		w.log.Warnf("反查产出文件对应的任务失败 %s: %v", filename, err)
		return
	}
	if task == nil || !task.IsCompleted() {
		return
	}

	w.log.Warnf("已完成任务的产出文件被外部移除: %s (任务 %s)，数据库状态与磁盘已不一致，建议执行对账",
		event.Name, task.VideoID)
}
