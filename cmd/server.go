package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tube-keeper/app/config"
	"tube-keeper/app/database"
	"tube-keeper/app/filewatcher"
	"tube-keeper/app/logger"
	"tube-keeper/app/media/ffmpeg"
	"tube-keeper/app/media/youtube"
	"tube-keeper/app/server"
	"tube-keeper/app/service"
	"tube-keeper/app/store"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动服务器",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Sync()

		// 初始化数据库
		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}

		taskStore := store.NewTaskStore(database.GetDB(), log, cfg)

		// 上次运行遗留的进行中任务重置为待处理
		if err := taskStore.ResetStale(); err != nil {
			log.Errorf("重置遗留任务失败: %v", err)
		}

		client := youtube.NewClient(log)
		defer client.Close()

		transcoder := ffmpeg.NewRunner(log, ffmpeg.Options{
			VideoCodec: cfg.Download.MergeVideoCodec,
			AudioCodec: cfg.Download.MergeAudioCodec,
		})
		download := service.NewDownloadService(cfg, log, taskStore, client, client, transcoder)
		audit := service.NewAuditService(cfg, log, taskStore)

		watcher, err := filewatcher.New(cfg, log, taskStore)
		if err != nil {
			log.Warnf("创建输出目录监控失败: %v", err)
		}

		srv := server.New(cfg, log, taskStore, download, audit, watcher)

		// 在协程中启动服务器
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("启动服务器失败: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，正在关闭服务器...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("服务器关闭失败: %v", err)
		}
		log.Info("服务器已退出")
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
