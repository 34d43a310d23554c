package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tube-keeper/app/config"
	"tube-keeper/app/database"
	"tube-keeper/app/logger"
	"tube-keeper/app/media/ffmpeg"
	"tube-keeper/app/media/youtube"
	"tube-keeper/app/service"
	"tube-keeper/app/store"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download [url...]",
	Short: "执行下载",
	Long:  "下载命令行给出的视频，没有参数时执行配置中声明的全部下载",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		log := logger.New(cfg.Log)
		defer log.Sync()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		taskStore := store.NewTaskStore(database.GetDB(), log, cfg)
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

		// Ctrl+C 取消批处理，当前项收尾后退出
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) > 0 {
			dirs := download.DefaultDirs()
			for _, url := range args {
				if ctx.Err() != nil {
					break
				}
				if err := download.DownloadVideo(ctx, url, dirs); err != nil {
					log.Errorf("视频下载失败 %s: %v", url, err)
				}
			}
			return
		}

		if err := download.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("批量下载失败: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}
