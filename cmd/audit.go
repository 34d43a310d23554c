package cmd

import (
	"encoding/json"
	"fmt"

	"tube-keeper/app/config"
	"tube-keeper/app/database"
	"tube-keeper/app/logger"
	"tube-keeper/app/service"
	"tube-keeper/app/store"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "执行一次对账",
	Long:  "检查数据库和磁盘的一致性：丢失的产出文件、重复标题、音视频产出缺口",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		log := logger.New(cfg.Log)
		defer log.Sync()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		taskStore := store.NewTaskStore(database.GetDB(), log, cfg)
		audit := service.NewAuditService(cfg, log, taskStore)

		report, err := audit.RunAll()
		if err != nil {
			log.Fatalf("对账执行失败: %v", err)
		}

		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))

		if report.Total() > 0 {
			log.Warnf("对账发现 %d 个问题", report.Total())
		} else {
			log.Info("对账未发现问题")
		}
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
