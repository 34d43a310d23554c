package database

import "tube-keeper/app/model"

func AutoMigrate() error {
	// 自动迁移表结构
	return DB.AutoMigrate(
		&model.User{},
		&model.DownloadTask{},
	)
}
