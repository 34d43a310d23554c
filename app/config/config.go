package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Download DownloadConfig `mapstructure:"download"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

// DownloadConfig 下载管线配置，每个步骤的开关和参数
type DownloadConfig struct {
	BasePath string `mapstructure:"base_path"` // 输出根目录
	VideoDir string `mapstructure:"video_dir"` // 视频输出目录
	AudioDir string `mapstructure:"audio_dir"` // 音频输出目录
	TempDir  string `mapstructure:"temp_dir"`  // 暂存目录

	MaxFileLength   int  `mapstructure:"max_file_length"`   // 文件名最大长度
	MaxNameAttempts int  `mapstructure:"max_name_attempts"` // 文件名冲突解析的尝试上限
	DryRun          bool `mapstructure:"dry_run"`

	Caption bool `mapstructure:"caption"` // 是否下载字幕

	Video             bool   `mapstructure:"video"` // 是否下载视频
	VideoExt          string `mapstructure:"video_ext"`
	VideoMime         string `mapstructure:"video_mime"`
	VideoRes          string `mapstructure:"video_res"`
	OrderBy           string `mapstructure:"order_by"`    // 流排序字段
	Progressive       bool   `mapstructure:"progressive"` // 是否只要渐进式流
	KeepOriginalVideo bool   `mapstructure:"keep_original_video"`

	Audio             bool   `mapstructure:"audio"` // 是否下载音频
	AudioExt          string `mapstructure:"audio_ext"`
	AudioMime         string `mapstructure:"audio_mime"`
	AudioBitrate      string `mapstructure:"audio_bitrate"`
	KeepOriginalAudio bool   `mapstructure:"keep_original_audio"`

	Merge           bool   `mapstructure:"merge"` // 是否把重编码后的音频合并回视频
	MergeVideoCodec string `mapstructure:"merge_video_codec"`
	MergeAudioCodec string `mapstructure:"merge_audio_codec"`

	Thumbnail bool `mapstructure:"thumbnail"` // 是否保存缩略图预览

	Retries    int `mapstructure:"retries"`     // 单个视频例程的重试次数
	RetryDelay int `mapstructure:"retry_delay"` // 重试间隔（秒）

	DedupByContent bool `mapstructure:"dedup_by_content"` // 按内容哈希去重（替代按文件名去重）

	Videos    []string      `mapstructure:"videos"`    // 单个视频 URL 列表
	Playlists []string      `mapstructure:"playlists"` // 播放列表 URL 列表
	Channels  []string      `mapstructure:"channels"`  // 频道 URL 列表
	Searches  []SearchQuery `mapstructure:"searches"`  // 搜索查询列表
}

// SearchQuery 搜索下载的查询参数
type SearchQuery struct {
	Query  string `mapstructure:"query"`
	SortBy string `mapstructure:"sort_by"` // relevance, upload_date, view_count, rating
	TopN   int    `mapstructure:"top_n"`   // 取前 N 条结果
}

// AuditConfig 对账任务配置
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // cron 表达式，例如 "0 3 * * *"
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "tube-keeper")

	// 下载默认配置
	viper.SetDefault("download.base_path", "data/media")
	viper.SetDefault("download.video_dir", "data/media/video")
	viper.SetDefault("download.audio_dir", "data/media/audio")
	viper.SetDefault("download.temp_dir", "data/temp")
	viper.SetDefault("download.max_file_length", 63)
	viper.SetDefault("download.max_name_attempts", 100)
	viper.SetDefault("download.caption", true)
	viper.SetDefault("download.video", true)
	viper.SetDefault("download.video_ext", "mp4")
	viper.SetDefault("download.video_mime", "mp4")
	viper.SetDefault("download.video_res", "1080p")
	viper.SetDefault("download.order_by", "itag")
	viper.SetDefault("download.progressive", false)
	viper.SetDefault("download.keep_original_video", false)
	viper.SetDefault("download.audio", true)
	viper.SetDefault("download.audio_ext", "mp3")
	viper.SetDefault("download.audio_mime", "mp4")
	viper.SetDefault("download.audio_bitrate", "128kbps")
	viper.SetDefault("download.keep_original_audio", false)
	viper.SetDefault("download.merge", true)
	viper.SetDefault("download.merge_audio_codec", "aac")
	viper.SetDefault("download.thumbnail", false)
	viper.SetDefault("download.retries", 3)
	viper.SetDefault("download.retry_delay", 30)
	viper.SetDefault("download.dedup_by_content", false)

	// 对账默认配置
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.cron", "0 3 * * *")
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Download.MaxFileLength <= 0 {
		return fmt.Errorf("文件名最大长度必须大于 0")
	}
	if config.Download.MaxNameAttempts <= 0 {
		return fmt.Errorf("文件名冲突解析尝试上限必须大于 0")
	}
	return nil
}
