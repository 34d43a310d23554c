package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"tube-keeper/app/logger"
)

// Probe 探测结果
type Probe struct {
	Path     string
	Duration float64 // 秒
	HasAudio bool
	HasVideo bool
}

// Transcoder 音视频处理协作方的契约，测试用假实现替换
type Transcoder interface {
	// Probe 探测文件的轨道构成和时长
	Probe(ctx context.Context, path string) (*Probe, error)
	// ExtractAudio 从 src 中提取音频轨，按目标扩展名转码写到 dst
	ExtractAudio(ctx context.Context, src, dst, bitrate string) error
	// Mux 把 videoSrc 的视频轨和 audioSrc 的音频轨合并写到 dst
	Mux(ctx context.Context, videoSrc, audioSrc, dst string) error
}

// Options 转码选项
type Options struct {
	// Mux 时的编码方式，"copy" 表示不重新编码
	VideoCodec string
	AudioCodec string
}

// Runner 调用本机 ffmpeg/ffprobe 可执行文件的实现
type Runner struct {
	log  *logger.Logger
	opts Options
}

// NewRunner 创建转码器，要求 PATH 中有 ffmpeg 和 ffprobe
func NewRunner(log *logger.Logger, opts Options) *Runner {
	if opts.VideoCodec == "" {
		opts.VideoCodec = "copy"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "copy"
	}
	return &Runner{log: log, opts: opts}
}

// ffprobe 的 JSON 输出结构（只取需要的字段）
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe 用 ffprobe 探测文件的轨道构成和时长
func (r *Runner) Probe(ctx context.Context, path string) (*Probe, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("探测目标不存在: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe 执行失败: %w", err)
	}

	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return nil, fmt.Errorf("解析 ffprobe 输出失败: %w", err)
	}

	p := &Probe{Path: path}
	p.Duration, _ = strconv.ParseFloat(po.Format.Duration, 64)
	for _, s := range po.Streams {
		switch s.CodecType {
		case "audio":
			p.HasAudio = true
		case "video":
			p.HasVideo = true
		}
	}
	return p, nil
}

// ExtractAudio 从 src 中提取音频轨并转码到 dst，容器由 dst 的扩展名决定
func (r *Runner) ExtractAudio(ctx context.Context, src, dst, bitrate string) error {
	args := []string{"-y", "-i", src, "-vn"}
	if bitrate != "" {
		args = append(args, "-b:a", normalizeBitrate(bitrate))
	}
	args = append(args, dst)

	r.log.Infof("提取音频: %s -> %s", src, dst)
	return r.run(ctx, args)
}

// Mux 把 videoSrc 的视频轨和 audioSrc 的音频轨合并到 dst
func (r *Runner) Mux(ctx context.Context, videoSrc, audioSrc, dst string) error {
	args := []string{
		"-y",
		"-i", videoSrc,
		"-i", audioSrc,
		"-c:v", r.opts.VideoCodec,
		"-c:a", r.opts.AudioCodec,
		"-map", "0:v:0",
		"-map", "1:a:0",
		dst,
	}

	r.log.Infof("合并音视频: %s + %s -> %s", videoSrc, audioSrc, dst)
	return r.run(ctx, args)
}

func (r *Runner) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// ffmpeg 的错误信息在输出末尾，只保留最后几行
		return fmt.Errorf("ffmpeg 执行失败: %w: %s", err, lastLines(string(out), 5))
	}
	return nil
}

// normalizeBitrate 把 "128kbps" 规整成 ffmpeg 接受的 "128k"
func normalizeBitrate(abr string) string {
	abr = strings.TrimSuffix(abr, "bps")
	if !strings.HasSuffix(abr, "k") {
		abr += "k"
	}
	return abr
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
