package youtube

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Video 解析后的视频元数据和可用流目录
type Video struct {
	ID           string
	Title        string
	Author       string
	Duration     time.Duration
	ThumbnailURL string
	Captions     []CaptionTrack
	Streams      *Catalog
}

// CaptionTrack 一条字幕轨
type CaptionTrack struct {
	Code string // 语言代码，例如 "en"、"zh-Hant"
	Name string
	URL  string // timedtext 地址
}

// Stream 一条可下载的媒体流
type Stream struct {
	Itag          int
	MimeType      string // 例如 "video/mp4; codecs=\"avc1.64001F, mp4a.40.2\""
	Resolution    string // 例如 "1080p"，纯音频流为空
	Abr           string // 例如 "128kbps"，纯视频流为空
	Bitrate       int
	URL           string
	ContentLength int64
}

// Subtype mime 的子类型，例如 "mp4"、"webm"
func (s *Stream) Subtype() string {
	mime := s.MimeType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if i := strings.Index(mime, "/"); i >= 0 {
		return mime[i+1:]
	}
	return mime
}

// IsProgressive 渐进式流同时携带视频和音频轨（codecs 中有两个编码）
func (s *Stream) IsProgressive() bool {
	return s.IncludesVideo() && s.IncludesAudio()
}

// IncludesVideo 是否携带视频轨
func (s *Stream) IncludesVideo() bool {
	return strings.HasPrefix(s.MimeType, "video/")
}

// IncludesAudio 是否携带音频轨
func (s *Stream) IncludesAudio() bool {
	if strings.HasPrefix(s.MimeType, "audio/") {
		return true
	}
	// video/* 且 codecs 里有两个编码的是渐进式流
	return strings.HasPrefix(s.MimeType, "video/") && strings.Contains(s.MimeType, ",")
}

// IsAudioOnly 纯音频流
func (s *Stream) IsAudioOnly() bool {
	return strings.HasPrefix(s.MimeType, "audio/")
}

// resolutionValue 分辨率的数值，用于排序；无法解析时为 0
func (s *Stream) resolutionValue() int {
	v, _ := strconv.Atoi(strings.TrimSuffix(s.Resolution, "p"))
	return v
}

// abrValue 音频码率的数值，用于排序
func (s *Stream) abrValue() int {
	v, _ := strconv.Atoi(strings.TrimSuffix(s.Abr, "kbps"))
	return v
}

// StreamFilter 流过滤条件，零值字段不参与过滤
type StreamFilter struct {
	MimeType    string // 完整匹配 mime 前缀，例如 "video/mp4"
	Res         string // 例如 "1080p"
	Abr         string // 例如 "128kbps"
	Progressive *bool  // nil 表示不限制
	AudioOnly   bool   // 只要纯音频流
}

// Catalog 流目录，支持过滤、排序和选取，语义对齐常见的流查询链
type Catalog struct {
	streams []*Stream
}

// NewCatalog 用给定的流列表构建目录
func NewCatalog(streams []*Stream) *Catalog {
	return &Catalog{streams: streams}
}

// All 返回当前目录中的全部流
func (c *Catalog) All() []*Stream {
	return c.streams
}

// Len 当前目录中的流数量
func (c *Catalog) Len() int {
	return len(c.streams)
}

// Filter 返回满足条件的子目录
func (c *Catalog) Filter(f StreamFilter) *Catalog {
	var out []*Stream
	for _, s := range c.streams {
		if f.MimeType != "" && !strings.HasPrefix(s.MimeType, f.MimeType) {
			continue
		}
		if f.Res != "" && s.Resolution != f.Res {
			continue
		}
		if f.Abr != "" && s.Abr != f.Abr {
			continue
		}
		if f.Progressive != nil && s.IsProgressive() != *f.Progressive {
			continue
		}
		if f.AudioOnly && !s.IsAudioOnly() {
			continue
		}
		out = append(out, s)
	}
	return NewCatalog(out)
}

// OrderBy 按给定字段升序排序，支持 itag、resolution、abr、bitrate
func (c *Catalog) OrderBy(field string) *Catalog {
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	sort.SliceStable(out, func(i, j int) bool {
		switch field {
		case "resolution":
			return out[i].resolutionValue() < out[j].resolutionValue()
		case "abr":
			return out[i].abrValue() < out[j].abrValue()
		case "bitrate":
			return out[i].Bitrate < out[j].Bitrate
		default: // itag
			return out[i].Itag < out[j].Itag
		}
	})
	return NewCatalog(out)
}

// Desc 反转当前顺序
func (c *Catalog) Desc() *Catalog {
	out := make([]*Stream, len(c.streams))
	for i, s := range c.streams {
		out[len(c.streams)-1-i] = s
	}
	return NewCatalog(out)
}

// First 第一条流，目录为空时返回 nil
func (c *Catalog) First() *Stream {
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[0]
}

// Last 最后一条流，目录为空时返回 nil
func (c *Catalog) Last() *Stream {
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

// HighestResolution 最高分辨率的视频流，作为精确过滤失败后的回退
func (c *Catalog) HighestResolution(progressive bool) *Stream {
	var best *Stream
	for _, s := range c.streams {
		if !s.IncludesVideo() || s.IsProgressive() != progressive {
			continue
		}
		if best == nil || s.resolutionValue() > best.resolutionValue() {
			best = s
		}
	}
	return best
}

// AudioOnly 码率最高的纯音频流，subtype 为空时不限容器
func (c *Catalog) AudioOnly(subtype string) *Stream {
	var best *Stream
	for _, s := range c.streams {
		if !s.IsAudioOnly() {
			continue
		}
		if subtype != "" && s.Subtype() != subtype {
			continue
		}
		if best == nil || s.abrValue() > best.abrValue() {
			best = s
		}
	}
	return best
}
