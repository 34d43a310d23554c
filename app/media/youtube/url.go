package youtube

import "regexp"

// 支持的引用形态：watch?v=、youtu.be/、embed/、shorts/，视频ID固定为11个字符
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]v=([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`youtu\.be/([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`embed/([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`shorts/([0-9A-Za-z_-]{11})`),
}

var playlistIDPattern = regexp.MustCompile(`[?&]list=([0-9A-Za-z_-]+)`)

// ExtractVideoID 从引用中解析视频ID，无法匹配时返回空字符串。
// 调用方把空结果当作硬性跳过处理，不重试。
func ExtractVideoID(url string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// ExtractPlaylistID 从播放列表 URL 中解析列表ID，无法匹配时返回空字符串
func ExtractPlaylistID(url string) string {
	if m := playlistIDPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// WatchURL 由视频ID构造标准观看地址
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
