package youtube

import "errors"

// 封闭的错误类别集合，调用方用 errors.Is 判断，而不是解析错误文本。
// 终止类错误（视频已删除、直播、受限、被识别为机器人）不应该被重试。
var (
	// ErrBadReference 无法从引用中解析出视频ID，不创建任务，不重试
	ErrBadReference = errors.New("无法解析视频引用")

	// ErrUnavailable 视频已删除、私有或不存在
	ErrUnavailable = errors.New("视频不可用")

	// ErrLiveStream 直播流，无法按普通视频下载
	ErrLiveStream = errors.New("视频是直播流")

	// ErrRestricted 年龄或地区限制
	ErrRestricted = errors.New("视频受限")

	// ErrBotDetected 被识别为机器人，需要更换客户端或IP，批处理驱动单独记录
	ErrBotDetected = errors.New("被识别为机器人")

	// ErrNoStream 过滤链和所有回退都没有匹配到可用的流
	ErrNoStream = errors.New("没有匹配的流")
)

// IsTerminal 判断错误是否为终止类错误，终止类错误重试没有意义
func IsTerminal(err error) bool {
	return errors.Is(err, ErrBadReference) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrLiveStream) ||
		errors.Is(err, ErrRestricted) ||
		errors.Is(err, ErrBotDetected) ||
		errors.Is(err, ErrNoStream)
}
