package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ytget/ytdlp/v2"
)

// Collection 一个有序的视频引用序列（播放列表、频道或搜索结果）
type Collection struct {
	ID     string
	Title  string
	Videos []VideoRef
}

// VideoRef 集合中的一条视频引用
type VideoRef struct {
	ID       string
	Title    string
	WatchURL string
}

// SearchOptions 搜索参数
type SearchOptions struct {
	Query  string
	SortBy string // relevance, upload_date, view_count, rating
	TopN   int    // 取前 N 条结果
}

// Enumerator 集合枚举协作方的契约
type Enumerator interface {
	Playlist(ctx context.Context, url string) (*Collection, error)
	Channel(ctx context.Context, url string) (*Collection, error)
	Search(ctx context.Context, opts SearchOptions) (*Collection, error)
}

var (
	channelIDPattern = regexp.MustCompile(`"channelId":"(UC[0-9A-Za-z_-]{22})"`)
	ogTitlePattern   = regexp.MustCompile(`<meta property="og:title" content="([^"]*)"`)
	titleTagPattern  = regexp.MustCompile(`<title>([^<]*)</title>`)
)

// 搜索过滤参数（InnerTube 的 protobuf 参数，限定结果类型为视频）
var searchParams = map[string]string{
	"relevance":   "EgIQAQ%3D%3D",
	"upload_date": "CAISAhAB",
	"view_count":  "CAMSAhAB",
	"rating":      "CAESAhAB",
}

// Playlist 枚举播放列表的全部成员
func (c *Client) Playlist(ctx context.Context, url string) (*Collection, error) {
	playlistID := ExtractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("%w: %s", ErrBadReference, url)
	}

	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("枚举播放列表失败 %s: %w", playlistID, err)
	}

	refs := make([]VideoRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, VideoRef{
			ID:       it.VideoID,
			Title:    it.Title,
			WatchURL: WatchURL(it.VideoID),
		})
	}

	title := c.fetchPageTitle(ctx, url)
	if title == "" {
		title = playlistID
	}

	return &Collection{ID: playlistID, Title: title, Videos: refs}, nil
}

// Channel 枚举频道的上传列表。
// 频道的上传内容就是ID为 "UU"+频道ID后缀 的播放列表。
func (c *Client) Channel(ctx context.Context, url string) (*Collection, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("获取频道页面失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: 频道页面返回状态码 %d", ErrUnavailable, resp.StatusCode())
	}

	m := channelIDPattern.FindSubmatch(resp.Bytes())
	if m == nil {
		return nil, fmt.Errorf("%w: 页面中找不到频道ID: %s", ErrBadReference, url)
	}
	channelID := string(m[1])
	uploadsID := "UU" + strings.TrimPrefix(channelID, "UC")

	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, uploadsID, 0)
	if err != nil {
		return nil, fmt.Errorf("枚举频道上传列表失败 %s: %w", uploadsID, err)
	}

	refs := make([]VideoRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, VideoRef{
			ID:       it.VideoID,
			Title:    it.Title,
			WatchURL: WatchURL(it.VideoID),
		})
	}

	title := c.fetchPageTitle(ctx, url)
	if title == "" {
		title = channelID
	}

	return &Collection{ID: channelID, Title: title, Videos: refs}, nil
}

// Search 搜索视频，按排序参数过滤，返回前 N 条
func (c *Client) Search(ctx context.Context, opts SearchOptions) (*Collection, error) {
	body := newInnertubeContext()
	body.Query = opts.Query
	if p, ok := searchParams[opts.SortBy]; ok {
		body.Params = p
	} else {
		body.Params = searchParams["relevance"]
	}

	var sr searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", innertubeKey).
		SetQueryParam("prettyPrint", "false").
		SetBody(body).
		SetResult(&sr).
		Post(innertubeBase + "/search")
	if err != nil {
		return nil, fmt.Errorf("搜索失败 %q: %w", opts.Query, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("搜索失败 %q: 状态码 %d", opts.Query, resp.StatusCode())
	}

	refs := sr.videoRefs()
	if opts.TopN > 0 && len(refs) > opts.TopN {
		refs = refs[:opts.TopN]
	}

	return &Collection{ID: opts.Query, Title: opts.Query, Videos: refs}, nil
}

// fetchPageTitle 从页面 HTML 中取 og:title，取不到时退回 <title>
func (c *Client) fetchPageTitle(ctx context.Context, url string) string {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil || resp.IsError() {
		return ""
	}

	if m := ogTitlePattern.FindSubmatch(resp.Bytes()); m != nil {
		return string(m[1])
	}
	if m := titleTagPattern.FindSubmatch(resp.Bytes()); m != nil {
		return strings.TrimSuffix(string(m[1]), " - YouTube")
	}
	return ""
}

// --- InnerTube search 响应结构（只取需要的字段） --- //

type searchResponse struct {
	Contents struct {
		TwoColumnSearchResultsRenderer struct {
			PrimaryContents struct {
				SectionListRenderer struct {
					Contents []struct {
						ItemSectionRenderer struct {
							Contents []struct {
								VideoRenderer struct {
									VideoID string `json:"videoId"`
									Title   struct {
										Runs []struct {
											Text string `json:"text"`
										} `json:"runs"`
									} `json:"title"`
								} `json:"videoRenderer"`
							} `json:"contents"`
						} `json:"itemSectionRenderer"`
					} `json:"contents"`
				} `json:"sectionListRenderer"`
			} `json:"primaryContents"`
		} `json:"twoColumnSearchResultsRenderer"`
	} `json:"contents"`
}

func (sr *searchResponse) videoRefs() []VideoRef {
	var refs []VideoRef
	sections := sr.Contents.TwoColumnSearchResultsRenderer.PrimaryContents.SectionListRenderer.Contents
	for _, section := range sections {
		for _, item := range section.ItemSectionRenderer.Contents {
			vr := item.VideoRenderer
			if vr.VideoID == "" {
				continue
			}
			title := ""
			if len(vr.Title.Runs) > 0 {
				title = vr.Title.Runs[0].Text
			}
			refs = append(refs, VideoRef{
				ID:       vr.VideoID,
				Title:    title,
				WatchURL: WatchURL(vr.VideoID),
			})
		}
	}
	return refs
}
