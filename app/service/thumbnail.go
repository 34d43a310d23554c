package service

import (
	"fmt"

	"github.com/disintegration/imaging"
)

// 预览图统一缩到这个宽度，高度按比例
const thumbnailWidth = 320

// downscaleThumbnail 把下载的原始缩略图就地缩小为预览尺寸
func downscaleThumbnail(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("打开缩略图失败: %w", err)
	}
	if img.Bounds().Dx() <= thumbnailWidth {
		return nil
	}

	resized := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	if err := imaging.Save(resized, path); err != nil {
		return fmt.Errorf("保存缩略图失败: %w", err)
	}
	return nil
}
