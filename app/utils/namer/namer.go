package namer

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// 常见文件系统不允许（或容易出问题）的字符，包含全角竖线
const illegalChars = "｜|,/\\:*?<>\""

// Normalize 把任意标题规范化为文件系统安全、长度受限的基础文件名。
// 处理顺序：NFKC 规范化 → 全角空格转半角 → 去掉非法字符 → 空白折叠为下划线 → 截断。
// 该函数同时用于生成输出文件名和标题查重比较，必须保持确定性和幂等性，
// 算法一旦变更，历史生成的文件名将无法再对上。
func Normalize(title string, maxLen int) string {
	// Unicode NFKC 规范化，使视觉相同但编码不同的标题比较相等
	s := norm.NFKC.String(title)

	// 全角空格 U+3000 替换为普通空格
	s = strings.ReplaceAll(s, "　", " ")

	// 去掉非法字符
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(illegalChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	// 连续空白折叠为单个下划线
	s = strings.Join(strings.Fields(s), "_")

	// 按 rune 截断，保证不会切断多字节序列
	if maxLen > 0 {
		runes := []rune(s)
		if len(runes) > maxLen {
			s = string(runes[:maxLen])
		}
	}

	return s
}

// TruncateForSuffix 为了追加序号后缀而截短基础名，保证追加后总长不超过 maxLen
func TruncateForSuffix(base string, suffix string, maxLen int) string {
	room := maxLen - len([]rune(suffix))
	if room < 1 {
		room = 1
	}
	runes := []rune(base)
	if len(runes) > room {
		return string(runes[:room])
	}
	return base
}
