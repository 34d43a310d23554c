package ffmpeg

import "testing"

func TestNormalizeBitrate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"128kbps", "128k"},
		{"128k", "128k"},
		{"160kbps", "160k"},
		{"192", "192k"},
	}
	for _, tt := range tests {
		if got := normalizeBitrate(tt.in); got != tt.want {
			t.Errorf("normalizeBitrate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLastLines(t *testing.T) {
	in := "a\nb\nc\nd\ne\nf"
	if got := lastLines(in, 3); got != "d\ne\nf" {
		t.Errorf("lastLines = %q", got)
	}
	if got := lastLines("only", 3); got != "only" {
		t.Errorf("行数不足时应原样返回, 得到 %q", got)
	}
}
