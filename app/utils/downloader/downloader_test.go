package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello bytes"))
	}))
	defer srv.Close()

	savePath := filepath.Join(t.TempDir(), "out.bin")
	result, err := DownloadFromURL(context.Background(), srv.URL, savePath, nil)
	if err != nil {
		t.Fatalf("下载失败: %v", err)
	}
	if result.Size != int64(len("hello bytes")) {
		t.Errorf("下载大小 = %d, want %d", result.Size, len("hello bytes"))
	}

	data, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatalf("读取产出文件失败: %v", err)
	}
	if string(data) != "hello bytes" {
		t.Errorf("文件内容 = %q", data)
	}

	// 临时文件已被改名，不应残留
	if _, err := os.Stat(savePath + ".tmp"); !os.IsNotExist(err) {
		t.Error("临时文件未被清理")
	}
}

func TestDownloadFromURLCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 挂起直到请求被取消，模拟慢速传输
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	savePath := filepath.Join(t.TempDir(), "out.bin")
	_, err := DownloadFromURL(ctx, srv.URL, savePath, nil)
	if err == nil {
		t.Fatal("取消的 context 应中断下载")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("错误应携带 context.Canceled, 得到 %v", err)
	}

	if _, statErr := os.Stat(savePath); !os.IsNotExist(statErr) {
		t.Error("取消后不应留下最终文件")
	}
}

func TestDownloadFromURLRefusesOverwrite(t *testing.T) {
	savePath := filepath.Join(t.TempDir(), "exists.bin")
	if err := os.WriteFile(savePath, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := DownloadFromURL(context.Background(), "http://127.0.0.1:0/never", savePath, nil)
	if err == nil {
		t.Fatal("默认配置不应覆盖已存在的文件")
	}
}
