package handler

import (
	"context"
	"net/http"

	"tube-keeper/app/model"
	"tube-keeper/app/service"
	"tube-keeper/app/store"

	"github.com/gin-gonic/gin"
)

// TaskHandler 下载任务处理器
type TaskHandler struct {
	store    *store.TaskStore
	download *service.DownloadService
}

// NewTaskHandler 创建下载任务处理器
func NewTaskHandler(taskStore *store.TaskStore, download *service.DownloadService) *TaskHandler {
	return &TaskHandler{
		store:    taskStore,
		download: download,
	}
}

// List 获取任务列表，支持 status 查询参数过滤
func (h *TaskHandler) List(c *gin.Context) {
	status := model.TaskStatus(c.Query("status"))
	tasks, err := h.store.ListByStatus(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "查询任务列表失败: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(tasks, "success"))
}

// Get 按视频ID获取单个任务
func (h *TaskHandler) Get(c *gin.Context) {
	videoID := c.Param("video_id")
	task, err := h.store.Get(videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "查询任务失败: "+err.Error()))
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, Error(404, "任务不存在"))
		return
	}
	c.JSON(http.StatusOK, Success(task, "success"))
}

// Stats 各状态的任务数量
func (h *TaskHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "统计任务失败: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(stats, "success"))
}

// Retry 重新执行一个失败的任务
func (h *TaskHandler) Retry(c *gin.Context) {
	videoID := c.Param("video_id")
	task, err := h.store.Get(videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "查询任务失败: "+err.Error()))
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, Error(404, "任务不存在"))
		return
	}
	if task.IsCompleted() {
		c.JSON(http.StatusConflict, Error(409, "任务已完成，无需重试"))
		return
	}

	// 异步执行，接口立即返回；不能挂在请求上下文上，否则响应后就被取消
	go func() {
		_ = h.download.DownloadVideo(context.Background(), task.SourceURL, h.download.DefaultDirs())
	}()

	c.JSON(http.StatusOK, Success(gin.H{"video_id": videoID}, "任务已重新入队"))
}

// SubmitRequest 提交下载请求结构
type SubmitRequest struct {
	URL string `json:"url" binding:"required"`
}

// Submit 提交一个新的下载任务
func (h *TaskHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error(400, "请求参数错误: "+err.Error()))
		return
	}

	go func() {
		_ = h.download.DownloadVideo(context.Background(), req.URL, h.download.DefaultDirs())
	}()

	c.JSON(http.StatusOK, Success(gin.H{"url": req.URL}, "任务已入队"))
}
