package handler

import (
	"net/http"

	"tube-keeper/app/service"

	"github.com/gin-gonic/gin"
)

// AuditHandler 对账处理器
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler 创建对账处理器
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// Run 执行一次完整对账
func (h *AuditHandler) Run(c *gin.Context) {
	report, err := h.audit.RunAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "对账执行失败: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(report, "success"))
}

// MissingFiles 只检查丢失的产出文件
func (h *AuditHandler) MissingFiles(c *gin.Context) {
	issues, err := h.audit.MissingFiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "对账执行失败: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(issues, "success"))
}

// DuplicateTitles 只检查重复标题
func (h *AuditHandler) DuplicateTitles(c *gin.Context) {
	issues, err := h.audit.DuplicateTitles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "对账执行失败: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(issues, "success"))
}
