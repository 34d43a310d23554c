package handler

import (
	"net/http"
	"time"

	"tube-keeper/app/auth"
	"tube-keeper/app/config"
	"tube-keeper/app/database"
	"tube-keeper/app/model"
	"tube-keeper/app/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	config     *config.Config
	jwtService *auth.JWTService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		config:     cfg,
		jwtService: auth.NewJWTService(cfg),
	}
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token    string      `json:"token"`
	User     *model.User `json:"user"`
	ExpireAt int64       `json:"expire_at"`
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Error(400, "请求参数错误: "+err.Error()))
		return
	}

	var user model.User
	db := database.GetDB()
	if err := db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, Error(401, "用户名或密码错误"))
		return
	}

	if !utils.VerifyPassword(req.Password, user.Password) {
		c.JSON(http.StatusUnauthorized, Error(401, "用户名或密码错误"))
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusForbidden, Error(403, "用户账号已被禁用"))
		return
	}

	token, err := h.jwtService.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Error(500, "生成令牌失败"))
		return
	}

	// 更新最后登录时间
	now := time.Now()
	user.LastLogin = &now
	db.Save(&user)

	expireAt := time.Now().Add(time.Duration(h.config.JWT.ExpireTime) * time.Hour).Unix()

	c.JSON(http.StatusOK, Success(LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: expireAt,
	}, "登录成功"))
}

// RefreshToken 刷新令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) < 8 {
		c.JSON(http.StatusUnauthorized, Error(401, "Authorization header is required"))
		return
	}

	token := authHeader[7:] // 去掉 "Bearer " 前缀
	newToken, err := h.jwtService.RefreshToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Error(401, "刷新令牌失败: "+err.Error()))
		return
	}

	expireAt := time.Now().Add(time.Duration(h.config.JWT.ExpireTime) * time.Hour).Unix()

	c.JSON(http.StatusOK, Success(gin.H{
		"token":     newToken,
		"expire_at": expireAt,
	}, "刷新成功"))
}

// Me 获取当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, Error(401, "未认证"))
		return
	}

	var user model.User
	if err := database.GetDB().First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, Error(404, "用户不存在"))
		return
	}

	c.JSON(http.StatusOK, Success(user, "success"))
}
