package server

import (
	"errors"
	"net/http"
	"strings"

	"chatrelay/internal/auth"
	"chatrelay/internal/service"
	"chatrelay/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合 HTTP 认证接口，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
}

func NewHandler(userSvc *service.UserService) *Handler {
	return &Handler{userSvc: userSvc}
}

type registrationRequest struct {
	FullName string `json:"full_name" binding:"required,max=128"`
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func userView(id, fullName, email, code string) gin.H {
	return gin.H{"id": id, "full_name": fullName, "email": email, "uuid_code": code}
}

// Registration 处理注册请求，邮箱已注册时返回 400。
func (h *Handler) Registration(c *gin.Context) {
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid full name"})
		return
	}
	email := store.NormalizeEmail(req.Email)
	user, err := h.userSvc.Register(c.Request.Context(), req.FullName, email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
			return
		}
		log.Error().Err(err).Str("email", email).Msg("registration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, userView(user.ID, user.FullName, user.Email, user.UUIDCode))
}

// Login 处理登录请求：未知邮箱 404，密码错误 401。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	email := store.NormalizeEmail(req.Email)
	result, err := h.userSvc.Login(c.Request.Context(), email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			log.Error().Err(err).Str("email", email).Msg("login")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}
	u := result.User
	c.JSON(http.StatusOK, gin.H{
		"access_token": result.AccessToken,
		"user":         userView(u.ID, u.FullName, u.Email, u.UUIDCode),
	})
}

// Me 返回当前 Bearer Token 对应的用户。
func (h *Handler) Me(c *gin.Context) {
	u, ok := auth.GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, userView(u.ID, u.FullName, u.Email, u.UUIDCode))
}
