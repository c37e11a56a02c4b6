package service

import (
	"context"
	"errors"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/store"
)

// Directory 是用户目录的存储能力。
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	InsertUser(ctx context.Context, fullName, email, passwordHash string) (models.User, error)
	FindUserByID(ctx context.Context, id string) (models.User, error)
}

// UserService 封装注册与登录逻辑。
type UserService struct {
	users Directory
	cfg   config.Config
}

func NewUserService(users Directory, cfg config.Config) *UserService {
	return &UserService{users: users, cfg: cfg}
}

// Register 注册新用户，邮箱已存在时返回 ErrEmailTaken。
func (s *UserService) Register(ctx context.Context, fullName, email, password string) (models.User, error) {
	_, err := s.users.FindUserByEmail(ctx, email)
	if err == nil {
		return models.User{}, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	user, err := s.users.InsertUser(ctx, fullName, email, hash)
	if errors.Is(err, store.ErrEmailTaken) {
		return models.User{}, ErrEmailTaken
	}
	return user, err
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"user"`
}

// Login 校验邮箱密码并签发 access token。未知邮箱返回 ErrUserNotFound。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, user.UUIDCode, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, User: user}, nil
}
