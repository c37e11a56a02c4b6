package store

import (
	"context"
	"errors"
	"strings"

	"chatrelay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const codeAttempts = 16

// NormalizeEmail 统一邮箱格式，目录中的邮箱一律小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newJoinCode 取随机 UUID 的前 4 位十六进制字符并转为大写。
func newJoinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}

// FindUserByEmail 按邮箱（不区分大小写）查找用户。
func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, persistErr("find user by email", err)
	}
	return u, nil
}

// FindUserByID 按用户 ID 查找用户。
func (s *Store) FindUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, persistErr("find user by id", err)
	}
	return u, nil
}

// InsertUser 写入新用户并分配唯一的 4 位加入码。邮箱已存在时返回 ErrEmailTaken。
func (s *Store) InsertUser(ctx context.Context, fullName, email, passwordHash string) (models.User, error) {
	email = NormalizeEmail(email)
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return models.User{}, persistErr("count users by email", err)
	}
	if count > 0 {
		return models.User{}, ErrEmailTaken
	}

	for i := 0; i < codeAttempts; i++ {
		code := newJoinCode()
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("uuid_code = ?", code).Count(&count).Error; err != nil {
			return models.User{}, persistErr("count users by code", err)
		}
		if count > 0 {
			continue
		}
		u := models.User{
			ID:           uuid.NewString(),
			FullName:     strings.TrimSpace(fullName),
			Email:        email,
			PasswordHash: passwordHash,
			UUIDCode:     code,
			CreatedAt:    s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
			return models.User{}, persistErr("insert user", err)
		}
		return u, nil
	}
	return models.User{}, ErrCodeExhausted
}

// ListRecentUsers 按注册时间倒序返回最近的用户。
func (s *Store) ListRecentUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("created_at desc").Order("id asc").Limit(recentLimit).Find(&users).Error
	if err != nil {
		return nil, persistErr("list recent users", err)
	}
	return users, nil
}
