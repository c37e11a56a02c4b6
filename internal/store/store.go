package store

import (
	"time"

	"gorm.io/gorm"
)

// recentLimit 是名单类查询（最近用户、最近群组）返回的最大条数。
const recentLimit = 50

// Store 是会话存储和用户目录的 gorm 实现，所有方法都可并发调用。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func orderByCreated(db *gorm.DB) *gorm.DB {
	return db.Order("created_at asc").Order("id asc")
}
