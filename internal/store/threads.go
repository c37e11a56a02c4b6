package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"chatrelay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pairKey 生成与顺序无关的私聊键。
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

func withThreadDetail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at asc").Order("user_id asc") }).
		Preload("Messages", orderByCreated)
}

func (s *Store) threadByPairKey(ctx context.Context, key string) (models.Thread, error) {
	var th models.Thread
	err := withThreadDetail(s.db.WithContext(ctx)).Where("pair_key = ?", key).First(&th).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Thread{}, ErrNotFound
	}
	if err != nil {
		return models.Thread{}, persistErr("find direct thread", err)
	}
	return th, nil
}

// FindDirectThread 按无序用户对查找私聊会话，不存在时返回 ErrNotFound。
func (s *Store) FindDirectThread(ctx context.Context, a, b string) (models.Thread, error) {
	return s.threadByPairKey(ctx, pairKey(a, b))
}

// GetOrCreateDirectThread 查找或创建两名用户之间的私聊会话。
// 插入受 pair_key 唯一索引保护，并发创建者最终读到同一个会话。两个 ID 相同时返回 ErrSameParticipant。
func (s *Store) GetOrCreateDirectThread(ctx context.Context, a, b string) (models.Thread, error) {
	if a == b {
		return models.Thread{}, ErrSameParticipant
	}
	key := pairKey(a, b)
	th, err := s.threadByPairKey(ctx, key)
	if err == nil {
		return th, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Thread{}, err
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created := models.Thread{ID: uuid.NewString(), PairKey: &key, CreatedBy: a, CreatedAt: now, UpdatedAt: now}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "pair_key"}}, DoNothing: true}).
			Omit(clause.Associations).
			Create(&created)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 另一个创建者已经写入
			return nil
		}
		parts := []models.ThreadParticipant{
			{ThreadID: created.ID, UserID: a, JoinedAt: now},
			{ThreadID: created.ID, UserID: b, JoinedAt: now},
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		return models.Thread{}, persistErr("create direct thread", err)
	}
	return s.threadByPairKey(ctx, key)
}

// AppendDirectMessage 向会话追加一条消息，并在同一事务内推进 updated_at。
func (s *Store) AppendDirectMessage(ctx context.Context, threadID, sender, body string) (models.ThreadMessage, error) {
	msg := models.ThreadMessage{ThreadID: threadID, Sender: sender, Body: body, Status: "sent", CreatedAt: s.now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Thread{}).Where("id = ?", threadID).Update("updated_at", msg.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(&msg).Error
	})
	if errors.Is(err, ErrNotFound) {
		return models.ThreadMessage{}, ErrNotFound
	}
	if err != nil {
		return models.ThreadMessage{}, persistErr("append direct message", err)
	}
	return msg, nil
}
