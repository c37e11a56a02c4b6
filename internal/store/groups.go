package store

import (
	"context"
	"errors"
	"time"

	"chatrelay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errNoGroup 仅在事务内部使用，表示目标群组不存在。
var errNoGroup = errors.New("group missing")

// touchGroup 推进群组的 updated_at；群组不存在时返回 errNoGroup。
func touchGroup(tx *gorm.DB, groupID string, at time.Time) error {
	res := tx.Model(&models.Thread{}).Where("id = ? AND is_group = ?", groupID, true).Update("updated_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNoGroup
	}
	return nil
}

// CreateGroup 创建群聊会话，创建者自动成为第一个参与者。
func (s *Store) CreateGroup(ctx context.Context, name, creatorID string) (string, error) {
	now := s.now()
	group := models.Thread{
		ID:           uuid.NewString(),
		IsGroup:      true,
		GroupName:    name,
		CreatedBy:    creatorID,
		Participants: []models.ThreadParticipant{{UserID: creatorID, JoinedAt: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&group).Error; err != nil {
		return "", persistErr("create group", err)
	}
	return group.ID, nil
}

// AppendGroupMessage 仅当 groupID 指向一个群组时追加消息，否则返回 false 且不写入任何数据。
func (s *Store) AppendGroupMessage(ctx context.Context, groupID, sender, body string) (models.ThreadMessage, bool, error) {
	msg := models.ThreadMessage{ThreadID: groupID, Sender: sender, Body: body, Status: "sent", CreatedAt: s.now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchGroup(tx, groupID, msg.CreatedAt); err != nil {
			return err
		}
		return tx.Create(&msg).Error
	})
	if errors.Is(err, errNoGroup) {
		return models.ThreadMessage{}, false, nil
	}
	if err != nil {
		return models.ThreadMessage{}, false, persistErr("append group message", err)
	}
	return msg, true, nil
}

// AddParticipant 以集合语义把用户加入群组，返回群组是否存在。
func (s *Store) AddParticipant(ctx context.Context, groupID, userID string) (bool, error) {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchGroup(tx, groupID, now); err != nil {
			return err
		}
		p := models.ThreadParticipant{ThreadID: groupID, UserID: userID, JoinedAt: now}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
	})
	if errors.Is(err, errNoGroup) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("add participant", err)
	}
	return true, nil
}

// RemoveParticipant 把用户移出群组，用户本不在群内时不报错。
func (s *Store) RemoveParticipant(ctx context.Context, groupID, userID string) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchGroup(tx, groupID, s.now()); err != nil {
			return err
		}
		return tx.Where("thread_id = ? AND user_id = ?", groupID, userID).Delete(&models.ThreadParticipant{}).Error
	})
	if errors.Is(err, errNoGroup) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("remove participant", err)
	}
	return true, nil
}

// GetGroup 返回群组及其参与者和按时间升序的消息。
func (s *Store) GetGroup(ctx context.Context, groupID string) (models.Thread, error) {
	var group models.Thread
	err := withThreadDetail(s.db.WithContext(ctx)).Where("id = ? AND is_group = ?", groupID, true).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Thread{}, ErrNotFound
	}
	if err != nil {
		return models.Thread{}, persistErr("get group", err)
	}
	return group, nil
}

// ListRecentGroups 按创建时间倒序返回群组，只带参与者不带消息。
func (s *Store) ListRecentGroups(ctx context.Context) ([]models.Thread, error) {
	var groups []models.Thread
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Where("is_group = ?", true).
		Order("created_at desc").Order("id asc").
		Limit(recentLimit).
		Find(&groups).Error
	if err != nil {
		return nil, persistErr("list recent groups", err)
	}
	return groups, nil
}
