package store

import (
	"context"

	"chatrelay/internal/models"
)

// openRoom 是全局公共房间在 room_messages 中使用的键。
const openRoom = ""

// AppendRoomMessage 向全局公共房间追加一条消息。
func (s *Store) AppendRoomMessage(ctx context.Context, sender, body string) (models.RoomMessage, error) {
	return s.AppendToRoom(ctx, openRoom, sender, body)
}

// ListRoomMessages 按时间升序返回全局公共房间的全部消息。
func (s *Store) ListRoomMessages(ctx context.Context) ([]models.RoomMessage, error) {
	return s.ListRoomHistory(ctx, openRoom)
}

// AppendToRoom 向指定房间的日志追加一条消息，返回写入后的记录。
func (s *Store) AppendToRoom(ctx context.Context, room, sender, body string) (models.RoomMessage, error) {
	msg := models.RoomMessage{RoomID: room, Sender: sender, Body: body, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return models.RoomMessage{}, persistErr("append room message", err)
	}
	return msg, nil
}

// ListRoomHistory 返回指定房间的消息，按 created_at 升序，同一时刻按 id 排序。
func (s *Store) ListRoomHistory(ctx context.Context, room string) ([]models.RoomMessage, error) {
	var msgs []models.RoomMessage
	if err := orderByCreated(s.db.WithContext(ctx).Where("room_id = ?", room)).Find(&msgs).Error; err != nil {
		return nil, persistErr("list room history", err)
	}
	return msgs, nil
}
