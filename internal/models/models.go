package models

import "time"

// User 是用户目录中的一条记录，UUIDCode 是 4 位大写的加入码。
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	FullName     string    `gorm:"size:128;not null" json:"full_name"`
	Email        string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	UUIDCode     string    `gorm:"uniqueIndex;size:4;not null" json:"uuid_code"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// RoomMessage 是房间日志中的一条消息，RoomID 为空表示全局公共房间。
// 房间名与发送者来自客户端，长度不设上限，列类型统一用 text。
type RoomMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"index:idx_room_msg_room_created,priority:1;type:text;not null" json:"room"`
	Sender    string    `gorm:"type:text;not null" json:"sender"`
	Body      string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"index:idx_room_msg_room_created,priority:2" json:"created_date"`
}

// Thread 表示一个私聊或群聊会话。私聊通过 PairKey 唯一约束保证同一对用户只有一个会话。
type Thread struct {
	ID           string              `gorm:"primaryKey;size:36" json:"id"`
	PairKey      *string             `gorm:"uniqueIndex;type:text" json:"-"`
	IsGroup      bool                `gorm:"index;not null" json:"is_group"`
	GroupName    string              `gorm:"type:text" json:"group_name,omitempty"`
	CreatedBy    string              `gorm:"type:text" json:"created_by"`
	Participants []ThreadParticipant `gorm:"foreignKey:ThreadID" json:"participants,omitempty"`
	Messages     []ThreadMessage     `gorm:"foreignKey:ThreadID" json:"messages,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `gorm:"index" json:"updated_at"`
}

type ThreadParticipant struct {
	ThreadID string    `gorm:"primaryKey;size:36" json:"-"`
	UserID   string    `gorm:"primaryKey;type:text" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type ThreadMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ThreadID  string    `gorm:"index:idx_thread_msg_thread_created,priority:1;size:36;not null" json:"thread_id"`
	Sender    string    `gorm:"type:text;not null" json:"sender"`
	Body      string    `gorm:"type:text;not null" json:"message"`
	Status    string    `gorm:"size:16;not null;default:sent" json:"status"`
	CreatedAt time.Time `gorm:"index:idx_thread_msg_thread_created,priority:2" json:"created_date"`
}

// ParticipantIDs 返回会话参与者的用户 ID 列表。
func (t Thread) ParticipantIDs() []string {
	out := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		out = append(out, p.UserID)
	}
	return out
}
