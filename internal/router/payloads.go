package router

import (
	"encoding/json"
	"time"

	"chatrelay/internal/models"
)

// 入站载荷。必填字段由 validator 在 handler 执行前检查。
// data 字段可以是任意 JSON，原样转发；present 拒绝缺失或 null。

type welcomePayload struct {
	Data json.RawMessage `json:"data"`
}

type dataPayload struct {
	Data json.RawMessage `json:"data" validate:"present"`
}

type emptyPayload struct{}

type userJoinedPayload struct {
	Email    string `json:"email" validate:"omitempty,email"`
	UserUUID string `json:"user_uuid"`
}

type roomPayload struct {
	Room string `json:"room" validate:"required"`
}

type roomChatPayload struct {
	Room string          `json:"room" validate:"required"`
	Data json.RawMessage `json:"data" validate:"present"`
}

type broadcastMessagePayload struct {
	User    string `json:"user" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type createRoomPayload struct {
	TargetUUID       string `json:"target_uuid" validate:"required,len=4,alphanum"`
	LoggedInUUIDCode string `json:"logged_in_uuid_code" validate:"required,len=4,alphanum"`
}

type sendMessagePayload struct {
	Room     string `json:"room" validate:"required"`
	Message  string `json:"message" validate:"required"`
	Username string `json:"username" validate:"required"`
}

type directMessagePayload struct {
	SenderUUID   string `json:"sender_uuid" validate:"required"`
	ReceiverUUID string `json:"receiver_uuid" validate:"required,nefield=SenderUUID"`
	Message      string `json:"message" validate:"required"`
}

type directHistoryPayload struct {
	SenderUUID   string `json:"sender_uuid" validate:"required"`
	ReceiverUUID string `json:"receiver_uuid" validate:"required,nefield=SenderUUID"`
}

type groupCreatePayload struct {
	GroupName string `json:"group_name" validate:"required"`
	UserUUID  string `json:"user_uuid" validate:"required"`
}

type groupMessagePayload struct {
	SenderUUID string `json:"sender_uuid" validate:"required"`
	GroupID    string `json:"group_id" validate:"required"`
	Message    string `json:"message" validate:"required"`
}

type groupMemberPayload struct {
	UserUUID string `json:"user_uuid" validate:"required"`
	GroupID  string `json:"group_id" validate:"required"`
}

type groupPayload struct {
	GroupID string `json:"group_id" validate:"required"`
}

// 出站视图。

type chatLine struct {
	UserName    string    `json:"user_name"`
	Message     string    `json:"message"`
	CreatedDate time.Time `json:"created_date"`
}

type roomLine struct {
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	CreatedDate time.Time `json:"created_date"`
}

type threadLine struct {
	ThreadID    string    `json:"thread_id,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	Sender      string    `json:"sender"`
	Message     string    `json:"message"`
	CreatedDate time.Time `json:"created_date"`
}

type groupSummary struct {
	GroupID      string    `json:"group_id"`
	GroupName    string    `json:"group_name"`
	CreatedBy    string    `json:"created_by"`
	Participants []string  `json:"participants"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type userSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	UUIDCode string `json:"uuid_code"`
}

func chatLines(msgs []models.RoomMessage) []chatLine {
	out := make([]chatLine, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatLine{UserName: m.Sender, Message: m.Body, CreatedDate: m.CreatedAt})
	}
	return out
}

func roomLines(msgs []models.RoomMessage) []roomLine {
	out := make([]roomLine, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, roomLine{Username: m.Sender, Message: m.Body, CreatedDate: m.CreatedAt})
	}
	return out
}

func threadLines(msgs []models.ThreadMessage) []threadLine {
	out := make([]threadLine, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, threadLine{ThreadID: m.ThreadID, Sender: m.Sender, Message: m.Body, CreatedDate: m.CreatedAt})
	}
	return out
}

func groupSummaries(groups []models.Thread) []groupSummary {
	out := make([]groupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupSummary{
			GroupID:      g.ID,
			GroupName:    g.GroupName,
			CreatedBy:    g.CreatedBy,
			Participants: g.ParticipantIDs(),
			UpdatedAt:    g.UpdatedAt,
		})
	}
	return out
}

func userSummaries(users []models.User) []userSummary {
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{ID: u.ID, FullName: u.FullName, Email: u.Email, UUIDCode: u.UUIDCode})
	}
	return out
}
