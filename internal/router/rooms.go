package router

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/internal/rooms"
	"chatrelay/internal/session"
	"chatrelay/internal/store"
)

type dataReply struct {
	Data any `json:"data"`
}

func (r *Router) welcomeUser(ctx context.Context, connID string, p welcomePayload) error {
	return r.sessions.Emit(ctx, "return_response", dataReply{Data: p.Data}, session.ToConnection(connID))
}

func (r *Router) join(ctx context.Context, connID string, p roomPayload) error {
	r.sessions.Join(connID, p.Room)
	return r.sessions.Emit(ctx, "return_response", dataReply{Data: "Entered room: " + p.Room}, session.ToConnection(connID))
}

func (r *Router) leave(ctx context.Context, connID string, p roomPayload) error {
	r.sessions.Leave(connID, p.Room)
	msg := fmt.Sprintf("%s left room: %s", connID, p.Room)
	return r.sessions.Emit(ctx, "return_response", dataReply{Data: msg}, session.ToRoom(p.Room))
}

// closeRoom 由注册表在每个节点上通知房间成员并清空成员关系。
func (r *Router) closeRoom(ctx context.Context, _ string, p roomPayload) error {
	return r.sessions.CloseRoom(ctx, p.Room)
}

func (r *Router) listRooms(ctx context.Context, connID string, _ emptyPayload) error {
	joined := r.sessions.Rooms(connID)
	if joined == nil {
		joined = []string{}
	}
	return r.sessions.Emit(ctx, "return_response", dataReply{Data: joined}, session.ToConnection(connID))
}

func (r *Router) roomChat(ctx context.Context, connID string, p roomChatPayload) error {
	return r.sessions.Emit(ctx, "return_response", dataReply{Data: p.Data}, session.ToRoomExcept(p.Room, connID))
}

func (r *Router) broadcast(ctx context.Context, connID string, p dataPayload) error {
	return r.sessions.Emit(ctx, "return_response", dataReply{Data: p.Data}, session.BroadcastExcept(connID))
}

// broadcastMessage 先写入公共房间日志，写入成功后才向所有人广播。
func (r *Router) broadcastMessage(ctx context.Context, _ string, p broadcastMessagePayload) error {
	msg, err := r.store.AppendRoomMessage(ctx, p.User, p.Message)
	if err != nil {
		return err
	}
	return r.sessions.Emit(ctx, "new_chat", chatLine{UserName: msg.Sender, Message: msg.Body, CreatedDate: msg.CreatedAt}, session.ToAll())
}

func (r *Router) joinedListMessages(ctx context.Context, connID string, _ emptyPayload) error {
	msgs, err := r.store.ListRoomMessages(ctx)
	if err != nil {
		return err
	}
	return r.sessions.Emit(ctx, "chat_history", dataReply{Data: chatLines(msgs)}, session.ToConnection(connID))
}

func (r *Router) createRoom(ctx context.Context, connID string, p createRoomPayload) error {
	room := rooms.CanonicalDirectRoom(p.LoggedInUUIDCode, p.TargetUUID)
	r.sessions.Join(connID, room)
	return r.sessions.Emit(ctx, "room_created_success", map[string]string{"room": room}, session.ToConnection(connID))
}

func (r *Router) sendMessage(ctx context.Context, connID string, p sendMessagePayload) error {
	if !r.sessions.IsMember(connID, p.Room) {
		return fmt.Errorf("%w: %s", ErrNotMember, p.Room)
	}
	msg, err := r.store.AppendToRoom(ctx, p.Room, p.Username, p.Message)
	if err != nil {
		return err
	}
	return r.sessions.Emit(ctx, "new_message", roomLine{Username: msg.Sender, Message: msg.Body, CreatedDate: msg.CreatedAt}, session.ToRoom(p.Room))
}

func (r *Router) fetchHistory(ctx context.Context, connID string, p roomPayload) error {
	msgs, err := r.store.ListRoomHistory(ctx, p.Room)
	if err != nil {
		return err
	}
	return r.sessions.Emit(ctx, "chat_history", map[string]any{"history": roomLines(msgs)}, session.ToConnection(connID))
}

// userJoined 返回最近的用户与群组名单；带 user_uuid 时把连接加入该用户的投递房间。
func (r *Router) userJoined(ctx context.Context, connID string, p userJoinedPayload) error {
	if p.UserUUID != "" {
		r.sessions.Join(connID, rooms.UserRoom(p.UserUUID))
	}
	users, err := r.store.ListRecentUsers(ctx)
	if err != nil {
		return err
	}
	groups, err := r.store.ListRecentGroups(ctx)
	if err != nil {
		return err
	}
	reply := map[string]any{"users": userSummaries(users), "groups": groupSummaries(groups)}
	return r.sessions.Emit(ctx, "return_joined_data_list", reply, session.ToConnection(connID))
}

func (r *Router) listGroups(ctx context.Context, connID string, _ emptyPayload) error {
	groups, err := r.store.ListRecentGroups(ctx)
	if err != nil {
		return err
	}
	return r.sessions.Emit(ctx, "group_chat_list", map[string]any{"groups": groupSummaries(groups)}, session.ToConnection(connID))
}

// absent 报告错误是否只是目标不存在，这种情况静默结束。
func absent(err error) bool { return errors.Is(err, store.ErrNotFound) }
