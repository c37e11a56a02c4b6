package router

import (
	"context"

	"chatrelay/internal/rooms"
	"chatrelay/internal/session"

	"github.com/rs/zerolog/log"
)

// directMessageToUser 查找或创建私聊会话并追加消息，然后投递到接收方的用户房间。
func (r *Router) directMessageToUser(ctx context.Context, _ string, p directMessagePayload) error {
	th, err := r.store.GetOrCreateDirectThread(ctx, p.SenderUUID, p.ReceiverUUID)
	if err != nil {
		return err
	}
	msg, err := r.store.AppendDirectMessage(ctx, th.ID, p.SenderUUID, p.Message)
	if err != nil {
		return err
	}
	out := threadLine{ThreadID: th.ID, Sender: msg.Sender, Message: msg.Body, CreatedDate: msg.CreatedAt}
	return r.sessions.Emit(ctx, "direct_message", out, session.ToRoom(rooms.UserRoom(p.ReceiverUUID)))
}

func (r *Router) directMessagesHistory(ctx context.Context, connID string, p directHistoryPayload) error {
	th, err := r.store.FindDirectThread(ctx, p.SenderUUID, p.ReceiverUUID)
	if absent(err) {
		return nil
	}
	if err != nil {
		return err
	}
	reply := map[string]any{"thread_id": th.ID, "messages": threadLines(th.Messages)}
	return r.sessions.Emit(ctx, "direct_messages", reply, session.ToConnection(connID))
}

func (r *Router) chatGroupCreate(ctx context.Context, connID string, p groupCreatePayload) error {
	groupID, err := r.store.CreateGroup(ctx, p.GroupName, p.UserUUID)
	if err != nil {
		return err
	}
	r.sessions.Join(connID, rooms.ResolveGroupRoom(groupID))
	reply := map[string]string{"group_name": p.GroupName, "group_id": groupID}
	return r.sessions.Emit(ctx, "group_created", reply, session.ToConnection(connID))
}

// groupChatMessage 只有在群组存在且写入成功时才广播到群组房间。
func (r *Router) groupChatMessage(ctx context.Context, connID string, p groupMessagePayload) error {
	msg, ok, err := r.store.AppendGroupMessage(ctx, p.GroupID, p.SenderUUID, p.Message)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().Str("conn_id", connID).Str("group_id", p.GroupID).Msg("group message to missing group")
		return nil
	}
	out := threadLine{GroupID: p.GroupID, Sender: msg.Sender, Message: msg.Body, CreatedDate: msg.CreatedAt}
	return r.sessions.Emit(ctx, "group_message", out, session.ToRoom(rooms.ResolveGroupRoom(p.GroupID)))
}

type groupUpdate struct {
	GroupID  string `json:"group_id"`
	UserUUID string `json:"user_uuid"`
	Action   string `json:"action"`
}

func (r *Router) userGroupJoined(ctx context.Context, connID string, p groupMemberPayload) error {
	ok, err := r.store.AddParticipant(ctx, p.GroupID, p.UserUUID)
	if err != nil || !ok {
		return err
	}
	room := rooms.ResolveGroupRoom(p.GroupID)
	r.sessions.Join(connID, room)
	return r.sessions.Emit(ctx, "group_updated", groupUpdate{GroupID: p.GroupID, UserUUID: p.UserUUID, Action: "joined"}, session.ToRoom(room))
}

// userGroupLeave 先移出房间再通知，离开者本身不会收到更新。
func (r *Router) userGroupLeave(ctx context.Context, connID string, p groupMemberPayload) error {
	ok, err := r.store.RemoveParticipant(ctx, p.GroupID, p.UserUUID)
	if err != nil || !ok {
		return err
	}
	room := rooms.ResolveGroupRoom(p.GroupID)
	r.sessions.Leave(connID, room)
	return r.sessions.Emit(ctx, "group_updated", groupUpdate{GroupID: p.GroupID, UserUUID: p.UserUUID, Action: "left"}, session.ToRoom(room))
}

func (r *Router) groupChatHistory(ctx context.Context, connID string, p groupPayload) error {
	group, err := r.store.GetGroup(ctx, p.GroupID)
	if absent(err) {
		return nil
	}
	if err != nil {
		return err
	}
	reply := map[string]any{
		"group_id":     group.ID,
		"group_name":   group.GroupName,
		"participants": group.ParticipantIDs(),
		"messages":     threadLines(group.Messages),
	}
	return r.sessions.Emit(ctx, "group_chat_history", reply, session.ToConnection(connID))
}
