// Package router 把客户端的入站事件分发给对应的处理函数。
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/fanout"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/session"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store 是路由依赖的会话存储能力。
type Store interface {
	AppendRoomMessage(ctx context.Context, sender, body string) (models.RoomMessage, error)
	ListRoomMessages(ctx context.Context) ([]models.RoomMessage, error)
	AppendToRoom(ctx context.Context, room, sender, body string) (models.RoomMessage, error)
	ListRoomHistory(ctx context.Context, room string) ([]models.RoomMessage, error)
	GetOrCreateDirectThread(ctx context.Context, a, b string) (models.Thread, error)
	FindDirectThread(ctx context.Context, a, b string) (models.Thread, error)
	AppendDirectMessage(ctx context.Context, threadID, sender, body string) (models.ThreadMessage, error)
	CreateGroup(ctx context.Context, name, creatorID string) (string, error)
	AppendGroupMessage(ctx context.Context, groupID, sender, body string) (models.ThreadMessage, bool, error)
	AddParticipant(ctx context.Context, groupID, userID string) (bool, error)
	RemoveParticipant(ctx context.Context, groupID, userID string) (bool, error)
	GetGroup(ctx context.Context, groupID string) (models.Thread, error)
	ListRecentUsers(ctx context.Context) ([]models.User, error)
	ListRecentGroups(ctx context.Context) ([]models.Thread, error)
}

// Sessions 是路由依赖的会话注册表能力。
type Sessions interface {
	Join(connID, room string)
	Leave(connID, room string)
	Rooms(connID string) []string
	IsMember(connID, room string) bool
	Emit(ctx context.Context, event string, payload any, target fanout.Target) error
	CloseRoom(ctx context.Context, room string) error
}

type handlerFunc func(ctx context.Context, connID string, data json.RawMessage) error

// Router 持有一张在 New 中构建的分发表，之后只读，可被多个连接并发使用。
type Router struct {
	store    Store
	sessions Sessions
	validate *validator.Validate
	tracer   trace.Tracer
	handlers map[string]handlerFunc
}

func New(store Store, sessions Sessions) *Router {
	r := &Router{
		store:    store,
		sessions: sessions,
		validate: validator.New(),
		tracer:   otel.Tracer("chatrelay/router"),
	}
	v := r.validate
	if err := v.RegisterValidation("present", presentJSON); err != nil {
		panic(err)
	}
	r.handlers = map[string]handlerFunc{
		"welcome_user":            bind(v, r.welcomeUser),
		"user_joined":             bind(v, r.userJoined),
		"list_groups":             bind(v, r.listGroups),
		"join":                    bind(v, r.join),
		"leave":                   bind(v, r.leave),
		"close_room":              bind(v, r.closeRoom),
		"list_rooms":              bind(v, r.listRooms),
		"room_chat":               bind(v, r.roomChat),
		"broadcast":               bind(v, r.broadcast),
		"broadcast_message":       bind(v, r.broadcastMessage),
		"joined_list_messages":    bind(v, r.joinedListMessages),
		"create_room":             bind(v, r.createRoom),
		"send_message":            bind(v, r.sendMessage),
		"fetch_history":           bind(v, r.fetchHistory),
		"direct_message_to_user":  bind(v, r.directMessageToUser),
		"direct_messages_history": bind(v, r.directMessagesHistory),
		"chat_group_create":       bind(v, r.chatGroupCreate),
		"group_chat_message":      bind(v, r.groupChatMessage),
		"user_group_joined":       bind(v, r.userGroupJoined),
		"user_group_leave":        bind(v, r.userGroupLeave),
		"group_chat_history":      bind(v, r.groupChatHistory),
	}
	return r
}

// events 返回已注册的事件名。
func (r *Router) events() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// presentJSON 要求原始 JSON 字段存在且不为 null。
func presentJSON(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(json.RawMessage)
	return ok && len(raw) > 0 && string(raw) != "null"
}

// bind 把强类型处理函数包装为分发表条目：先解码，再校验，最后调用。
func bind[T any](v *validator.Validate, fn func(ctx context.Context, connID string, p T) error) handlerFunc {
	return func(ctx context.Context, connID string, data json.RawMessage) error {
		var p T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		if err := v.Struct(p); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return fn(ctx, connID, p)
	}
}

// Dispatch 解码一帧并调用对应处理函数。返回的错误已经记录日志并计入指标，
// 调用方无需再向客户端回写。
func (r *Router) Dispatch(ctx context.Context, connID string, raw []byte) (err error) {
	var frame session.Frame
	if jerr := json.Unmarshal(raw, &frame); jerr != nil || frame.Event == "" {
		metrics.WsEventsTotal.WithLabelValues("malformed", "invalid").Inc()
		log.Debug().Str("conn_id", connID).Msg("malformed frame dropped")
		return fmt.Errorf("%w: malformed frame", ErrValidation)
	}
	h, ok := r.handlers[frame.Event]
	if !ok {
		metrics.WsEventsTotal.WithLabelValues("unknown", "unknown").Inc()
		log.Debug().Str("conn_id", connID).Str("event", frame.Event).Msg("unknown event dropped")
		return fmt.Errorf("%w: %s", ErrUnknownEvent, frame.Event)
	}

	ctx, span := r.tracer.Start(ctx, "ws."+frame.Event,
		trace.WithAttributes(attribute.String("conn_id", connID)))
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
		metrics.WsEventDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())
		metrics.WsEventsTotal.WithLabelValues(frame.Event, resultOf(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logFailure(connID, frame.Event, err)
		}
		span.End()
	}()
	return h(ctx, connID, frame.Data)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotMember):
		return "rejected"
	case errors.Is(err, ErrPanic):
		return "panic"
	default:
		return "error"
	}
}

func logFailure(connID, event string, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotMember):
		log.Debug().Err(err).Str("conn_id", connID).Str("event", event).Msg("event rejected")
	default:
		log.Error().Err(err).Str("conn_id", connID).Str("event", event).Msg("event failed")
	}
}
