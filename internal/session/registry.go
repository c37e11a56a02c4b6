package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"chatrelay/internal/fanout"
	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// DefaultQueueSize 是每个会话出站队列的容量。
const DefaultQueueSize = 256

// Frame 是客户端与服务端之间交换的 JSON 文本帧。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Session 是一个本地连接。出站帧写入 Send 返回的通道，由连接的写协程消费。
type Session struct {
	ID    string
	send  chan []byte
	rooms map[string]struct{}
}

// Send 返回出站队列，会话断开时关闭。
func (s *Session) Send() <-chan []byte { return s.send }

// Registry 管理本进程内的会话和房间成员关系，并通过 fan-out 传输层发送事件。
// 所有节点（包括发起方）都在 Deliver 中完成本地投递。
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	rooms     map[string]map[string]*Session
	transport fanout.Transport
	node      string
	queueSize int
}

func NewRegistry(node string, transport fanout.Transport) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]map[string]*Session),
		transport: transport,
		node:      node,
		queueSize: DefaultQueueSize,
	}
}

// Start 订阅传输层，之后收到的信封会投递给本地会话。
func (r *Registry) Start(ctx context.Context) error {
	return r.transport.Subscribe(ctx, r.Deliver)
}

// Connect 注册一个空会话。同一 ID 重复注册时返回已有会话。
func (r *Registry) Connect(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[connID]; ok {
		return s
	}
	s := &Session{ID: connID, send: make(chan []byte, r.queueSize), rooms: make(map[string]struct{})}
	r.sessions[connID] = s
	metrics.WsConnections.Inc()
	return s
}

// Disconnect 移除会话及其全部成员关系并关闭出站队列，可重复调用。
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	for room := range s.rooms {
		r.removeMember(room, connID)
	}
	delete(r.sessions, connID)
	close(s.send)
	metrics.WsConnections.Dec()
}

// Join 把会话加入房间，未知会话忽略。
func (r *Registry) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	s.rooms[room] = struct{}{}
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	members[connID] = s
}

// Leave 把会话移出房间，未知会话或房间忽略。
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(s.rooms, room)
	r.removeMember(room, connID)
}

// removeMember 需在持有写锁时调用，房间清空后删除房间。
func (r *Registry) removeMember(room, connID string) {
	members := r.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Rooms 返回会话所在房间，按字典序排序。
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// IsMember 报告会话当前是否在房间内。
func (r *Registry) IsMember(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// online 返回本节点房间内的会话数量。
func (r *Registry) online(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// SessionCount 返回本节点当前的会话数量。
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Emit 把事件编码后发布到传输层，本地投递在 Deliver 中完成。
func (r *Registry) Emit(ctx context.Context, event string, payload any, target fanout.Target) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	env := fanout.Envelope{Origin: r.node, Kind: fanout.KindEmit, Event: event, Payload: b, Target: target}
	if err := r.transport.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// CloseRoom 发布关闭房间的控制消息，每个节点通知本地成员后清空该房间。
func (r *Registry) CloseRoom(ctx context.Context, room string) error {
	env := fanout.Envelope{Origin: r.node, Kind: fanout.KindCloseRoom, Target: ToRoom(room)}
	if err := r.transport.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish close_room: %w", err)
	}
	return nil
}

// Deliver 处理一条来自传输层的信封。
func (r *Registry) Deliver(_ context.Context, env fanout.Envelope) {
	switch env.Kind {
	case fanout.KindCloseRoom:
		r.closeLocal(env.Target.Room)
	case fanout.KindEmit, "":
		frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Payload})
		if err != nil {
			log.Warn().Err(err).Str("event", env.Event).Msg("encode frame")
			return
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, s := range r.recipients(env.Target) {
			r.enqueue(s, frame)
		}
	default:
		log.Debug().Str("kind", string(env.Kind)).Msg("unknown envelope kind")
	}
}

// recipients 需在持有读锁时调用。
func (r *Registry) recipients(t fanout.Target) []*Session {
	var out []*Session
	switch t.Kind {
	case fanout.TargetConnection:
		if s, ok := r.sessions[t.Conn]; ok && t.Conn != t.Except {
			out = append(out, s)
		}
	case fanout.TargetRoom:
		for id, s := range r.rooms[t.Room] {
			if id != t.Except {
				out = append(out, s)
			}
		}
	case fanout.TargetAll:
		for id, s := range r.sessions {
			if id != t.Except {
				out = append(out, s)
			}
		}
	}
	return out
}

// enqueue 非阻塞写入，队列满时丢弃该帧而不断开会话。
func (r *Registry) enqueue(s *Session, frame []byte) {
	select {
	case s.send <- frame:
		metrics.FramesDelivered.Inc()
	default:
		metrics.FramesDropped.Inc()
		log.Debug().Str("conn_id", s.ID).Msg("outbound queue full, frame dropped")
	}
}

func (r *Registry) closeLocal(room string) {
	data, _ := json.Marshal(map[string]string{"data": "Close room: " + room})
	frame, _ := json.Marshal(Frame{Event: "return_response", Data: data})

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.rooms[room] {
		r.enqueue(s, frame)
		delete(s.rooms, room)
		delete(r.rooms[room], id)
	}
	delete(r.rooms, room)
}
