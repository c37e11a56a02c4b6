package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"chatrelay/internal/db"
	"chatrelay/internal/fanout"
	"chatrelay/internal/models"
	"chatrelay/internal/session"
	"chatrelay/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	router *Router
	reg    *session.Registry
	store  *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	st := store.New(gdb)
	reg := session.NewRegistry("node-test", fanout.NewLocal())
	require.NoError(t, reg.Start(context.Background()))
	return &harness{router: New(st, reg), reg: reg, store: st}
}

func (h *harness) send(t *testing.T, connID, event string, data any) error {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return h.router.Dispatch(context.Background(), connID, raw)
}

func frames(s *session.Session) []session.Frame {
	var out []session.Frame
	for {
		select {
		case b, ok := <-s.Send():
			if !ok {
				return out
			}
			var f session.Frame
			if err := json.Unmarshal(b, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func decodeData(t *testing.T, f session.Frame) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &m))
	return m
}

func TestDispatch_CreateRoomThenSendMessage(t *testing.T) {
	h := newHarness(t)
	x := h.reg.Connect("x")
	y := h.reg.Connect("y")

	require.NoError(t, h.send(t, "x", "create_room", map[string]string{"target_uuid": "be1x", "logged_in_uuid_code": "ab12"}))
	got := frames(x)
	require.Len(t, got, 1)
	assert.Equal(t, "room_created_success", got[0].Event)
	assert.Equal(t, "AB12BE1X", decodeData(t, got[0])["room"])

	// the other participant resolves the same key from the opposite side
	require.NoError(t, h.send(t, "y", "create_room", map[string]string{"target_uuid": "ab12", "logged_in_uuid_code": "BE1X"}))
	assert.Equal(t, "AB12BE1X", decodeData(t, frames(y)[0])["room"])

	require.NoError(t, h.send(t, "x", "send_message", map[string]string{"room": "AB12BE1X", "message": "hi", "username": "X"}))
	for _, s := range []*session.Session{x, y} {
		got := frames(s)
		require.Len(t, got, 1, "session %s", s.ID)
		assert.Equal(t, "new_message", got[0].Event)
		body := decodeData(t, got[0])
		assert.Equal(t, "X", body["username"])
		assert.Equal(t, "hi", body["message"])
		assert.NotEmpty(t, body["created_date"])
	}

	history, err := h.store.ListRoomHistory(context.Background(), "AB12BE1X")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Body)
}

func TestDispatch_GroupCreateThenMessage(t *testing.T) {
	h := newHarness(t)
	creator := h.reg.Connect("c1")
	other := h.reg.Connect("c2")

	require.NoError(t, h.send(t, "c1", "chat_group_create", map[string]string{"group_name": "Team", "user_uuid": "U1"}))
	got := frames(creator)
	require.Len(t, got, 1)
	assert.Equal(t, "group_created", got[0].Event)
	body := decodeData(t, got[0])
	assert.Equal(t, "Team", body["group_name"])
	groupID, _ := body["group_id"].(string)
	require.NotEmpty(t, groupID)
	assert.Empty(t, frames(other), "group_created goes to the sender only")

	require.NoError(t, h.send(t, "c1", "group_chat_message", map[string]string{"sender_uuid": "U1", "group_id": groupID, "message": "hello"}))
	got = frames(creator)
	require.Len(t, got, 1)
	assert.Equal(t, "group_message", got[0].Event)
	msg := decodeData(t, got[0])
	assert.Equal(t, groupID, msg["group_id"])
	assert.Equal(t, "hello", msg["message"])
	assert.Equal(t, "U1", msg["sender"])
	assert.Empty(t, frames(other))
}

func TestDispatch_GroupMessageToMissingGroup(t *testing.T) {
	h := newHarness(t)
	c := h.reg.Connect("c1")
	h.reg.Join("c1", "ghost-group")

	require.NoError(t, h.send(t, "c1", "group_chat_message", map[string]string{"sender_uuid": "U1", "group_id": "ghost-group", "message": "hello"}))
	assert.Empty(t, frames(c))
}

func TestDispatch_GroupMembershipUpdates(t *testing.T) {
	h := newHarness(t)
	owner := h.reg.Connect("c1")
	joiner := h.reg.Connect("c2")

	require.NoError(t, h.send(t, "c1", "chat_group_create", map[string]string{"group_name": "Team", "user_uuid": "U1"}))
	groupID := decodeData(t, frames(owner)[0])["group_id"].(string)

	require.NoError(t, h.send(t, "c2", "user_group_joined", map[string]string{"user_uuid": "U2", "group_id": groupID}))
	for _, s := range []*session.Session{owner, joiner} {
		got := frames(s)
		require.Len(t, got, 1)
		assert.Equal(t, "group_updated", got[0].Event)
		assert.Equal(t, "joined", decodeData(t, got[0])["action"])
	}

	require.NoError(t, h.send(t, "c1", "group_chat_history", map[string]string{"group_id": groupID}))
	hist := frames(owner)
	require.Len(t, hist, 1)
	assert.Equal(t, "group_chat_history", hist[0].Event)
	assert.ElementsMatch(t, []any{"U1", "U2"}, decodeData(t, hist[0])["participants"])

	require.NoError(t, h.send(t, "c2", "user_group_leave", map[string]string{"user_uuid": "U2", "group_id": groupID}))
	got := frames(owner)
	require.Len(t, got, 1)
	assert.Equal(t, "left", decodeData(t, got[0])["action"])
	assert.Empty(t, frames(joiner))

	// unknown group: nothing emitted
	require.NoError(t, h.send(t, "c2", "user_group_joined", map[string]string{"user_uuid": "U2", "group_id": "nope"}))
	require.NoError(t, h.send(t, "c2", "group_chat_history", map[string]string{"group_id": "nope"}))
	assert.Empty(t, frames(joiner))
}

func TestDispatch_DirectMessages(t *testing.T) {
	h := newHarness(t)
	alice := h.reg.Connect("a")
	bob := h.reg.Connect("b")

	require.NoError(t, h.send(t, "b", "user_joined", map[string]string{"user_uuid": "UB"}))
	got := frames(bob)
	require.Len(t, got, 1)
	assert.Equal(t, "return_joined_data_list", got[0].Event)

	require.NoError(t, h.send(t, "a", "direct_messages_history", map[string]string{"sender_uuid": "UA", "receiver_uuid": "UB"}))
	assert.Empty(t, frames(alice), "no thread yet")

	require.NoError(t, h.send(t, "a", "direct_message_to_user", map[string]string{"sender_uuid": "UA", "receiver_uuid": "UB", "message": "psst"}))
	got = frames(bob)
	require.Len(t, got, 1)
	assert.Equal(t, "direct_message", got[0].Event)
	dm := decodeData(t, got[0])
	assert.Equal(t, "UA", dm["sender"])
	assert.Equal(t, "psst", dm["message"])
	assert.NotEmpty(t, dm["thread_id"])
	assert.Empty(t, frames(alice))

	require.NoError(t, h.send(t, "a", "direct_message_to_user", map[string]string{"sender_uuid": "UB", "receiver_uuid": "UA", "message": "reply"}))
	require.NoError(t, h.send(t, "a", "direct_messages_history", map[string]string{"sender_uuid": "UB", "receiver_uuid": "UA"}))
	got = frames(alice)
	require.Len(t, got, 1)
	assert.Equal(t, "direct_messages", got[0].Event)
	body := decodeData(t, got[0])
	assert.Equal(t, dm["thread_id"], body["thread_id"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "psst", msgs[0].(map[string]any)["message"])
	assert.Equal(t, "reply", msgs[1].(map[string]any)["message"])
}

func TestDispatch_OpenRoomFeed(t *testing.T) {
	h := newHarness(t)
	a := h.reg.Connect("a")
	b := h.reg.Connect("b")

	require.NoError(t, h.send(t, "a", "broadcast_message", map[string]string{"user": "ann", "message": "hello all"}))
	for _, s := range []*session.Session{a, b} {
		got := frames(s)
		require.Len(t, got, 1)
		assert.Equal(t, "new_chat", got[0].Event)
		assert.Equal(t, "ann", decodeData(t, got[0])["user_name"])
	}

	require.NoError(t, h.send(t, "b", "joined_list_messages", map[string]any{}))
	got := frames(b)
	require.Len(t, got, 1)
	assert.Equal(t, "chat_history", got[0].Event)
	data := decodeData(t, got[0])["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "hello all", data[0].(map[string]any)["message"])
}

func TestDispatch_RoomControlEvents(t *testing.T) {
	h := newHarness(t)
	a := h.reg.Connect("a")
	b := h.reg.Connect("b")
	c := h.reg.Connect("c")

	require.NoError(t, h.send(t, "a", "welcome_user", map[string]string{"data": "hi"}))
	got := frames(a)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", decodeData(t, got[0])["data"])

	require.NoError(t, h.send(t, "a", "join", map[string]string{"room": "R"}))
	assert.Equal(t, "Entered room: R", decodeData(t, frames(a)[0])["data"])
	require.NoError(t, h.send(t, "b", "join", map[string]string{"room": "R"}))
	frames(b)

	require.NoError(t, h.send(t, "a", "room_chat", map[string]string{"room": "R", "data": "psst"}))
	assert.Empty(t, frames(a))
	assert.Len(t, frames(b), 1)
	assert.Empty(t, frames(c))

	require.NoError(t, h.send(t, "a", "broadcast", map[string]string{"data": "all"}))
	assert.Empty(t, frames(a))
	assert.Len(t, frames(b), 1)
	assert.Len(t, frames(c), 1)

	require.NoError(t, h.send(t, "a", "list_rooms", nil))
	assert.Equal(t, []any{"R"}, decodeData(t, frames(a)[0])["data"])

	require.NoError(t, h.send(t, "b", "leave", map[string]string{"room": "R"}))
	assert.Equal(t, "b left room: R", decodeData(t, frames(a)[0])["data"])
	assert.Empty(t, frames(b))

	require.NoError(t, h.send(t, "c", "close_room", map[string]string{"room": "R"}))
	assert.Equal(t, "Close room: R", decodeData(t, frames(a)[0])["data"])
	assert.False(t, h.reg.IsMember("a", "R"))
}

func TestDispatch_SendMessageRequiresMembership(t *testing.T) {
	h := newHarness(t)
	outsider := h.reg.Connect("o")
	member := h.reg.Connect("m")
	h.reg.Join("m", "R")

	err := h.send(t, "o", "send_message", map[string]string{"room": "R", "message": "hi", "username": "O"})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Empty(t, frames(outsider))
	assert.Empty(t, frames(member))

	history, err := h.store.ListRoomHistory(context.Background(), "R")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDispatch_FetchHistory(t *testing.T) {
	h := newHarness(t)
	c := h.reg.Connect("c")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.store.AppendToRoom(ctx, "R", "ann", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	require.NoError(t, h.send(t, "c", "fetch_history", map[string]string{"room": "R"}))
	got := frames(c)
	require.Len(t, got, 1)
	history := decodeData(t, got[0])["history"].([]any)
	require.Len(t, history, 3)
	for i, line := range history {
		assert.Equal(t, fmt.Sprintf("m%d", i), line.(map[string]any)["message"])
	}
}

func TestDispatch_InvalidInput(t *testing.T) {
	h := newHarness(t)
	c := h.reg.Connect("c")

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{{`, ErrValidation},
		{"missing event", `{"data":{}}`, ErrValidation},
		{"unknown event", `{"event":"teleport","data":{}}`, ErrUnknownEvent},
		{"missing required field", `{"event":"join","data":{}}`, ErrValidation},
		{"wrong field type", `{"event":"join","data":{"room":5}}`, ErrValidation},
		{"missing message", `{"event":"group_chat_message","data":{"sender_uuid":"U","group_id":"G"}}`, ErrValidation},
		{"bad email", `{"event":"user_joined","data":{"email":"not-an-email"}}`, ErrValidation},
		{"broadcast without data", `{"event":"broadcast","data":{}}`, ErrValidation},
		{"broadcast null data", `{"event":"broadcast","data":{"data":null}}`, ErrValidation},
		{"room_chat without data", `{"event":"room_chat","data":{"room":"R"}}`, ErrValidation},
		{"short join code", `{"event":"create_room","data":{"target_uuid":"be1","logged_in_uuid_code":"ab12"}}`, ErrValidation},
		{"non-alphanumeric join code", `{"event":"create_room","data":{"target_uuid":"be-x","logged_in_uuid_code":"ab12"}}`, ErrValidation},
		{"direct message to self", `{"event":"direct_message_to_user","data":{"sender_uuid":"U1","receiver_uuid":"U1","message":"hi"}}`, ErrValidation},
		{"history with self", `{"event":"direct_messages_history","data":{"sender_uuid":"U1","receiver_uuid":"U1"}}`, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.router.Dispatch(context.Background(), "c", []byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, frames(c))
		})
	}

	_, err := h.store.FindDirectThread(context.Background(), "U1", "U1")
	assert.ErrorIs(t, err, store.ErrNotFound, "no self thread is stored")
}

func TestDispatch_RelaysArbitraryData(t *testing.T) {
	h := newHarness(t)
	h.reg.Connect("a")
	b := h.reg.Connect("b")
	h.reg.Join("a", "R")
	h.reg.Join("b", "R")

	tests := []struct {
		name  string
		event string
		data  string
	}{
		{"broadcast object", "broadcast", `{"data":{"k":1,"list":[1,"x",true]}}`},
		{"broadcast number", "broadcast", `{"data":42}`},
		{"broadcast string", "broadcast", `{"data":"all"}`},
		{"room_chat array", "room_chat", `{"room":"R","data":[{"n":2},null]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := fmt.Sprintf(`{"event":%q,"data":%s}`, tt.event, tt.data)
			require.NoError(t, h.router.Dispatch(context.Background(), "a", []byte(raw)))

			var in map[string]json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.data), &in))
			got := frames(b)
			require.Len(t, got, 1)
			assert.Equal(t, "return_response", got[0].Event)
			assert.Equal(t, `{"data":`+string(in["data"])+`}`, string(got[0].Data))
		})
	}
}

// failingStore fails every append and panics on the open-room listing.
type failingStore struct {
	*store.Store
}

func (failingStore) AppendRoomMessage(context.Context, string, string) (models.RoomMessage, error) {
	return models.RoomMessage{}, fmt.Errorf("append: %w", store.ErrPersistence)
}

func (failingStore) AppendGroupMessage(context.Context, string, string, string) (models.ThreadMessage, bool, error) {
	return models.ThreadMessage{}, false, fmt.Errorf("append: %w", store.ErrPersistence)
}

func (failingStore) ListRoomMessages(context.Context) ([]models.RoomMessage, error) {
	panic("boom")
}

func TestDispatch_StoreFailureEmitsNothing(t *testing.T) {
	h := newHarness(t)
	r := New(failingStore{h.store}, h.reg)
	c := h.reg.Connect("c")
	h.reg.Join("c", "G")

	raw := []byte(`{"event":"broadcast_message","data":{"user":"ann","message":"lost"}}`)
	assert.ErrorIs(t, r.Dispatch(context.Background(), "c", raw), store.ErrPersistence)

	raw = []byte(`{"event":"group_chat_message","data":{"sender_uuid":"U","group_id":"G","message":"lost"}}`)
	assert.ErrorIs(t, r.Dispatch(context.Background(), "c", raw), store.ErrPersistence)
	assert.Empty(t, frames(c))
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	r := New(failingStore{h.store}, h.reg)
	c := h.reg.Connect("c")

	err := r.Dispatch(context.Background(), "c", []byte(`{"event":"joined_list_messages","data":{}}`))
	assert.ErrorIs(t, err, ErrPanic)
	assert.Empty(t, frames(c))

	// the router keeps working afterwards
	require.NoError(t, r.Dispatch(context.Background(), "c", []byte(`{"event":"welcome_user","data":{"data":"still here"}}`)))
	assert.Len(t, frames(c), 1)
}

func TestNew_RegistersEveryEvent(t *testing.T) {
	h := newHarness(t)
	want := []string{
		"welcome_user", "user_joined", "list_groups", "join", "leave", "close_room", "list_rooms",
		"room_chat", "broadcast", "broadcast_message", "joined_list_messages", "create_room",
		"send_message", "fetch_history", "direct_message_to_user", "direct_messages_history",
		"chat_group_create", "group_chat_message", "user_group_joined", "user_group_leave",
		"group_chat_history",
	}
	assert.ElementsMatch(t, want, h.router.events())
}

func TestDispatch_ListGroups(t *testing.T) {
	h := newHarness(t)
	c := h.reg.Connect("c")
	_, err := h.store.CreateGroup(context.Background(), "Team", "U1")
	require.NoError(t, err)

	require.NoError(t, h.send(t, "c", "list_groups", nil))
	got := frames(c)
	require.Len(t, got, 1)
	assert.Equal(t, "group_chat_list", got[0].Event)
	groups := decodeData(t, got[0])["groups"].([]any)
	require.Len(t, groups, 1)
	assert.Equal(t, "Team", groups[0].(map[string]any)["group_name"])
}
