package session

import "chatrelay/internal/fanout"

func ToConnection(connID string) fanout.Target {
	return fanout.Target{Kind: fanout.TargetConnection, Conn: connID}
}

func ToRoom(room string) fanout.Target {
	return fanout.Target{Kind: fanout.TargetRoom, Room: room}
}

// ToRoomExcept 发往房间内除 connID 以外的成员。
func ToRoomExcept(room, connID string) fanout.Target {
	return fanout.Target{Kind: fanout.TargetRoom, Room: room, Except: connID}
}

// BroadcastExcept 发往所有会话，但不包括 connID。
func BroadcastExcept(connID string) fanout.Target {
	return fanout.Target{Kind: fanout.TargetAll, Except: connID}
}

func ToAll() fanout.Target {
	return fanout.Target{Kind: fanout.TargetAll}
}
