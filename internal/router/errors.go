package router

import "errors"

// 事件分发错误，分发器据此记录日志并按类别计数，客户端不会收到错误帧。
var (
	ErrValidation   = errors.New("invalid payload")
	ErrUnknownEvent = errors.New("unknown event")
	ErrNotMember    = errors.New("sender is not a member of the room")
	ErrPanic        = errors.New("handler panic")
)
