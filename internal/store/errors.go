package store

import (
	"errors"
	"fmt"
)

// 存储层通用错误，调用方用 errors.Is 判断类别。
var (
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence failure")
	ErrEmailTaken      = errors.New("email already registered")
	ErrCodeExhausted   = errors.New("could not allocate a unique join code")
	ErrSameParticipant = errors.New("direct thread needs two distinct participants")
)

// persistErr 把驱动返回的错误包装为 ErrPersistence，同时保留原始错误链。
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
