// Package rooms 负责把会话参与者映射为实时房间键，全部是无状态的纯函数。
package rooms

import (
	"sort"
	"strings"
)

// CanonicalDirectRoom 把两个加入码转为大写、排序后拼接，结果与参数顺序无关。
func CanonicalDirectRoom(a, b string) string {
	codes := []string{strings.ToUpper(a), strings.ToUpper(b)}
	sort.Strings(codes)
	return codes[0] + codes[1]
}

// ResolveGroupRoom 返回群聊对应的房间键，即群组 ID 本身。
func ResolveGroupRoom(groupID string) string { return groupID }

// UserRoom 返回用户的私有投递房间，私聊消息发往这里。
func UserRoom(userID string) string { return userID }
