package redisstate

import "fmt"

const defaultKeyPrefix = "life:"

type keySpace struct {
	prefix string
}

func newKeySpace(prefix string) keySpace {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keySpace{prefix: prefix}
}

func (k keySpace) room(roomID string) string {
	return fmt.Sprintf("%sroom:%s", k.prefix, roomID)
}

func (k keySpace) state(roomID string) string {
	return fmt.Sprintf("%sroom:%s:state", k.prefix, roomID)
}
