package common

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out order ids.
type IDGenerator func() string

// UUIDs is the default generator.
func UUIDs() IDGenerator {
	return uuid.NewString
}

// SequentialIDs yields prefix-000001, prefix-000002, ... Replays that must
// produce identical journals use this instead of UUIDs.
func SequentialIDs(prefix string) IDGenerator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%06d", prefix, n.Add(1))
	}
}
