package relay

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for task ids and tool call ids.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCallID generates a process-unique id for a single tool invocation.
// Prefixed so call ids are distinguishable from task ids in logs and URLs.
func NewCallID() string {
	return "call-" + NewID()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
