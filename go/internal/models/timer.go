package models

import (
	"time"
)

// TimerKind identifies one of the shared spawn timers.
type TimerKind string

const (
	TimerChobos  TimerKind = "chobos"
	TimerChainos TimerKind = "chainos"
	TimerSkrab   TimerKind = "skrab"
)

// TimerKinds lists every timer slot a client subscribes to.
var TimerKinds = []TimerKind{TimerChobos, TimerChainos, TimerSkrab}

// Key returns the store key holding the current record for this kind.
func (k TimerKind) Key() string {
	return "timers." + string(k)
}

// TimerRecord is the single live record per timer kind. A new write fully
// replaces the old one; records are overwritten forever, never deleted.
// Timestamps travel as epoch milliseconds.
type TimerRecord struct {
	TargetTime    int64  `json:"targetTime"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	MinuteInput   *int   `json:"minuteInput,omitempty"`
	LastUpdatedBy string `json:"lastUpdatedBy"`
}

// Target converts the wire timestamp to a time.Time.
func (r TimerRecord) Target() time.Time {
	return time.UnixMilli(r.TargetTime)
}
