package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// PresenceTrigger is the source of a presence transition.
type PresenceTrigger int

const (
	// TriggerActivity is any inbound event from the participant's connection.
	TriggerActivity PresenceTrigger = iota
	// TriggerIdle is raised by the away sweep once the idle threshold elapsed.
	TriggerIdle
	// TriggerDisconnect is a confirmed disconnect or an explicit leave.
	TriggerDisconnect
)

func (t PresenceTrigger) String() string {
	switch t {
	case TriggerActivity:
		return "activity"
	case TriggerIdle:
		return "idle"
	case TriggerDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Transition returns the next status and whether it differs from current.
// Offline is terminal.
func Transition(current PresenceStatus, trigger PresenceTrigger) (PresenceStatus, bool) {
	if current == StatusOffline {
		return StatusOffline, false
	}
	var next PresenceStatus
	switch trigger {
	case TriggerActivity:
		next = StatusOnline
	case TriggerIdle:
		next = StatusAway
	case TriggerDisconnect:
		next = StatusOffline
	default:
		return current, false
	}
	return next, next != current
}

// IsIdle reports whether lastActivity is at least threshold before now.
func IsIdle(lastActivity, now time.Time, threshold time.Duration) bool {
	return now.Sub(lastActivity) >= threshold
}
