package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zaclabs/spawnsync/go/internal/models"
)

// SpawnEvent is the envelope for every message pushed to browser clients.
type SpawnEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of gateway event
type EventType string

const (
	EventTypeTimerDisplay EventType = "timer_display"
	EventTypeTimerRecord  EventType = "timer_record"
	EventTypeTimerAlert   EventType = "timer_alert"
	EventTypeRoster       EventType = "roster"
	EventTypeOrder        EventType = "order_submitted"
	EventTypeNotification EventType = "notifications_toggled"
	EventTypeError        EventType = "error"
)

// TimerDisplayPayload carries one rendered countdown line.
type TimerDisplayPayload struct {
	Slot string `json:"slot"`
	Text string `json:"text"`
}

// TimerRecordPayload announces a new timer record: who set it and for when.
// Attribution is the pre-localized "Last updated by ..." line.
type TimerRecordPayload struct {
	Timer         string `json:"timer"`
	TargetTime    int64  `json:"targetTime"`
	LastUpdatedBy string `json:"lastUpdatedBy"`
	Attribution   string `json:"attribution"`
}

// AlertKind distinguishes the pre-spawn warning from the spawn itself.
type AlertKind string

const (
	AlertWarning AlertKind = "warning"
	AlertSpawned AlertKind = "spawned"
)

// TimerAlertPayload carries a warning or spawn notification.
type TimerAlertPayload struct {
	Timer   string    `json:"timer"`
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

// RosterPayload carries the online-admins line.
type RosterPayload struct {
	Admins []string `json:"admins"`
	Text   string   `json:"text"`
}

// OrderPayload echoes a priced order back to the submitting client.
type OrderPayload struct {
	Order models.Order `json:"order"`
}

// NotificationPayload reports the current alert toggle state.
type NotificationPayload struct {
	Enabled bool `json:"enabled"`
}

// ErrorPayload reports a rejected client command.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEvent wraps a payload in the event envelope. Marshal failures are a
// programming error and yield an event with empty data.
func NewEvent(eventType EventType, payload interface{}) *SpawnEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
	}
	return &SpawnEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *SpawnEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeTimerDisplay:
		var payload TimerDisplayPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerRecord:
		var payload TimerRecordPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerAlert:
		var payload TimerAlertPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoster:
		var payload RosterPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeOrder:
		var payload OrderPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeNotification:
		var payload NotificationPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
