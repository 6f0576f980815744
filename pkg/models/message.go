package models

import "time"

// MessageType labels messages exchanged over the Redis event channels
type MessageType string

// Orchestrator -> agent message types.
const (
	MessageTypeTaskAssignment MessageType = "task_assignment"
	MessageTypeTaskCancel     MessageType = "task_cancel"
)

// Agent -> orchestrator message types.
const (
	MessageTypeTaskUpdate        MessageType = "task_update"
	MessageTypeTaskComplete      MessageType = "task_complete"
	MessageTypeTaskFailed        MessageType = "task_failed"
	MessageTypeCheckpointRequest MessageType = "checkpoint_request"
	MessageTypeLogEntry          MessageType = "log_entry"
)

// Orchestrator -> CLI message types (relayed over WebSocket).
const (
	MessageTypeStatusUpdate           MessageType = "status_update"
	MessageTypeCheckpointNotification MessageType = "checkpoint_notification"
	MessageTypeAgentEvent             MessageType = "agent_event"
)

// Message is the envelope for all inter-process events. Data carries
// type-specific fields; the accessors below tolerate missing keys.
type Message struct {
	Type      MessageType    `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(msgType MessageType, taskID, agentID string, data map[string]any) *Message {
	if data == nil {
		data = map[string]any{}
	}
	return &Message{
		Type:      msgType,
		TaskID:    taskID,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// DataString returns Data[key] as a string, or "" when absent or not a string.
func (m *Message) DataString(key string) string {
	if v, ok := m.Data[key].(string); ok {
		return v
	}
	return ""
}

// DataFloat returns Data[key] as a float64, or 0 when absent. JSON numbers
// decode as float64, so this covers cost and duration fields.
func (m *Message) DataFloat(key string) (float64, bool) {
	switch v := m.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
