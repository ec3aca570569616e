// Package events carries engine and registry notifications to in-process
// subscribers, websocket clients and an optional MQTT bridge.
package events

import "time"

// Type names an event.
type Type string

const (
	ComponentRegistered Type = "component.registered"
	WorkflowStarted     Type = "workflow.started"
	WorkflowCompleted   Type = "workflow.completed"
	WorkflowFailed      Type = "workflow.failed"
	NodeStarted         Type = "node.started"
	NodeCompleted       Type = "node.completed"
	NodeFailed          Type = "node.failed"
	ProgressUpdate      Type = "progress.update"
)

// Event is a single notification. Fields holds event specific data.
type Event struct {
	Type        Type           `json:"type"`
	RunID       string         `json:"run_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	ComponentID string         `json:"component_id,omitempty"`
	Message     string         `json:"message,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Emitter is what producers depend on.
type Emitter interface {
	Emit(Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
