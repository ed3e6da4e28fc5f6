package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Decomposition events
	EventDecompositionStarted EventType = "decomposition_started"
	EventDecompositionSuccess EventType = "decomposition_success"
	EventDecompositionFailure EventType = "decomposition_failure"

	// Subtask events
	EventSubtaskStarted EventType = "subtask_started"
	EventSubtaskSuccess EventType = "subtask_success"
	EventSubtaskFailure EventType = "subtask_failure"

	// Workflow events
	EventWorkflowStarted  EventType = "workflow_started"
	EventWorkflowSuccess  EventType = "workflow_success"
	EventWorkflowFailure  EventType = "workflow_failure"
	EventWorkflowDegraded EventType = "workflow_degraded"

	// Cache monitor events
	EventCacheBottleneck EventType = "cache_bottleneck"

	// Response synthesis events
	EventSynthesisStarted EventType = "synthesis_started"
	EventSynthesisSuccess EventType = "synthesis_success"
	EventSynthesisFailure EventType = "synthesis_failure"

	// Request pipeline events
	EventRequestStarted   EventType = "request_started"
	EventRequestSuccess   EventType = "request_success"
	EventRequestFailure   EventType = "request_failure"
	EventRequestCancelled EventType = "request_cancelled"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the engine
type Event interface {
	Type() EventType
	Payload() any
	Metadata() map[string]any
	// Timestamp is in Unix nanoseconds
	Timestamp() int64
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish queues an event for every subscribed handler
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types and returns a
	// subscription ID
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) (string, error)

	Unsubscribe(subscriptionID string) error

	// Close stops dispatching; queued events may be dropped
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    any
	metadata   map[string]any
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(eventType EventType, payload any, source string, metadata map[string]any) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType          { return e.eventType }
func (e *BaseEvent) Payload() any             { return e.payload }
func (e *BaseEvent) Metadata() map[string]any { return e.metadata }
func (e *BaseEvent) Timestamp() int64         { return e.timestamp }
func (e *BaseEvent) Source() string           { return e.sourceInfo }

// WithMetadata adds or updates metadata and returns the same event
func (e *BaseEvent) WithMetadata(key string, value any) *BaseEvent {
	e.metadata[key] = value
	return e
}

// SubtaskPayload describes a subtask transition.
type SubtaskPayload struct {
	WorkflowID string
	TaskID     string
	ToolName   string
	Success    bool
	FromCache  bool
	RetryCount int
	DurationMs int64
	Error      string
}

// WorkflowPayload summarizes a workflow run.
type WorkflowPayload struct {
	WorkflowID string
	Request    string
	Strategy   string
	Tasks      int
	Success    bool
	Degraded   bool
	DurationMs int64
	Error      string
}

// BottleneckPayload reports a cache monitor finding.
type BottleneckPayload struct {
	Kind     string
	Tier     string
	Value    float64
	Limit    float64
	Message  string
	Detected time.Time
}
