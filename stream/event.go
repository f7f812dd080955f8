package stream

import (
	"encoding/json"
	"fmt"
)

// Upstream event names.
const (
	EventAgentMessage     = "agent_message"
	EventMessage          = "message"
	EventMessageEnd       = "message_end"
	EventAgentThought     = "agent_thought"
	EventWorkflowStarted  = "workflow_started"
	EventWorkflowFinished = "workflow_finished"
	EventNodeStarted      = "node_started"
	EventNodeFinished     = "node_finished"
	EventTextChunk        = "text_chunk"
	EventError            = "error"
)

// Kind tags the variant held by an Event.
type Kind string

const (
	KindChunk           Kind = "chunk"
	KindThought         Kind = "thought"
	KindWorkflowStarted Kind = "workflow_started"
	KindNodeStarted     Kind = "node_started"
	KindNodeFinished    Kind = "node_finished"
	KindTextChunk       Kind = "text_chunk"
	KindFinished        Kind = "finished"
	KindError           Kind = "error"
)

// Event is the collector-level view of a frame, forwarded to observers.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind    Kind           `json:"kind"`
	Text    string         `json:"text,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	TaskID  string         `json:"task_id,omitempty"`
	Node    *NodeProgress  `json:"node,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Status  string         `json:"status,omitempty"`
	Error   *StreamError   `json:"error,omitempty"`
}

// NodeProgress describes a workflow node transition.
type NodeProgress struct {
	NodeID    string `json:"node_id,omitempty"`
	NodeType  string `json:"node_type,omitempty"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// StreamError is an in-band agent error. It never aborts collection.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
}

// Observer receives events in arrival order. It runs on the collecting goroutine.
type Observer func(Event)

// Default in-band error values.
const (
	DefaultChatErrorCode      = "DIFY_STREAM_ERROR"
	DefaultChatErrorMessage   = "agent stream error"
	DefaultWorkflowErrorCode  = "DIFY_WORKFLOW_STREAM_ERROR"
	DefaultWorkflowErrMessage = "workflow stream error"
	WorkflowExecutionError    = "WORKFLOW_EXECUTION_ERROR"
	defaultErrorStatus        = 500
)

func errorFromFrame(f Frame, code, message string) *StreamError {
	e := &StreamError{Code: f.Code, Message: f.Message, Status: f.StatusCode()}
	if e.Code == "" {
		e.Code = code
	}
	if e.Message == "" {
		e.Message = message
	}
	if e.Status == 0 {
		e.Status = defaultErrorStatus
	}
	return e
}

func nodeFromFrame(f Frame) *NodeProgress {
	var d struct {
		NodeID      string  `json:"node_id"`
		NodeType    string  `json:"node_type"`
		Title       string  `json:"title"`
		Status      string  `json:"status"`
		ElapsedTime float64 `json:"elapsed_time"`
	}
	if len(f.Data) > 0 {
		_ = json.Unmarshal(f.Data, &d)
	}
	return &NodeProgress{
		NodeID:    d.NodeID,
		NodeType:  d.NodeType,
		Title:     d.Title,
		Status:    d.Status,
		ElapsedMs: int64(d.ElapsedTime * 1000),
	}
}
