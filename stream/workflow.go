package stream

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Workflow status values.
const (
	StatusUnknown   = "unknown"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// WorkflowResult is the reconstructed outcome of a workflow run.
type WorkflowResult struct {
	Outputs map[string]any `json:"outputs"`
	RunID   string         `json:"workflow_run_id,omitempty"`
	TaskID  string         `json:"task_id,omitempty"`
	Status  string         `json:"status"`
	Text    string         `json:"text,omitempty"`
	Error   *StreamError   `json:"stream_error,omitempty"`
}

// WorkflowCollector assembles a workflow agent stream.
// One collector serves exactly one stream and is not safe for concurrent use.
type WorkflowCollector struct {
	opts    options
	decoder *Decoder

	outputs   map[string]any
	runID     string
	taskID    string
	status    string
	text      strings.Builder
	streamErr *StreamError

	finalized bool
}

// NewWorkflowCollector creates a collector for one workflow stream.
func NewWorkflowCollector(opts ...Option) *WorkflowCollector {
	return &WorkflowCollector{
		opts:    buildOptions("workflow_collector", opts),
		decoder: NewDecoder(),
		outputs: map[string]any{},
		status:  StatusUnknown,
	}
}

// Handle applies one decoded frame. Frames arriving after Result are ignored.
func (c *WorkflowCollector) Handle(f Frame) {
	if c.finalized {
		return
	}

	switch f.Event {
	case EventWorkflowStarted:
		c.captureIDs(f)
		c.opts.emit(Event{Kind: KindWorkflowStarted, RunID: c.runID, TaskID: c.taskID})
	case EventTextChunk:
		text := textFromData(f)
		if text != "" {
			c.text.WriteString(text)
			c.opts.emit(Event{Kind: KindTextChunk, Text: text})
		}
	case EventNodeStarted:
		c.opts.emit(Event{Kind: KindNodeStarted, Node: nodeFromFrame(f)})
	case EventNodeFinished:
		c.opts.emit(Event{Kind: KindNodeFinished, Node: nodeFromFrame(f)})
	case EventWorkflowFinished:
		c.finish(f)
	case EventError:
		c.streamErr = errorFromFrame(f, DefaultWorkflowErrorCode, DefaultWorkflowErrMessage)
		c.status = StatusFailed
		c.opts.logger.Warn("workflow error event",
			zap.String("code", c.streamErr.Code),
			zap.String("message", c.streamErr.Message))
		c.opts.emit(Event{Kind: KindError, Error: c.streamErr})
	}

	c.captureIDs(f)
}

func (c *WorkflowCollector) finish(f Frame) {
	var data struct {
		Outputs map[string]any `json:"outputs"`
		Status  string         `json:"status"`
		Error   string         `json:"error"`
	}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			c.opts.logger.Debug("workflow_finished data not decodable", zap.Error(err))
		}
	}

	c.outputs = data.Outputs
	if c.outputs == nil {
		c.outputs = map[string]any{}
	}
	c.status = data.Status
	if c.status == "" {
		c.status = StatusSucceeded
	}
	if data.Error != "" {
		c.streamErr = &StreamError{Code: WorkflowExecutionError, Message: data.Error, Status: defaultErrorStatus}
		c.opts.logger.Warn("workflow execution error", zap.String("error", truncateRunes(data.Error, 200)))
	}
	c.opts.emit(Event{Kind: KindFinished, Outputs: c.outputs, Status: c.status, Error: c.streamErr})
}

func (c *WorkflowCollector) captureIDs(f Frame) {
	if f.WorkflowRunID != "" {
		c.runID = f.WorkflowRunID
	}
	if f.TaskID != "" {
		c.taskID = f.TaskID
	}
}

// Result finalizes the run and returns it. Post-processing of the primary
// result field happens exactly once, on the first call.
func (c *WorkflowCollector) Result() *WorkflowResult {
	if !c.finalized {
		c.reconcile()
		c.finalized = true
	}
	return &WorkflowResult{
		Outputs: c.outputs,
		RunID:   c.runID,
		TaskID:  c.taskID,
		Status:  c.status,
		Text:    c.text.String(),
		Error:   c.streamErr,
	}
}

// reconcile 处理 ReAct 轨迹：主结果字段若是数组则移入旁路字段，
// 再用增量文本或轨迹中抢救出的数据替代。
func (c *WorkflowCollector) reconcile() {
	text := c.text.String()
	primary, present := c.outputs[c.opts.resultField]
	trace, isTrace := primary.([]any)

	switch {
	case isTrace && text != "":
		c.outputs[c.opts.traceField] = trace
		c.outputs[c.opts.resultField] = text
		c.opts.logger.Debug("reasoning trace replaced by streamed text", zap.Int("trace_items", len(trace)))
	case isTrace:
		c.outputs[c.opts.traceField] = trace
		extracted := ExtractTrace(trace)
		if extracted == nil {
			return
		}
		b, err := json.Marshal(extracted)
		if err != nil {
			c.opts.logger.Warn("trace extraction not serialisable", zap.Error(err))
			return
		}
		c.outputs[c.opts.resultField] = string(b)
		c.opts.logger.Debug("structured data salvaged from trace", zap.Int("keys", len(extracted)))
	case text != "" && (!present || primary == nil || primary == ""):
		c.outputs[c.opts.resultField] = text
	}
}

// Collect reads r to completion. A transport failure or cancellation returns
// an error and no result.
func (c *WorkflowCollector) Collect(ctx context.Context, r io.Reader) (*WorkflowResult, error) {
	if err := drive(ctx, r, c.decoder, c.Handle); err != nil {
		return nil, err
	}
	return c.Result(), nil
}

func textFromData(f Frame) string {
	var d struct {
		Text string `json:"text"`
	}
	if len(f.Data) == 0 {
		return ""
	}
	if err := json.Unmarshal(f.Data, &d); err != nil {
		return ""
	}
	return d.Text
}
