package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// dataPrefix 是事件流中承载 JSON 文档的行前缀。
const dataPrefix = "data:"

// Frame is one decoded `data:` line of an upstream event stream.
// Common identifiers are lifted into fields; the full document stays in Raw.
// Fields of an unexpected JSON type are left empty.
type Frame struct {
	Event          string          `json:"event"`
	TaskID         string          `json:"task_id,omitempty"`
	WorkflowRunID  string          `json:"workflow_run_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Answer         string          `json:"answer,omitempty"`
	Thought        string          `json:"thought,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
	Status         json.RawMessage `json:"status,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// StatusCode returns the numeric status of an error frame, or 0 when absent.
// Upstreams send it either as a number or as a quoted number.
func (f Frame) StatusCode() int {
	if len(f.Status) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(f.Status, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(f.Status, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// DataMap decodes the nested data object. Non-object data yields nil.
func (f Frame) DataMap() map[string]any {
	if len(f.Data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return nil
	}
	return m
}

// Decoder turns arbitrarily split byte chunks into frames.
// The trailing partial line is kept until the next Feed or Flush.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns every frame completed by it.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	consumed := 0
	for {
		i := bytes.IndexByte(d.buf[consumed:], '\n')
		if i < 0 {
			break
		}
		if f, ok := decodeLine(d.buf[consumed : consumed+i]); ok {
			frames = append(frames, f)
		}
		consumed += i + 1
	}

	if consumed > 0 {
		rest := len(d.buf) - consumed
		copy(d.buf, d.buf[consumed:])
		d.buf = d.buf[:rest]
	}
	return frames
}

// Flush decodes whatever remains buffered as a final line and empties the buffer.
func (d *Decoder) Flush() []Frame {
	if len(d.buf) == 0 {
		return nil
	}
	f, ok := decodeLine(d.buf)
	d.Reset()
	if !ok {
		return nil
	}
	return []Frame{f}
}

// Reset drops any buffered partial line.
func (d *Decoder) Reset() {
	d.buf = nil
}

// Buffered reports the number of bytes waiting for a line terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// decodeLine 解析单行；前缀不符、空负载或 JSON 非法时静默丢弃。
func decodeLine(line []byte) (Frame, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Frame{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || payload[0] != '{' {
		return Frame{}, false
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Frame{}, false
	}

	f := Frame{
		Event:          stringField(doc, "event"),
		TaskID:         stringField(doc, "task_id"),
		WorkflowRunID:  stringField(doc, "workflow_run_id"),
		ConversationID: stringField(doc, "conversation_id"),
		MessageID:      stringField(doc, "message_id"),
		Answer:         stringField(doc, "answer"),
		Thought:        stringField(doc, "thought"),
		Code:           stringField(doc, "code"),
		Message:        stringField(doc, "message"),
		Status:         doc["status"],
		Data:           doc["data"],
		Raw:            append(json.RawMessage(nil), payload...),
	}
	return f, true
}

// stringField 宽松读取字符串字段，类型不符时返回空串而不是丢弃整行。
func stringField(doc map[string]json.RawMessage, key string) string {
	raw, ok := doc[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
