package stream

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
)

// ChatResult is the reconstructed response of a conversational agent.
type ChatResult struct {
	Answer         string       `json:"answer"`
	ConversationID string       `json:"conversation_id,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
	Error          *StreamError `json:"stream_error,omitempty"`
}

// ChatCollector assembles a conversational agent stream.
// One collector serves exactly one stream and is not safe for concurrent use.
type ChatCollector struct {
	opts    options
	decoder *Decoder

	answer         strings.Builder
	conversationID string
	messageID      string
	streamErr      *StreamError
}

// NewChatCollector creates a collector for one chat stream.
func NewChatCollector(opts ...Option) *ChatCollector {
	return &ChatCollector{
		opts:    buildOptions("chat_collector", opts),
		decoder: NewDecoder(),
	}
}

// Handle applies one decoded frame.
func (c *ChatCollector) Handle(f Frame) {
	switch f.Event {
	case EventAgentMessage, EventMessage:
		if f.Answer != "" {
			c.answer.WriteString(f.Answer)
			c.opts.emit(Event{Kind: KindChunk, Text: f.Answer})
		}
	case EventAgentThought:
		c.opts.emit(Event{Kind: KindThought, Text: f.Thought})
	case EventError:
		c.streamErr = errorFromFrame(f, DefaultChatErrorCode, DefaultChatErrorMessage)
		c.opts.logger.Warn("agent error event",
			zap.String("code", c.streamErr.Code),
			zap.String("message", c.streamErr.Message),
			zap.Int("status", c.streamErr.Status))
		c.opts.emit(Event{Kind: KindError, Error: c.streamErr})
	}

	// message_end 以及其它任意事件都可能携带会话标识
	if f.ConversationID != "" {
		c.conversationID = f.ConversationID
	}
	if f.MessageID != "" {
		c.messageID = f.MessageID
	}
}

// Result returns the response assembled so far.
func (c *ChatCollector) Result() *ChatResult {
	return &ChatResult{
		Answer:         c.answer.String(),
		ConversationID: c.conversationID,
		MessageID:      c.messageID,
		Error:          c.streamErr,
	}
}

// Collect reads r to completion. A transport failure or cancellation returns
// an error and no result.
func (c *ChatCollector) Collect(ctx context.Context, r io.Reader) (*ChatResult, error) {
	if err := drive(ctx, r, c.decoder, c.Handle); err != nil {
		return nil, err
	}
	return c.Result(), nil
}
