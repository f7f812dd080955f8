package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/testutil/fixtures"
	"github.com/BaSui01/agentrelay/types"
)

func TestChatCollector_AssemblesAnswer(t *testing.T) {
	body := fixtures.AgentThought("thinking") +
		fixtures.ChatStream("conv-1", "msg-1", "Hello", ", ", "world")

	var kinds []Kind
	c := NewChatCollector(WithObserver(func(ev Event) { kinds = append(kinds, ev.Kind) }))
	res, err := c.Collect(testutil.TestContext(t), testutil.ChunkedReader(body, 7, 3, 11))
	require.NoError(t, err)

	assert.Equal(t, "Hello, world", res.Answer)
	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Nil(t, res.Error)
	assert.Equal(t, []Kind{KindThought, KindChunk, KindChunk, KindChunk}, kinds)
}

func TestChatCollector_ErrorEventIsNonFatal(t *testing.T) {
	body := fixtures.ChatStream("c", "m", "partial ") +
		fixtures.ErrorEvent("TOOL_FAILED", "tool blew up", 502) +
		fixtures.DataLine(map[string]any{"event": "agent_message", "answer": "answer"})

	c := NewChatCollector()
	res, err := c.Collect(testutil.TestContext(t), strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "partial answer", res.Answer)
	require.NotNil(t, res.Error)
	assert.Equal(t, "TOOL_FAILED", res.Error.Code)
	assert.Equal(t, "tool blew up", res.Error.Message)
	assert.Equal(t, 502, res.Error.Status)
}

func TestChatCollector_ErrorDefaults(t *testing.T) {
	c := NewChatCollector()
	c.Handle(Frame{Event: EventError})

	res := c.Result()
	require.NotNil(t, res.Error)
	assert.Equal(t, DefaultChatErrorCode, res.Error.Code)
	assert.Equal(t, DefaultChatErrorMessage, res.Error.Message)
	assert.Equal(t, 500, res.Error.Status)
}

func TestChatCollector_UnterminatedFinalLine(t *testing.T) {
	body := "data: {\"event\":\"message\",\"answer\":\"a\"}\n" +
		"data: {\"event\":\"message\",\"answer\":\"b\",\"conversation_id\":\"c9\"}"

	res, err := NewChatCollector().Collect(testutil.TestContext(t), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Answer)
	assert.Equal(t, "c9", res.ConversationID)
}

func TestChatCollector_TransportFailureIsFatal(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader(fixtures.ChatStream("c", "m", "half")),
		iotest.ErrReader(errors.New("connection reset")),
	)

	res, err := NewChatCollector().Collect(testutil.TestContext(t), r)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.True(t, types.IsRetryable(err))
}

func TestChatCollector_CancellationStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	defer pw.Close()

	body := fixtures.DataLine(map[string]any{"event": "message", "answer": "one"}) +
		fixtures.DataLine(map[string]any{"event": "message", "answer": "two"})
	go func() { _, _ = pw.Write([]byte(body)) }()

	var seen []string
	c := NewChatCollector(WithObserver(func(ev Event) {
		seen = append(seen, ev.Text)
		cancel()
	}))

	res, err := c.Collect(ctx, pr)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
	assert.Equal(t, []string{"one"}, seen)
	assert.Equal(t, 0, c.decoder.Buffered())
}

func TestChatCollector_AlreadyCancelled(t *testing.T) {
	res, err := NewChatCollector().Collect(testutil.CancelledContext(), strings.NewReader(fixtures.ChatStream("c", "m", "x")))
	require.Error(t, err)
	assert.Nil(t, res)
}
