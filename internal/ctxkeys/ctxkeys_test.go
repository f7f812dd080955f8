package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		with func(context.Context, string) context.Context
		get  func(context.Context) (string, bool)
	}{
		{"request", WithRequestID, RequestID},
		{"trace", WithTraceID, TraceID},
		{"session", WithSessionID, SessionID},
		{"user", WithUserID, UserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.get(context.Background())
			assert.False(t, ok)

			_, ok = tt.get(tt.with(context.Background(), ""))
			assert.False(t, ok, "empty values are treated as absent")

			v, ok := tt.get(tt.with(context.Background(), "abc"))
			assert.True(t, ok)
			assert.Equal(t, "abc", v)
		})
	}
}

func TestKeysDoNotCollide(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithSessionID(ctx, "sess-1")

	rid, _ := RequestID(ctx)
	sid, _ := SessionID(ctx)
	assert.Equal(t, "req-1", rid)
	assert.Equal(t, "sess-1", sid)

	_, ok := TraceID(ctx)
	assert.False(t, ok)
}
