package testutil

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollInterval 轮询条件的间隔
const pollInterval = 10 * time.Millisecond

// =============================================================================
// 🎯 上下文
// =============================================================================

// TestContext 返回 30 秒后超时的上下文，测试结束时自动取消
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 等待与断言
// =============================================================================

// WaitFor 轮询 condition 直到为真或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// AssertEventuallyTrue 断言 condition 在 timeout 内变为真
func AssertEventuallyTrue(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()
	assert.Eventually(t, condition, timeout, pollInterval)
}

// WaitForChannel 从 ch 接收一个值，超时返回 false
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// AssertJSONEqual 比较两个值序列化后的 JSON，忽略键顺序
func AssertJSONEqual(t testing.TB, expected, actual any) {
	t.Helper()
	want, err := json.Marshal(expected)
	require.NoError(t, err, "marshal expected")
	got, err := json.Marshal(actual)
	require.NoError(t, err, "marshal actual")
	assert.JSONEq(t, string(want), string(got))
}

// MustJSON 序列化 v，失败时 panic。用于构造事件流测试数据。
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// =============================================================================
// 🌊 分包读取
// =============================================================================

// ChunkedReader 按 sizes 循环切分 payload，每次 Read 至多返回一片，
// 模拟事件流在任意字节边界被网络拆分。sizes 为空时一次读完。
func ChunkedReader(payload string, sizes ...int) io.Reader {
	return &chunkedReader{data: []byte(payload), sizes: sizes}
}

type chunkedReader struct {
	data  []byte
	sizes []int
	next  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := len(r.data)
	if len(r.sizes) > 0 {
		n = max(r.sizes[r.next%len(r.sizes)], 1)
		r.next++
	}
	n = min(n, len(r.data), len(p))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}
