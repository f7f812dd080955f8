// MockUpstream 的托管 Agent 平台测试模拟实现。
//
// 按 API Key 排队回放脚本化响应，并记录全部请求。
package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/testutil/fixtures"
)

// MockReply 描述一次脚本化响应
type MockReply struct {
	Status      int
	Body        string
	ContentType string
	Delay       time.Duration
}

// StreamReply 返回 200 的事件流响应
func StreamReply(body string) MockReply {
	return MockReply{Status: http.StatusOK, Body: body, ContentType: "text/event-stream"}
}

// JSONReply 返回 JSON 响应
func JSONReply(status int, v any) MockReply {
	b, _ := json.Marshal(v)
	return MockReply{Status: status, Body: string(b), ContentType: "application/json"}
}

// UpstreamRequest 记录单次请求
type UpstreamRequest struct {
	Method string
	Path   string
	APIKey string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

// MockUpstream 是托管 Agent 平台的模拟实现
type MockUpstream struct {
	mu       sync.Mutex
	server   *httptest.Server
	replies  map[string][]MockReply
	fallback MockReply
	requests []UpstreamRequest
}

// NewMockUpstream 启动模拟服务器，测试结束时自动关闭
func NewMockUpstream(t testing.TB) *MockUpstream {
	m := &MockUpstream{
		replies:  make(map[string][]MockReply),
		fallback: StreamReply(fixtures.ChatStream("", "", "ok")),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)
	return m
}

// URL 返回模拟服务器的基础地址
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Enqueue 为指定 API Key 追加响应
func (m *MockUpstream) Enqueue(apiKey string, replies ...MockReply) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[apiKey] = append(m.replies[apiKey], replies...)
	return m
}

// WithDefault 设置队列耗尽后的默认响应
func (m *MockUpstream) WithDefault(r MockReply) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = r
	return m
}

// Requests 返回已记录请求的副本
func (m *MockUpstream) Requests() []UpstreamRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UpstreamRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockUpstream) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	req := UpstreamRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		APIKey: key,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req.Body)
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply := m.fallback
	if queue := m.replies[key]; len(queue) > 0 {
		reply = queue[0]
		m.replies[key] = queue[1:]
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply.Body))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
