package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/sessionstore"
	"github.com/BaSui01/agentrelay/relay"
	"github.com/BaSui01/agentrelay/router"
	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/testutil/fixtures"
	"github.com/BaSui01/agentrelay/testutil/mocks"
	"github.com/BaSui01/agentrelay/types"
	"github.com/BaSui01/agentrelay/upstream"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

var handlerAgents = []config.AgentConfig{
	{ID: "MASTER_COO", Name: "Master COO", Kind: config.AgentKindChat, Tier: 1, APIKey: "app-master"},
	{ID: "IDEATION", Name: "Ideation Agent", Kind: config.AgentKindChat, Tier: 3, APIKey: "app-ideation"},
	{ID: "DRAFT_BUILDER", Name: "Draft Builder", Kind: config.AgentKindChat, Tier: 3},
}

type relayFixture struct {
	up      *mocks.MockUpstream
	mux     *http.ServeMux
	relay   *relay.Relay
	handler *RelayHandler
}

func newRelayFixture(t *testing.T, health AgentReport) *relayFixture {
	t.Helper()
	up := mocks.NewMockUpstream(t)

	ucfg := config.DefaultUpstreamConfig()
	ucfg.BaseURL = up.URL()
	ucfg.RequestsPerSecond = 0
	client := upstream.NewClient(ucfg, nil)

	catalog := upstream.NewCatalog(handlerAgents)
	rt := router.New(router.Config{RootAgent: "MASTER_COO", Known: catalog.Known}, nil)
	r := relay.New(rt, catalog, client, sessionstore.NewMemoryStore(0), relay.Config{})

	h := NewRelayHandler(r, catalog, client, health, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	return &relayFixture{up: up, mux: mux, relay: r, handler: h}
}

func (f *relayFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func delegateMeta(target string) string {
	return "@@NPA_META@@" + testutil.MustJSON(map[string]any{
		"agent_action": "DELEGATE_AGENT",
		"agent_id":     "MASTER_COO",
		"payload":      map[string]any{"target_agent": target},
	})
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var resp struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp.Response
}

// =============================================================================
// 🧪 HTTP 路由测试
// =============================================================================

func TestRelayHandler_ChatAndReturn(t *testing.T) {
	f := newRelayFixture(t, nil)
	f.up.Enqueue("app-master", mocks.StreamReply(fixtures.ChatStream("conv-m1", "m1", "Routing you.", delegateMeta("IDEATION"))))

	w := f.do(http.MethodPost, "/api/relay/sessions/s1/chat", `{"query":"I want a new product"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res relay.Result
	resp := decodeResponse(t, w, &res)
	assert.True(t, resp.Success)
	assert.Equal(t, "MASTER_COO", res.AgentID)
	assert.Equal(t, "Routing you.", res.Answer)
	assert.Equal(t, "IDEATION", res.ActiveAgentID)
	assert.Equal(t, 1, res.StackDepth)

	w = f.do(http.MethodPost, "/api/relay/sessions/s1/return", `{"reason":"user_back"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var ret api.ReturnResponse
	decodeResponse(t, w, &ret)
	assert.True(t, ret.Decision.ShouldSwitch)
	assert.Equal(t, "MASTER_COO", ret.ActiveAgentID)
	assert.Equal(t, 0, ret.StackDepth)
	require.NotNil(t, ret.Decision.Change)
	assert.Equal(t, "user_back", ret.Decision.Change.Reason)
}

func TestRelayHandler_ChatValidation(t *testing.T) {
	f := newRelayFixture(t, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantCode    types.ErrorCode
	}{
		{"wrong content type", "text/plain", `{"query":"hi"}`, http.StatusUnsupportedMediaType, types.ErrInvalidRequest},
		{"unknown field", "application/json", `{"query":"hi","model":"x"}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"empty query", "application/json", `{"query":"   "}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown target", "application/json", `{"query":"hi","target_agent":"NOPE"}`, http.StatusNotFound, types.ErrAgentNotFound},
		{"unconfigured target", "application/json", `{"query":"hi","target_agent":"DRAFT_BUILDER"}`, http.StatusServiceUnavailable, types.ErrAgentNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/relay/sessions/v1/chat", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			f.mux.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w, nil)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestRelayHandler_Cancel(t *testing.T) {
	f := newRelayFixture(t, nil)

	w := f.do(http.MethodPost, "/api/relay/sessions/idle/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out api.CancelResponse
	decodeResponse(t, w, &out)
	assert.False(t, out.Cancelled)
}

func TestRelayHandler_StateLifecycle(t *testing.T) {
	f := newRelayFixture(t, nil)

	w := f.do(http.MethodGet, "/api/relay/sessions/s2/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	snap := router.Snapshot{
		Version:       router.SnapshotVersion,
		ActiveAgentID: "IDEATION",
		Stack:         []string{"MASTER_COO"},
	}
	w = f.do(http.MethodPut, "/api/relay/sessions/s2/state", testutil.MustJSON(snap))
	require.Equal(t, http.StatusOK, w.Code)

	var st api.StateResponse
	decodeResponse(t, w, &st)
	assert.Equal(t, "s2", st.SessionID)
	assert.Equal(t, "IDEATION", st.Snapshot.ActiveAgentID)
	assert.Equal(t, []string{"MASTER_COO"}, st.Snapshot.Stack)

	w = f.do(http.MethodGet, "/api/relay/sessions/s2/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodDelete, "/api/relay/sessions/s2/state", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/api/relay/sessions/s2/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelayHandler_PutStateRejectsInvalidSnapshot(t *testing.T) {
	f := newRelayFixture(t, nil)

	w := f.do(http.MethodPut, "/api/relay/sessions/s3/state", `{"version":1,"active_agent_id":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/relay/sessions/s3/state", `{"version":1,"active_agent_id":"GHOST"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w, nil)
	assert.Equal(t, string(types.ErrAgentNotFound), resp.Error.Code)
}

func TestRelayHandler_ListAgents(t *testing.T) {
	f := newRelayFixture(t, nil)

	w := f.do(http.MethodGet, "/api/relay/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "app-master")

	var out api.AgentListResponse
	decodeResponse(t, w, &out)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Configured)
	require.Len(t, out.Agents, 3)
	assert.Equal(t, "MASTER_COO", out.Agents[0].ID)
	assert.False(t, out.Agents[2].Configured)
}

func TestRelayHandler_AgentsHealth(t *testing.T) {
	f := newRelayFixture(t, nil)
	w := f.do(http.MethodGet, "/api/relay/agents/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	now := time.Now()
	f = newRelayFixture(t, staticReport{
		Summary: upstream.Summary{Total: 1, Healthy: 1, LastCheck: &now},
		Agents:  []upstream.AgentHealth{{AgentID: "MASTER_COO", Status: upstream.StatusHealthy}},
	})
	w = f.do(http.MethodGet, "/api/relay/agents/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var report upstream.Report
	decodeResponse(t, w, &report)
	assert.Equal(t, 1, report.Summary.Healthy)
	require.Len(t, report.Agents, 1)
	assert.Equal(t, upstream.StatusHealthy, report.Agents[0].Status)
}

func TestRelayHandler_Messages(t *testing.T) {
	f := newRelayFixture(t, nil)
	f.up.Enqueue("app-ideation", mocks.JSONReply(http.StatusOK, map[string]any{
		"data":     []map[string]any{{"id": "msg-1", "answer": "hello"}},
		"has_more": false,
	}))

	w := f.do(http.MethodGet, "/api/relay/agents/IDEATION/conversations/conv-9/messages?limit=5&user=u1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var history map[string]any
	decodeResponse(t, w, &history)
	assert.Equal(t, false, history["has_more"])

	reqs := f.up.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "conv-9", reqs[0].Query.Get("conversation_id"))
	assert.Equal(t, "5", reqs[0].Query.Get("limit"))
	assert.Equal(t, "u1", reqs[0].Query.Get("user"))

	w = f.do(http.MethodGet, "/api/relay/agents/NOPE/conversations/c/messages", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/relay/agents/IDEATION/conversations/c/messages?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// 🧪 WebSocket 测试
// =============================================================================

func dialStream(t *testing.T, f *relayFixture, sessionID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/relay/sessions/" + sessionID + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg api.StreamMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(testutil.TestContext(t), websocket.MessageText, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) relay.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev relay.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func readUntil(t *testing.T, conn *websocket.Conn, typ relay.EventType) []relay.Event {
	t.Helper()
	var events []relay.Event
	for i := 0; i < 50; i++ {
		ev := readEvent(t, conn)
		events = append(events, ev)
		if ev.Type == typ {
			return events
		}
	}
	t.Fatalf("no %s event received", typ)
	return nil
}

func TestRelayHandler_StreamChat(t *testing.T) {
	f := newRelayFixture(t, nil)
	f.up.Enqueue("app-master", mocks.StreamReply(fixtures.ChatStream("conv-m1", "m1", "Routing you.", delegateMeta("IDEATION"))))
	conn := dialStream(t, f, "ws1")

	msg := api.StreamMessage{Type: api.StreamMessageChat}
	msg.Query = "I want a new product"
	writeMessage(t, conn, msg)

	events := readUntil(t, conn, relay.EventResult)
	var streamed, handoffs int
	for _, ev := range events {
		assert.Equal(t, "ws1", ev.SessionID)
		switch ev.Type {
		case relay.EventStream:
			streamed++
		case relay.EventHandoff:
			handoffs++
			require.NotNil(t, ev.Handoff)
			assert.Equal(t, "IDEATION", ev.Handoff.To)
			assert.Equal(t, ev.Handoff.To, ev.AgentID)
		}
	}
	assert.Positive(t, streamed)
	assert.Equal(t, 1, handoffs)

	last := events[len(events)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, "Routing you.", last.Result.Answer)
	assert.Equal(t, "IDEATION", last.Result.ActiveAgentID)

	// result 事件先于会话释放送达
	testutil.AssertEventuallyTrue(t, func() bool { return f.relay.InFlight() == 0 }, 2*time.Second)
	writeMessage(t, conn, api.StreamMessage{Type: api.StreamMessageReturn, Reason: "user_back"})
	ev := readEvent(t, conn)
	assert.Equal(t, relay.EventHandoff, ev.Type)
	require.NotNil(t, ev.Handoff)
	assert.Equal(t, "IDEATION", ev.Handoff.From)
	assert.Equal(t, "MASTER_COO", ev.Handoff.To)
	// 与其他 handoff 事件一致，AgentID 为新的活跃 Agent
	assert.Equal(t, "MASTER_COO", ev.AgentID)
}

func TestRelayHandler_StreamErrors(t *testing.T) {
	f := newRelayFixture(t, nil)
	conn := dialStream(t, f, "ws2")

	require.NoError(t, conn.Write(testutil.TestContext(t), websocket.MessageText, []byte("not-json")))
	ev := readEvent(t, conn)
	assert.Equal(t, relay.EventError, ev.Type)
	require.NotNil(t, ev.Error)
	assert.Equal(t, types.ErrInvalidRequest, ev.Error.Code)

	writeMessage(t, conn, api.StreamMessage{Type: "dance"})
	ev = readEvent(t, conn)
	assert.Equal(t, relay.EventError, ev.Type)
	assert.Contains(t, ev.Error.Message, "dance")

	writeMessage(t, conn, api.StreamMessage{Type: api.StreamMessageChat})
	ev = readEvent(t, conn)
	assert.Equal(t, relay.EventError, ev.Type)
	assert.Equal(t, types.ErrInvalidRequest, ev.Error.Code)
}

func TestRelayHandler_StreamReturnAtRootIsSilent(t *testing.T) {
	f := newRelayFixture(t, nil)
	conn := dialStream(t, f, "ws3")

	// 根节点 Return 不产生事件，随后的非法消息应是下一条
	writeMessage(t, conn, api.StreamMessage{Type: api.StreamMessageReturn})
	require.NoError(t, conn.Write(testutil.TestContext(t), websocket.MessageText, []byte(`{`)))

	ev := readEvent(t, conn)
	assert.Equal(t, relay.EventError, ev.Type)
	assert.Equal(t, types.ErrInvalidRequest, ev.Error.Code)
}
