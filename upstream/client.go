package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/ctxkeys"
	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/internal/tlsutil"
	"github.com/BaSui01/agentrelay/types"
)

// Upstream API paths, relative to the configured base URL.
const (
	PathChatMessages = "/chat-messages"
	PathWorkflowRun  = "/workflows/run"
	PathMessages     = "/messages"
	PathParameters   = "/parameters"
)

const maxErrorBody = 4 << 10

// ChatRequest is one conversational turn.
type ChatRequest struct {
	Query          string
	Inputs         map[string]any
	User           string
	ConversationID string
}

// WorkflowRequest is one workflow run.
type WorkflowRequest struct {
	Inputs map[string]any
	User   string
}

// Client talks to the upstream agent platform. Streaming calls return the raw
// response body; the caller owns it and must close it.
type Client struct {
	baseURL      string
	timeout      time.Duration
	defaultUser  string
	historyLimit int
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default hardened streaming client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates an upstream client.
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "default-user"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	transport := tlsutil.TransportOptions{
		HeaderTimeout:       cfg.HeaderTimeout,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		timeout:      cfg.Timeout,
		defaultUser:  cfg.DefaultUser,
		historyLimit: cfg.HistoryLimit,
		httpClient:   tlsutil.StreamingHTTPClient(transport),
		logger:       logger.With(zap.String("component", "upstream_client")),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) + 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout is the per-call deadline callers should apply to a streaming call.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// StreamChat starts a streaming conversational turn.
func (c *Client) StreamChat(ctx context.Context, agent config.AgentConfig, req ChatRequest) (io.ReadCloser, error) {
	body := map[string]any{
		"query":         req.Query,
		"inputs":        nonNilInputs(req.Inputs),
		"user":          c.user(req.User),
		"response_mode": "streaming",
	}
	if req.ConversationID != "" {
		body["conversation_id"] = req.ConversationID
	}
	return c.stream(ctx, agent, PathChatMessages, body)
}

// RunWorkflow starts a streaming workflow run.
func (c *Client) RunWorkflow(ctx context.Context, agent config.AgentConfig, req WorkflowRequest) (io.ReadCloser, error) {
	body := map[string]any{
		"inputs":        nonNilInputs(req.Inputs),
		"user":          c.user(req.User),
		"response_mode": "streaming",
	}
	return c.stream(ctx, agent, PathWorkflowRun, body)
}

// Messages fetches the conversation history of an agent. The upstream JSON
// document is returned unchanged.
func (c *Client) Messages(ctx context.Context, agent config.AgentConfig, conversationID, user string, limit int) (json.RawMessage, error) {
	if conversationID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "conversation id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if limit <= 0 {
		limit = c.historyLimit
	}
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("user", c.user(user))
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.do(ctx, agent, http.MethodGet, PathMessages+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to read conversation history").
			WithCause(err).WithAgent(agent.ID).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
	if !json.Valid(data) {
		return nil, types.NewError(types.ErrUpstreamError, "conversation history is not valid JSON").
			WithAgent(agent.ID).WithHTTPStatus(http.StatusBadGateway)
	}
	return json.RawMessage(data), nil
}

// Ping issues a cheap authenticated request against the agent and returns
// the HTTP status. A transport failure returns status 0 and the error.
// Ping bypasses the rate limiter so health probes never starve.
func (c *Client) Ping(ctx context.Context, agent config.AgentConfig) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathParameters, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq, agent.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) stream(ctx context.Context, agent config.AgentConfig, path string, body map[string]any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.do(ctx, agent, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// do sends one request and maps every failure to *types.Error. On success
// the caller owns resp.Body.
func (c *Client) do(ctx context.Context, agent config.AgentConfig, method, path string, payload []byte) (*http.Response, error) {
	if !agent.Configured() {
		return nil, types.NewError(types.ErrAgentNotConfigured, fmt.Sprintf("agent %s is not configured (missing API key)", agent.ID)).
			WithAgent(agent.ID).WithHTTPStatus(http.StatusServiceUnavailable)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, transportError(ctx, agent.ID, err)
			}
			return nil, types.NewError(types.ErrRateLimited, "upstream request budget exhausted").
				WithCause(err).WithAgent(agent.ID).WithHTTPStatus(http.StatusTooManyRequests).WithRetryable(true)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq, agent.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("agent", agent.ID),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, transportError(ctx, agent.ID, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
		c.logger.Warn("upstream returned error status",
			zap.String("agent", agent.ID),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return nil, types.FromHTTPStatus(resp.StatusCode, msg).WithAgent(agent.ID)
	}

	c.logger.Debug("upstream request accepted",
		zap.String("agent", agent.ID),
		zap.String("path", path),
		zap.Duration("ttfb", time.Since(start)))
	return resp, nil
}

func (c *Client) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/json")
	if rid, ok := ctxkeys.RequestID(req.Context()); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	telemetry.Inject(req.Context(), req.Header)
}

func (c *Client) user(u string) string {
	if u == "" {
		return c.defaultUser
	}
	return u
}

func nonNilInputs(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}

// transportError maps a failed round trip to a typed error.
func transportError(ctx context.Context, agentID string, err error) *types.Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return types.NewError(types.ErrCancelled, "request cancelled").
			WithCause(err).WithAgent(agentID)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), isTimeout(err):
		return types.NewError(types.ErrUpstreamTimeout, "upstream timed out").
			WithCause(err).WithAgent(agentID).WithHTTPStatus(http.StatusGatewayTimeout).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, "upstream unreachable").
			WithCause(err).WithAgent(agentID).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// readErrorMessage 读取上游错误响应体中的消息
// 支持 {"message": ...} 与 {"error": {"message": ...}}，失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		switch {
		case errResp.Message != "" && errResp.Code != "":
			return fmt.Sprintf("%s (code: %s)", errResp.Message, errResp.Code)
		case errResp.Message != "":
			return errResp.Message
		case errResp.Error.Message != "":
			return errResp.Error.Message
		}
	}

	return strings.TrimSpace(string(data))
}
