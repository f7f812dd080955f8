// Package api holds the request and response types of the AgentRelay HTTP API.
//
// # API Overview
//
// AgentRelay exposes:
//   - Session turns relayed to the active upstream agent
//   - Explicit return, cancellation and state export/import per session
//   - A WebSocket stream of collector events, hand-offs and results
//   - The agent catalog and its probed health
//   - Health monitoring and metrics
//
// # Routes
//
//	POST   /api/relay/sessions/{id}/chat
//	POST   /api/relay/sessions/{id}/return
//	POST   /api/relay/sessions/{id}/cancel
//	GET    /api/relay/sessions/{id}/state
//	PUT    /api/relay/sessions/{id}/state
//	DELETE /api/relay/sessions/{id}/state
//	GET    /api/relay/sessions/{id}/stream   (WebSocket)
//	GET    /api/relay/agents
//	GET    /api/relay/agents/health
//	GET    /api/relay/agents/{agent}/conversations/{cid}/messages
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
