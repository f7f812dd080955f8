// =============================================================================
// 📦 测试数据工厂 - 上游事件流
// =============================================================================
// 构造与托管 Agent 平台一致的 `data:` 事件流文本
// =============================================================================
package fixtures

import (
	"strings"

	"github.com/BaSui01/agentrelay/testutil"
)

// DataLine 返回单个 `data:` 事件行（含空行分隔）
func DataLine(v any) string {
	return "data: " + testutil.MustJSON(v) + "\n\n"
}

// =============================================================================
// 💬 Chat 事件流
// =============================================================================

// ChatStream 返回由若干 agent_message 增量与 message_end 组成的完整流
func ChatStream(conversationID, messageID string, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(DataLine(map[string]any{
			"event":           "agent_message",
			"conversation_id": conversationID,
			"message_id":      messageID,
			"answer":          p,
		}))
	}
	b.WriteString(MessageEnd(conversationID, messageID))
	return b.String()
}

// MessageEnd 返回 message_end 事件
func MessageEnd(conversationID, messageID string) string {
	return DataLine(map[string]any{
		"event":           "message_end",
		"conversation_id": conversationID,
		"message_id":      messageID,
	})
}

// AgentThought 返回推理步骤事件
func AgentThought(thought string) string {
	return DataLine(map[string]any{"event": "agent_thought", "thought": thought})
}

// ErrorEvent 返回带内错误事件
func ErrorEvent(code, message string, status int) string {
	return DataLine(map[string]any{
		"event":   "error",
		"code":    code,
		"message": message,
		"status":  status,
	})
}

// =============================================================================
// ⚙️ Workflow 事件流
// =============================================================================

// WorkflowStarted 返回 workflow_started 事件
func WorkflowStarted(runID, taskID string) string {
	return DataLine(map[string]any{
		"event":           "workflow_started",
		"workflow_run_id": runID,
		"task_id":         taskID,
		"data":            map[string]any{"id": runID},
	})
}

// TextChunk 返回 text_chunk 事件
func TextChunk(text string) string {
	return DataLine(map[string]any{"event": "text_chunk", "data": map[string]any{"text": text}})
}

// NodeFinished 返回 node_finished 事件
func NodeFinished(nodeID, title string) string {
	return DataLine(map[string]any{
		"event": "node_finished",
		"data":  map[string]any{"node_id": nodeID, "title": title, "status": "succeeded", "elapsed_time": 0.25},
	})
}

// WorkflowFinished 返回 workflow_finished 事件
func WorkflowFinished(runID string, outputs map[string]any, status, errMsg string) string {
	data := map[string]any{"outputs": outputs, "status": status}
	if errMsg != "" {
		data["error"] = errMsg
	}
	return DataLine(map[string]any{
		"event":           "workflow_finished",
		"workflow_run_id": runID,
		"data":            data,
	})
}

// WorkflowStream 返回完整的工作流事件流；text 非空时插入 text_chunk 事件
func WorkflowStream(runID, taskID string, outputs map[string]any, text ...string) string {
	var b strings.Builder
	b.WriteString(WorkflowStarted(runID, taskID))
	b.WriteString(NodeFinished("start", "Start"))
	for _, t := range text {
		b.WriteString(TextChunk(t))
	}
	b.WriteString(WorkflowFinished(runID, outputs, "succeeded", ""))
	return b.String()
}
