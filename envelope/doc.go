// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
Package envelope 从 Agent 的自由文本回答中恢复结构化路由指令。

# 概述

Envelope 由 agent_action、agent_id、payload、trace 四部分组成。
Parser 按顺序尝试一组 Strategy，全部失败时返回确定性的兜底信封，
因此 Parse 永远成功，且同一输入总是得到字节级一致的结果。

# 两种嵌入约定

  - MarkerStrategy — 行标记 `[NPA_ACTION]SHOW_RISK`，要求必须含 NPA_ACTION；
    NPA_DATA 按 JSON 解析，失败时包装为 raw_answer
  - MetaStrategy   — 内联标签 `@@NPA_META@@{...}` 或旧拼写 `@@COO_META@@{...}`，
    JSON 必须延伸到文本末尾；JSON 非法时回落到兜底信封并保留全文

# 其它构造

  - Fallback     — SHOW_RAW_RESPONSE 兜底信封
  - Error        — SHOW_ERROR 信封，允许调用方重试
  - FromWorkflow — 从工作流 outputs 构造信封
  - SniffDelegation — 可选的自然语言移交猜测，需要调用方显式开启

未知 agent_action 原样保留，Parsed.KnownAction 为 false，由调用方上报。
*/
package envelope
