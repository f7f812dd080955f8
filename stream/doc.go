// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
Package stream 将上游 Agent 平台的 `data:` 行事件流重建为完整响应。

# 概述

网络分包后的字节流先由 Decoder 切分成行并解码为 Frame，再交给
ChatCollector（对话型 Agent）或 WorkflowCollector（工作流型 Agent）
汇总。无论字节流如何被切分，产生的 Frame 序列完全一致。

# 核心类型

  - Decoder           — 行缓冲解码器，Feed / Flush / Reset
  - Frame             — 单个已解码事件，保留原始 JSON 文档
  - ChatCollector     — 汇总回答文本、会话 ID、消息 ID 与带内错误
  - WorkflowCollector — 汇总 outputs、运行 ID、状态与增量文本
  - Event / Observer  — 按到达顺序转发给观察者的事件
  - StreamError       — 带内错误，不会中断收集

# 错误语义

带内 error 事件只被记录；传输层读取失败返回 types.ErrUpstreamError，
上下文取消返回 types.ErrCancelled，两者都不会产生部分结果。

# 推理轨迹

工作流主结果字段若是数组（ReAct 轨迹），会被移入 `_trace`，并由增量
文本或 ExtractTrace 抢救出的结构化数据替代。
*/
package stream
