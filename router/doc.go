// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
Package router 维护单个会话的 Agent 委派状态。

# 概述

State 是值类型：活跃 Agent、每个 Agent 的上游会话登记表、委派栈以及
FINALIZE_DRAFT 记录的移交。Router 的所有转移都接收一个 State 并返回新
State 与 Decision，从不修改输入，因此调用方可以在请求成功后再提交状态。

# 转移规则

  - DELEGATE_AGENT  — 压栈当前 Agent，激活 payload.target_agent
  - ROUTE_DOMAIN    — 显式 target_agent 优先，否则按领域表解析 domainId
  - FINALIZE_DRAFT  — 只记录 Handback，不切换
  - Return          — 弹栈；栈空时回到根 Agent
  - 其它动作        — 无操作

上游 Agent ID 先经别名表解析。委派给自己或目录之外的 Agent 都是无操作。

# 持久化

ExportState / ImportState 在 State 与 Snapshot 之间转换，Snapshot 可
直接 JSON 序列化，由调用方决定存储位置。
*/
package router
