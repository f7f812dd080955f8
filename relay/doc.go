// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
Package relay 把一次用户输入转发给会话当前的活跃 Agent，并根据回答中的
路由信封更新委派状态。

# 一轮对话

  1. 获取会话锁；同一会话已有请求在途时返回 SESSION_BUSY
  2. 从 sessionstore 载入 router.State，不存在则从根 Agent 开始
  3. 可选的显式目标 Agent 先经 Router.Delegate 切换
  4. chat 类 Agent 走 StreamChat + ChatCollector，workflow 类走
     RunWorkflow + WorkflowCollector
  5. 解析信封，登记上游会话 ID，Router.Apply 得到新状态
  6. 持久化新状态，返回 Result

传输失败、超时和取消都返回 *types.Error，且不修改已持久化的状态。
Agent 的带内错误不算失败：Result.StreamError 非空且 Degraded 为 true。

# 流式观察

ChatStream 在收集过程中把每个 stream.Event 包装为 Event 回调给调用方，
轮次结束后依次回调 handoff 与 result 事件。回调运行在收集协程上。

# 可选行为

  - SniffDelegation  — 回答没有信封时按自然语言猜测移交
  - ForwardContext   — 委派切换后立即把本轮回答转发给新 Agent，只转发一跳
  - ReturnOnFinalize — FINALIZE_DRAFT 指定了 target_agent 时自动 Return
*/
package relay
