// Package config 提供 AgentRelay 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，Agent 密钥通过
// AGENTRELAY_AGENT_KEY_<ID> 单独注入。Reloader 轮询配置文件，
// 在校验通过后替换配置并通知回调，用于运行时轮换密钥。
package config
