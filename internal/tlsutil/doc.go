// Package tlsutil 提供访问上游 Agent 平台的 HTTP 客户端，
// 统一使用安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
