// Copyright 2026 AgentRelay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AgentRelay 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 等待与断言: WaitFor / WaitForChannel / AssertEventuallyTrue / AssertJSONEqual
  - 数据工具: MustJSON
  - 流式辅助: ChunkedReader 按任意大小切分字节流，模拟网络分包

# 子包

  - testutil/fixtures: 事件流工厂，构造 chat 与 workflow 两类 `data:` 事件流
  - testutil/mocks: MockUpstream，基于 httptest 的托管 Agent 平台模拟，
    支持按 API Key 排队回放响应与请求记录

# 使用示例

	up := mocks.NewMockUpstream(t).
		Enqueue("key-coo", mocks.StreamReply(fixtures.ChatStream("c1", "m1", "hi")))
	client := upstream.NewClient(config.UpstreamConfig{BaseURL: up.URL()}, nil)
*/
package testutil
