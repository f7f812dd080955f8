// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
包 cache 封装 go-redis 客户端，为会话状态存储提供统一的读写接口。

# 核心类型

  - Manager：持有 Redis 客户端与连接池，提供 Get/Set/Delete/Exists/Expire
    以及 GetJSON/SetJSON 便捷方法；后台定时 Ping 并在 Close 时退出。
  - Config：地址、密码、连接池大小、默认 TTL 与健康检查间隔，
    可由 ConfigFrom 从应用配置的 redis 段生成。

# 过期语义

Set 的 ttl 为 0 时使用 Config.DefaultTTL，NoExpiration 表示不过期。

# 错误

ErrCacheMiss 表示键不存在，ErrClosed 表示管理器已关闭，均可用 errors.Is 判断。
*/
package cache
