// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，
为 SQL 会话存储提供底层 *gorm.DB。

# 方言

Dialector 按 database.driver 选择 postgres、mysql 或纯 Go 的 sqlite
(github.com/glebarez/sqlite，无需 cgo)。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、
    Close()，以及 WithTransaction / WithTransactionRetry 事务封装。
  - PoolConfig：最大空闲、最大打开连接数与生命周期，PoolConfigFrom
    从应用配置生成，sqlite 固定为单连接。
*/
package database
