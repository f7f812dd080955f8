// 版权所有 2024 AgentRelay Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在 LICENSE 文件中找到。

/*
包 migration 管理 router_sessions 表的 Schema 迁移，基于 golang-migrate，
支持 PostgreSQL 与 MySQL。

SQL 文件通过 embed.FS 内嵌于 migrations/<dialect>/ 目录。SQLite 不走迁移器：
数据库会话存储在 sqlite 下自行建表。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close
  - DefaultMigrator：封装 golang-migrate 实例
  - CLI：为 agentrelay migrate 子命令提供格式化输出
  - NewMigratorFromConfig：由应用配置的 database 段创建迁移器
*/
package migration
