// Package config 负责加载启动配置,覆盖服务监听、模型提供方、
// MongoDB 连接、指令历史、任务队列与安全策略等部分。
package config
