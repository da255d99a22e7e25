// Package api 暴露系统的 REST 接口:同步的指令执行端点、
// 异步的任务队列端点,以及健康检查与指标导出。
package api
