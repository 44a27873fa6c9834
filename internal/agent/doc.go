// Package agent 实现自然语言命令的调度核心：解析器产出结构化命令，
// 经安全策略校验后路由到对应的工具适配器执行，结果以统一响应信封
// 返回，并写入历史仓库与多层记忆。
package agent
