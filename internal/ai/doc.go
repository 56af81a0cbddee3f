// Package ai 汇总了系统中与大模型推理相关的组件说明。
//
// 流水线的阶段执行统一通过 internal/pipeline 的 Executor 接口完成。离线
// 模式下由 internal/profile 的 Executor 基于静态档案目录模拟推理结果，
// 适合本地演示与测试；接入真实模型时改用 internal/llm/openai 客户端，
// 它通过 HTTP API 把阶段指令与会话状态转换成对话消息，并解析模型返回
// 的结构化输出（参见 internal/llm 包中的 Request/Response 定义）。
package ai
