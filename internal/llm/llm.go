package llm

import "context"

// Request 描述一次发送给大模型的阶段执行上下文。
type Request struct {
	// Instruction 是阶段的系统指令。
	Instruction string
	// Input 是用户的原始请求文本。
	Input string
	// State 是当前会话状态的快照，阶段可以从中读取前序阶段的产出。
	State map[string]any
	// WantJSON 表示期望模型返回一个可被解码的 JSON 对象。
	WantJSON bool
}

// Response 是大模型推理得到的输出。
type Response struct {
	// Content 是原始文本输出。
	Content string
	// Structured 是解码后的 JSON 对象，仅在 WantJSON 时填充。
	Structured map[string]any
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
