package pipeline

import (
	"context"

	"OpenAgent-Chain/internal/schema"
)

// Kind 区分阶段的两种角色。
type Kind string

const (
	// KindProducer 产出结构化值并写入会话状态。
	KindProducer Kind = "producer"
	// KindPresenter 读取会话状态并产出面向用户的最终结果。
	KindPresenter Kind = "presenter"
)

// Descriptor 是一个阶段的静态配置。
type Descriptor struct {
	// Name 在流水线内唯一，用于追踪与错误定位。
	Name string
	// Kind 标记阶段角色，缺省视为 producer。
	Kind Kind
	// Instruction 是交给执行后端的阶段指令。
	Instruction string
	// OutputKey 非空时，阶段通过校验的输出会写入 state[OutputKey]。
	OutputKey string
	// OutputSchema 非空时，阶段输出在提交前按其校验。
	OutputSchema *schema.Schema
	// RequiredStateKeys 列出阶段运行前必须已存在的状态键。
	RequiredStateKeys []string
}

// IsPresenter 判断阶段是否为展示阶段。
func (d Descriptor) IsPresenter() bool {
	return d.Kind == KindPresenter
}

// Executor 是阶段执行后端的统一接口。实现方拿到阶段配置、
// 用户请求与状态快照，返回原始输出；重试与退避属于实现方职责。
type Executor interface {
	ExecuteStage(ctx context.Context, stage Descriptor, input string, state map[string]any) (any, error)
}

// ExecutorFunc 便于用函数实现 Executor，测试中常用。
type ExecutorFunc func(ctx context.Context, stage Descriptor, input string, state map[string]any) (any, error)

// ExecuteStage 实现 Executor。
func (f ExecutorFunc) ExecuteStage(ctx context.Context, stage Descriptor, input string, state map[string]any) (any, error) {
	return f(ctx, stage, input, state)
}
