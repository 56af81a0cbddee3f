package pipeline

import (
	"context"
	stdErrors "errors"
	"fmt"

	xerrors "OpenAgent-Chain/internal/errors"
	"OpenAgent-Chain/internal/llm"
)

// LLMExecutor 把阶段执行交给大模型客户端：
// producer 阶段要求模型输出 JSON 对象，presenter 阶段取自由文本。
type LLMExecutor struct {
	client llm.Client
}

// NewLLMExecutor 构造基于大模型的阶段执行后端。
func NewLLMExecutor(client llm.Client) *LLMExecutor {
	return &LLMExecutor{client: client}
}

// ExecuteStage 实现 Executor。
func (e *LLMExecutor) ExecuteStage(ctx context.Context, stage Descriptor, input string, state map[string]any) (any, error) {
	if e == nil || e.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	wantJSON := !stage.IsPresenter()
	resp, err := e.client.Generate(ctx, llm.Request{
		Instruction: stage.Instruction,
		Input:       input,
		State:       state,
		WantJSON:    wantJSON,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err,
				fmt.Sprintf("阶段 %q 推理超时", stage.Name))
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err,
			fmt.Sprintf("阶段 %q 推理失败", stage.Name))
	}

	if wantJSON {
		if resp.Structured == nil {
			return nil, xerrors.New(xerrors.CodeExecutionFailure,
				fmt.Sprintf("阶段 %q 未返回结构化输出", stage.Name))
		}
		return resp.Structured, nil
	}
	return resp.Content, nil
}

var _ Executor = (*LLMExecutor)(nil)
