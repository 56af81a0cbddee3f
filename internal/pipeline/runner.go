package pipeline

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"

	xerrors "OpenAgent-Chain/internal/errors"
	"OpenAgent-Chain/internal/session"
)

// Result 汇总一次成功执行的产出。
type Result struct {
	// Output 是最后一个阶段的输出，即流水线结果。
	Output any `json:"output"`
	// State 是执行结束时会话状态的快照。
	State map[string]any `json:"state"`
	// SessionID 是本次执行的会话标识。
	SessionID string `json:"session_id"`
	// Stages 按执行顺序记录已完成的阶段名称。
	Stages []string `json:"stages"`
}

// Runner 按声明顺序依次执行流水线的各个阶段。
// 单次执行是严格串行的：上一阶段的输出通过校验并提交之前，
// 下一阶段不会开始。Runner 自身无状态，可被并发复用。
type Runner struct {
	executor Executor
	logger   *slog.Logger
}

// RunnerOption 定义 Runner 的可选配置。
type RunnerOption func(*Runner)

// WithLogger 指定执行日志输出。
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner 构造 Runner。
func NewRunner(executor Executor, opts ...RunnerOption) *Runner {
	r := &Runner{executor: executor}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 对给定流水线执行一次完整的请求。
// 每次调用都会创建一个全新的会话；任何一类失败都会立即终止
// 执行并带上失败阶段的名称与序号，之前阶段已提交的状态保持原样。
func (r *Runner) Run(ctx context.Context, p *Pipeline, input string) (*Result, error) {
	if r == nil || r.executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置阶段执行后端")
	}
	if p == nil || p.Len() == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidPipeline, "流水线为空")
	}

	sess := session.New()
	completed := make([]string, 0, p.Len())
	var lastOutput any

	for idx, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			// 取消只阻止调度后续阶段，已提交的状态不回滚。
			return nil, r.fail(p, stage, idx, wrapContextErr(err))
		}

		if key, ok := missingKey(sess, stage.RequiredStateKeys); ok {
			return nil, r.fail(p, stage, idx, xerrors.New(xerrors.CodeMissingDependency,
				fmt.Sprintf("阶段 %q 依赖的状态键 %q 不存在", stage.Name, key),
				xerrors.WithMetadata("key", key)))
		}

		raw, err := r.executor.ExecuteStage(ctx, stage, input, sess.Snapshot())
		if err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeUnknown {
				err = xerrors.Wrap(xerrors.CodeExecutionFailure, err,
					fmt.Sprintf("阶段 %q 执行失败", stage.Name))
			}
			return nil, r.fail(p, stage, idx, err)
		}

		if stage.OutputSchema != nil {
			structured, ok := raw.(map[string]any)
			if !ok {
				return nil, r.fail(p, stage, idx, xerrors.New(xerrors.CodeSchemaViolation,
					fmt.Sprintf("阶段 %q 声明了输出 Schema 但产出的不是对象", stage.Name),
					xerrors.WithMetadata("actual", fmt.Sprintf("%T", raw))))
			}
			if err := stage.OutputSchema.Validate(structured); err != nil {
				return nil, r.fail(p, stage, idx, err)
			}
		}

		// 提交是阶段执行后显式的独立步骤，失败阶段不会留下半成品状态。
		if stage.OutputKey != "" {
			sess.Set(stage.OutputKey, raw)
		}
		lastOutput = raw
		completed = append(completed, stage.Name)
		r.logStage(p, stage, idx, sess)
	}

	return &Result{
		Output:    lastOutput,
		State:     sess.Snapshot(),
		SessionID: sess.ID(),
		Stages:    completed,
	}, nil
}

// fail 为错误补充失败阶段的定位信息并记录日志。
func (r *Runner) fail(p *Pipeline, stage Descriptor, idx int, err error) error {
	wrapped := err
	if e, ok := xerrors.From(err); ok {
		opts := []xerrors.Option{
			xerrors.WithMetadata("pipeline", p.Name()),
			xerrors.WithMetadata("stage", stage.Name),
			xerrors.WithMetadata("stage_index", strconv.Itoa(idx)),
		}
		for key, value := range e.Metadata() {
			opts = append(opts, xerrors.WithMetadata(key, value))
		}
		wrapped = xerrors.Wrap(e.Code(), err, e.Message(), opts...)
	}
	if r.logger != nil {
		r.logger.Warn("阶段执行失败",
			slog.String("pipeline", p.Name()),
			slog.String("stage", stage.Name),
			slog.Int("stage_index", idx),
			slog.Any("error", err),
		)
	}
	return wrapped
}

func (r *Runner) logStage(p *Pipeline, stage Descriptor, idx int, sess *session.Session) {
	if r.logger == nil {
		return
	}
	r.logger.Debug("阶段执行完成",
		slog.String("pipeline", p.Name()),
		slog.String("stage", stage.Name),
		slog.Int("stage_index", idx),
		slog.String("session_id", sess.ID()),
		slog.Any("state_keys", sess.Keys()),
	)
}

func missingKey(sess *session.Session, required []string) (string, bool) {
	for _, key := range required {
		if !sess.Has(key) {
			return key, true
		}
	}
	return "", false
}

func wrapContextErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "执行超时，停止调度后续阶段")
	}
	return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "执行被取消，停止调度后续阶段")
}

// FailedStage 返回错误中记录的失败阶段名称，未记录时返回空串。
func FailedStage(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.MetadataValue("stage")
	}
	return ""
}
