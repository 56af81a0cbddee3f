package pipeline

import (
	"fmt"
	"strings"

	xerrors "OpenAgent-Chain/internal/errors"
)

// Pipeline 是一组有序阶段的不可变定义。构造完成后只读，
// 同一定义可以被任意多次并发执行，每次执行使用独立的会话状态。
type Pipeline struct {
	name   string
	stages []Descriptor
}

// New 构造并校验一条流水线。
// 空阶段序列、重名阶段以及重复的 output_key 都会在构造期
// 以 INVALID_PIPELINE 拒绝，而不是等到运行期静默覆盖。
func New(name string, stages ...Descriptor) (*Pipeline, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidPipeline, "流水线名称不能为空")
	}
	if len(stages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidPipeline, "流水线必须至少包含一个阶段",
			xerrors.WithMetadata("pipeline", name))
	}

	seenNames := make(map[string]struct{}, len(stages))
	seenKeys := make(map[string]string, len(stages))
	normalized := make([]Descriptor, 0, len(stages))
	for idx, stage := range stages {
		stageName := strings.TrimSpace(stage.Name)
		if stageName == "" {
			return nil, xerrors.New(xerrors.CodeInvalidPipeline,
				fmt.Sprintf("第 %d 个阶段缺少名称", idx),
				xerrors.WithMetadata("pipeline", name))
		}
		if _, ok := seenNames[stageName]; ok {
			return nil, xerrors.New(xerrors.CodeInvalidPipeline,
				fmt.Sprintf("阶段名称 %q 重复", stageName),
				xerrors.WithMetadata("pipeline", name),
				xerrors.WithMetadata("stage", stageName))
		}
		seenNames[stageName] = struct{}{}

		switch stage.Kind {
		case KindProducer, KindPresenter:
		case "":
			stage.Kind = KindProducer
		default:
			return nil, xerrors.New(xerrors.CodeInvalidPipeline,
				fmt.Sprintf("阶段 %q 的类型 %q 不受支持", stageName, stage.Kind),
				xerrors.WithMetadata("pipeline", name),
				xerrors.WithMetadata("stage", stageName))
		}

		if key := strings.TrimSpace(stage.OutputKey); key != "" {
			if owner, ok := seenKeys[key]; ok {
				return nil, xerrors.New(xerrors.CodeInvalidPipeline,
					fmt.Sprintf("阶段 %q 与 %q 声明了相同的 output_key %q", stageName, owner, key),
					xerrors.WithMetadata("pipeline", name),
					xerrors.WithMetadata("output_key", key))
			}
			seenKeys[key] = stageName
			stage.OutputKey = key
		}
		stage.Name = stageName
		normalized = append(normalized, stage)
	}

	return &Pipeline{name: name, stages: normalized}, nil
}

// MustNew 与 New 相同，但在定义非法时 panic，用于静态已知合法的流水线。
func MustNew(name string, stages ...Descriptor) *Pipeline {
	p, err := New(name, stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name 返回流水线名称。
func (p *Pipeline) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Stages 返回阶段定义的副本，调用方无法改动内部序列。
func (p *Pipeline) Stages() []Descriptor {
	if p == nil {
		return nil
	}
	stages := make([]Descriptor, len(p.stages))
	copy(stages, p.stages)
	return stages
}

// Len 返回阶段数量。
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.stages)
}
