package profile

import (
	"context"
	"fmt"
	"strings"

	xerrors "OpenAgent-Chain/internal/errors"
	"OpenAgent-Chain/internal/pipeline"
)

// Executor 是档案流水线的离线执行后端：抓取阶段直接查目录，
// 展示阶段用确定性的模板渲染。它让整个系统可以在没有任何
// 外部模型服务的情况下运行与测试。
type Executor struct {
	directory *Directory
}

// NewExecutor 构造离线执行后端。目录为空时使用内置演示目录。
func NewExecutor(directory *Directory) *Executor {
	if directory == nil {
		directory = NewBuiltinDirectory()
	}
	return &Executor{directory: directory}
}

// ExecuteStage 实现 pipeline.Executor。
func (e *Executor) ExecuteStage(_ context.Context, stage pipeline.Descriptor, input string, state map[string]any) (any, error) {
	switch stage.Name {
	case "fetch":
		return e.directory.Lookup(input).AsState(), nil
	case "present":
		raw, ok := state[StateKey]
		if !ok {
			return nil, xerrors.New(xerrors.CodeMissingDependency,
				fmt.Sprintf("状态中缺少 %q", StateKey),
				xerrors.WithMetadata("key", StateKey))
		}
		structured, ok := raw.(map[string]any)
		if !ok {
			return nil, xerrors.New(xerrors.CodeExecutionFailure,
				fmt.Sprintf("状态键 %q 不是档案对象", StateKey))
		}
		return Render(structured), nil
	default:
		return nil, xerrors.New(xerrors.CodeExecutionFailure,
			fmt.Sprintf("离线后端不支持阶段 %q", stage.Name))
	}
}

// Render 把档案对象渲染成展示文本，格式沿用分区加列表的样式。
func Render(data map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I found about %s:\n\n", stringField(data, "name"))

	b.WriteString("**Profile Information:**\n")
	fmt.Fprintf(&b, "- Name: %s\n", stringField(data, "name"))
	fmt.Fprintf(&b, "- Role: %s\n", stringField(data, "role"))
	fmt.Fprintf(&b, "- Department: %s\n", stringField(data, "department"))
	fmt.Fprintf(&b, "- Email: %s\n", stringField(data, "email"))

	if skills := listField(data, "skills"); len(skills) > 0 {
		b.WriteString("\n**Skills:**\n")
		fmt.Fprintf(&b, "- %s\n", strings.Join(skills, ", "))
	}
	if projects := listField(data, "projects"); len(projects) > 0 {
		b.WriteString("\n**Current Projects:**\n")
		for _, project := range projects {
			fmt.Fprintf(&b, "- %s\n", project)
		}
	}

	b.WriteString("\n**Account Details:**\n")
	fmt.Fprintf(&b, "- Status: %s\n", stringField(data, "status"))
	fmt.Fprintf(&b, "- Joined: %s\n", stringField(data, "joined_date"))
	fmt.Fprintf(&b, "- Last Login: %s\n", stringField(data, "last_login"))

	b.WriteString("\nIs there anything else you'd like to know about this person?")
	return b.String()
}

func stringField(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok && value != "" {
		return value
	}
	return "N/A"
}

func listField(data map[string]any, key string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if text, ok := item.(string); ok {
			items = append(items, text)
		}
	}
	return items
}

var _ pipeline.Executor = (*Executor)(nil)
