package schema

import (
	stdErrors "errors"
	"fmt"
	"math"
	"sort"
	"strings"

	xerrors "OpenAgent-Chain/internal/errors"
)

// Type 枚举了结构化输出中允许出现的字段类型。
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBool    Type = "bool"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeAny     Type = "any"
)

// Field 描述单个字段的类型约束。
type Field struct {
	Type     Type
	Required bool
	// Fields 仅在 Type 为 object 时生效，描述嵌套结构。
	Fields map[string]Field
	// Elem 仅在 Type 为 array 时生效，描述元素类型。
	Elem *Field
}

// Schema 是对阶段结构化输出的声明式描述。
type Schema struct {
	Fields map[string]Field
}

// New 根据字段定义构建 Schema。
func New(fields map[string]Field) *Schema {
	return &Schema{Fields: fields}
}

// Violation 记录一次校验失败的细节，供调用方展示期望与实际形态。
type Violation struct {
	Field    string
	Expected string
	Actual   string
}

// Error 实现 error 接口。
func (v *Violation) Error() string {
	return fmt.Sprintf("field %q: expected %s, got %s", v.Field, v.Expected, v.Actual)
}

// Validate 校验一个解码后的结构化值是否满足 Schema。
// 校验策略：缺失必填字段与类型不符均视为违规；未声明的多余字段
// 原样放行；不做任何类型转换。
func (s *Schema) Validate(value map[string]any) error {
	if s == nil || len(s.Fields) == 0 {
		return nil
	}
	if value == nil {
		return violationError(&Violation{Field: "", Expected: "object", Actual: "nil"})
	}
	return validateObject("", s.Fields, value)
}

// FieldNames 返回按名称排序的字段列表，便于日志与测试输出稳定。
func (s *Schema) FieldNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateObject(prefix string, fields map[string]Field, value map[string]any) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := fields[name]
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		raw, ok := value[name]
		if !ok {
			if field.Required {
				return violationError(&Violation{Field: path, Expected: describe(field), Actual: "absent"})
			}
			continue
		}
		if err := validateValue(path, field, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, field Field, raw any) error {
	switch field.Type {
	case TypeAny, "":
		return nil
	case TypeString:
		if _, ok := raw.(string); !ok {
			return mismatch(path, field, raw)
		}
	case TypeBool:
		if _, ok := raw.(bool); !ok {
			return mismatch(path, field, raw)
		}
	case TypeNumber:
		if !isNumber(raw) {
			return mismatch(path, field, raw)
		}
	case TypeInteger:
		if !isInteger(raw) {
			return mismatch(path, field, raw)
		}
	case TypeObject:
		nested, ok := raw.(map[string]any)
		if !ok {
			return mismatch(path, field, raw)
		}
		if len(field.Fields) > 0 {
			return validateObject(path, field.Fields, nested)
		}
	case TypeArray:
		items, ok := raw.([]any)
		if !ok {
			return mismatch(path, field, raw)
		}
		if field.Elem != nil {
			for idx, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", path, idx), *field.Elem, item); err != nil {
					return err
				}
			}
		}
	default:
		return violationError(&Violation{
			Field:    path,
			Expected: "known type",
			Actual:   fmt.Sprintf("unsupported declared type %q", field.Type),
		})
	}
	return nil
}

func mismatch(path string, field Field, raw any) error {
	return violationError(&Violation{Field: path, Expected: describe(field), Actual: shapeOf(raw)})
}

func violationError(v *Violation) error {
	return xerrors.Wrap(xerrors.CodeSchemaViolation, v, "",
		xerrors.WithMetadata("field", v.Field),
		xerrors.WithMetadata("expected", v.Expected),
		xerrors.WithMetadata("actual", v.Actual),
	)
}

func describe(field Field) string {
	switch field.Type {
	case TypeArray:
		if field.Elem != nil {
			return fmt.Sprintf("array of %s", field.Elem.Type)
		}
		return "array"
	case "":
		return string(TypeAny)
	default:
		return string(field.Type)
	}
}

// shapeOf 以 JSON 术语描述实际值的形态。
func shapeOf(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return fmt.Sprintf("object with keys [%s]", strings.Join(keysOf(v), ", "))
	default:
		return fmt.Sprintf("%T", raw)
	}
}

func keysOf(value map[string]any) []string {
	keys := make([]string, 0, len(value))
	for key := range value {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isNumber(raw any) bool {
	switch raw.(type) {
	case float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

func isInteger(raw any) bool {
	switch v := raw.(type) {
	case int, int32, int64:
		return true
	case float64:
		// JSON 解码得到的整数同样是 float64。
		return v == math.Trunc(v)
	default:
		return false
	}
}

// ViolationOf 从错误中提取校验细节，若错误并非 Schema 违规则返回 nil。
func ViolationOf(err error) *Violation {
	if e, ok := xerrors.From(err); !ok || e.Code() != xerrors.CodeSchemaViolation {
		return nil
	}
	var v *Violation
	if stdErrors.As(err, &v) {
		return v
	}
	return nil
}
