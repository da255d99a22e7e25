package operation

import (
	"fmt"
	"strings"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/intent"
)

// Compiler 将 Intent 编译为 Operation。编译是纯函数：相同输入必定
// 产生结构相同的 Operation，过程中没有任何 I/O 与随机性。
type Compiler struct {
	allowedFields map[string]struct{}
}

// Option 配置 Compiler。
type Option func(*Compiler)

// WithAllowedFields 限定可引用的字段集合。为空表示不限制。
func WithAllowedFields(fields []string) Option {
	return func(c *Compiler) {
		if len(fields) == 0 {
			return
		}
		c.allowedFields = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			c.allowedFields[strings.TrimSpace(f)] = struct{}{}
		}
	}
}

// NewCompiler 创建编译器实例。
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile 从 Intent 构造 Operation。无法编译时返回 COMPILATION_FAILED。
func (c *Compiler) Compile(it *intent.Intent) (*Operation, error) {
	if it == nil {
		return nil, xerrors.New(xerrors.CodeCompilationFailed, "intent is nil")
	}
	if !it.Kind.IsValid() {
		return nil, xerrors.New(xerrors.CodeCompilationFailed,
			fmt.Sprintf("unknown intent kind %q", it.Kind))
	}

	op := &Operation{Kind: it.Kind, ConfirmAll: it.ConfirmAll}

	switch it.Kind {
	case intent.KindInsert:
		doc, err := c.compileAssignments(it.Assignments)
		if err != nil {
			return nil, err
		}
		if len(doc) == 0 {
			return nil, xerrors.New(xerrors.CodeCompilationFailed,
				"insert requires at least one field assignment")
		}
		op.InsertDocument = doc

	case intent.KindUpdate:
		filter, err := c.compileConditions(it.Conditions)
		if err != nil {
			return nil, err
		}
		fields, err := c.compileAssignments(it.Assignments)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return nil, xerrors.New(xerrors.CodeCompilationFailed,
				"update requires at least one field assignment")
		}
		op.Filter = filter
		op.UpdateFields = fields

	case intent.KindDelete:
		filter, err := c.compileConditions(it.Conditions)
		if err != nil {
			return nil, err
		}
		op.Filter = filter

	case intent.KindQuery:
		filter, err := c.compileConditions(it.Conditions)
		if err != nil {
			return nil, err
		}
		proj, err := c.compileProjection(it.RequestedFields)
		if err != nil {
			return nil, err
		}
		op.Filter = filter
		op.Projection = proj
	}

	return op, nil
}

// compileConditions 归一化算子并构造筛选条件。
// 同名字段多次出现时后者覆盖前者。
func (c *Compiler) compileConditions(hints []intent.Hint) (map[string]Condition, error) {
	if len(hints) == 0 {
		return nil, nil
	}
	filter := make(map[string]Condition, len(hints))
	for _, h := range hints {
		field := strings.TrimSpace(h.Field)
		if field == "" {
			return nil, xerrors.New(xerrors.CodeCompilationFailed,
				"condition with empty field name")
		}
		if err := c.checkField(field); err != nil {
			return nil, err
		}
		operator, err := normalizeOperator(h.Operator)
		if err != nil {
			return nil, err
		}
		filter[field] = Condition{Operator: operator, Value: h.Value}
	}
	return filter, nil
}

// compileAssignments 构造赋值集合，同名字段后写覆盖先写。
func (c *Compiler) compileAssignments(hints []intent.Hint) (map[string]any, error) {
	if len(hints) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(hints))
	for _, h := range hints {
		field := strings.TrimSpace(h.Field)
		if field == "" {
			return nil, xerrors.New(xerrors.CodeCompilationFailed,
				"assignment with empty field name")
		}
		if err := c.checkField(field); err != nil {
			return nil, err
		}
		out[field] = h.Value
	}
	return out, nil
}

// compileProjection 去重并保持首次出现顺序。
func (c *Compiler) compileProjection(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		field := strings.TrimSpace(f)
		if field == "" {
			return nil, xerrors.New(xerrors.CodeCompilationFailed,
				"projection with empty field name")
		}
		if err := c.checkField(field); err != nil {
			return nil, err
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out, nil
}

func (c *Compiler) checkField(field string) error {
	if c.allowedFields == nil {
		return nil
	}
	if field == "_id" {
		return nil
	}
	if _, ok := c.allowedFields[field]; !ok {
		return xerrors.New(xerrors.CodeCompilationFailed,
			fmt.Sprintf("field %q is not defined for this collection", field))
	}
	return nil
}

// normalizeOperator 把解析阶段的算子别名归一化为规范算子。
func normalizeOperator(raw string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "equals", "eq", "=", "==", "is":
		return OpEquals, nil
	case "greater-than", "greater_than", "gt", ">", "above", "after", "more-than":
		return OpGreaterThan, nil
	case "less-than", "less_than", "lt", "<", "below", "before":
		return OpLessThan, nil
	case "contains", "like", "has", "includes":
		return OpContains, nil
	default:
		return "", xerrors.New(xerrors.CodeCompilationFailed,
			fmt.Sprintf("unsupported operator %q", raw))
	}
}
