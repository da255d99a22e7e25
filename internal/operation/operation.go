package operation

import "NLMongo-Agent/internal/intent"

// Operator 是归一化后的匹配算子。
type Operator string

const (
	OpEquals      Operator = "equals"
	OpGreaterThan Operator = "greater-than"
	OpLessThan    Operator = "less-than"
	OpContains    Operator = "contains"
)

// Condition 是针对单个字段的匹配条件。
type Condition struct {
	Operator Operator
	Value    any
}

// Operation 是经过编译、可直接执行的 CRUD 描述。
// 它由 Compiler 从恰好一个 Intent 构造，经 Safety Validator 校验后
// 交给 Execution Engine 消费一次，之后不再保留。
type Operation struct {
	Kind intent.Kind
	// Filter 用于 UPDATE/DELETE/QUERY 的文档筛选。空 Filter 仅对
	// QUERY 合法；对 DELETE/UPDATE 必须由 ConfirmAll 显式放行。
	Filter map[string]Condition
	// UpdateFields 仅 UPDATE 使用，非空。
	UpdateFields map[string]any
	// InsertDocument 仅 INSERT 使用。
	InsertDocument map[string]any
	// Projection 为 QUERY 的返回字段集合，保持首次出现顺序；nil 表示全部。
	Projection []string
	// ConfirmAll 表示调用方显式确认了无过滤条件的全量变更。
	ConfirmAll bool
}

// FilterEmpty 判断筛选条件是否为空。
func (op *Operation) FilterEmpty() bool {
	return len(op.Filter) == 0
}
