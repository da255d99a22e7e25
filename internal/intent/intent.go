package intent

// Kind 表示指令被归类后的操作类型。
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindQuery  Kind = "QUERY"
)

// IsValid 检查 Kind 是否为受支持的枚举值。
func (k Kind) IsValid() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindQuery:
		return true
	default:
		return false
	}
}

// Mutating 指示该类操作是否会改写集合内容。
func (k Kind) Mutating() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// Hint 是从指令中抽取出的一条未定型条件或赋值。
// Operator 为提供方给出的原始说法（例如 "equals"、">"、"contains"），
// 由 Operation Compiler 负责归一化；Value 保留原始 JSON 类型。
type Hint struct {
	Field    string `json:"field"`
	Operator string `json:"op"`
	Value    any    `json:"value"`
}

// Intent 是一条自然语言指令解析后、尚未定型的结构化描述。
// 它由 Parser 一次性创建，之后不再修改，由 Operation Compiler 消费。
type Intent struct {
	// Kind 由确定性的动词规则给出，而非模型输出。
	Kind Kind
	// Conditions 描述目标文档的筛选条件（UPDATE/DELETE/QUERY）。
	Conditions []Hint
	// Assignments 描述要写入的字段值（INSERT 的文档内容、UPDATE 的新值）。
	Assignments []Hint
	// RequestedFields 是 QUERY 的投影字段，保持指令中的出现顺序。
	RequestedFields []string
	// MatchAll 表示指令明确指向整个集合（例如 "delete everything"）。
	// 它是一个合法的目标描述，是否放行由 Safety Validator 决定。
	MatchAll bool
	// ConfirmAll 表示调用方显式确认了无过滤条件的全量变更。
	ConfirmAll bool
}

// TargetEmpty 判断目标描述是否为空。对变更类指令而言，
// 空的目标描述意味着指令无法安全解释。
func (it *Intent) TargetEmpty() bool {
	return len(it.Conditions) == 0 && len(it.Assignments) == 0 && !it.MatchAll
}
