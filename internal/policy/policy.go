package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/operation"
)

// Policy 是执行前的安全策略。所有变更操作在触达数据存储之前都必须
// 通过 Validate;校验失败的操作绝不会产生任何存储调用。
type Policy struct {
	// AllowUnfilteredMutation 控制是否放行无筛选条件的 DELETE/UPDATE。
	// 即使为 true,请求方仍须显式携带 confirm-all 确认。默认 false。
	AllowUnfilteredMutation bool `yaml:"allow_unfiltered_mutation"`
	// AllowedFields 限定可引用的字段。为空表示不限制。
	AllowedFields []string `yaml:"allowed_fields"`
	// MaxDocumentsPerInsert 单次插入的文档数上限。0 表示不限制;
	// 流水线每次 INSERT 恰好落一个文档,单文档插入不会触碰该上限。
	MaxDocumentsPerInsert int `yaml:"max_documents_per_insert"`
	// MaxQueryResults 查询返回的文档数上限,作为 find limit 下发。
	// 0 表示不限制。
	MaxQueryResults int64 `yaml:"max_query_results"`
}

// Default 返回默认策略:拒绝全量变更,查询上限 100。
func Default() *Policy {
	return &Policy{
		AllowUnfilteredMutation: false,
		MaxQueryResults:         100,
	}
}

// LoadFile 从 YAML 文件加载策略,未出现的字段取默认值。
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("read policy file %s", path))
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("parse policy file %s", path))
	}
	if p.MaxDocumentsPerInsert < 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("max_documents_per_insert 不能为负数: %d", p.MaxDocumentsPerInsert))
	}
	if p.MaxQueryResults < 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("max_query_results 不能为负数: %d", p.MaxQueryResults))
	}
	return p, nil
}

// Validate 校验操作是否符合策略。校验通过时原样返回操作本身;
// 违反策略时返回 POLICY_VIOLATION,错误信息点名被触犯的规则。
func (p *Policy) Validate(op *operation.Operation) (*operation.Operation, error) {
	if op == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "operation is nil")
	}

	if op.Kind.Mutating() && op.Kind != intent.KindInsert && op.FilterEmpty() {
		if !op.ConfirmAll {
			return nil, xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("%s without a filter requires explicit confirm-all", op.Kind))
		}
		if !p.AllowUnfilteredMutation {
			return nil, xerrors.New(xerrors.CodePolicyViolation,
				"allow_unfiltered_mutation is disabled for this collection")
		}
	}

	if err := p.checkFields(op); err != nil {
		return nil, err
	}

	return op, nil
}

func (p *Policy) checkFields(op *operation.Operation) error {
	if len(p.AllowedFields) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(p.AllowedFields))
	for _, f := range p.AllowedFields {
		allowed[strings.TrimSpace(f)] = struct{}{}
	}
	check := func(field string) error {
		if field == "_id" {
			return nil
		}
		if _, ok := allowed[field]; !ok {
			return xerrors.New(xerrors.CodePolicyViolation,
				fmt.Sprintf("field %q is outside allowed_fields", field))
		}
		return nil
	}
	for field := range op.Filter {
		if err := check(field); err != nil {
			return err
		}
	}
	for field := range op.UpdateFields {
		if err := check(field); err != nil {
			return err
		}
	}
	for field := range op.InsertDocument {
		if err := check(field); err != nil {
			return err
		}
	}
	for _, field := range op.Projection {
		if err := check(field); err != nil {
			return err
		}
	}
	return nil
}
