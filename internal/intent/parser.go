package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/knowledge"
	"NLMongo-Agent/internal/llm"
)

// Parser 将自然语言指令解析为 Intent。操作类型由确定性的动词规则
// 判定，补全提供方只负责抽取目标描述，因此分类行为可以脱离模型测试。
type Parser struct {
	llmClient llm.Client
	schema    knowledge.Provider
}

// Option 定义 Parser 的可选配置。
type Option func(*Parser)

// WithSchemaHints 配置集合字段说明的来源，抽取提示词会附带这些说明。
func WithSchemaHints(provider knowledge.Provider) Option {
	return func(p *Parser) {
		p.schema = provider
	}
}

// NewParser 创建 Parser。
func NewParser(llmClient llm.Client, opts ...Option) *Parser {
	p := &Parser{llmClient: llmClient}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// 动词分类规则，按 INSERT、DELETE、UPDATE 的顺序检查；都不命中则归为 QUERY。
var (
	reInsertVerb = regexp.MustCompile(`(?i)\b(insert|add|create)\b`)
	reDeleteVerb = regexp.MustCompile(`(?i)\b(delete|remove|drop)\b`)
	reUpdateVerb = regexp.MustCompile(`(?i)\b(update|change|set|modify|rename)\b`)
	reMatchAll   = regexp.MustCompile(`(?i)\b(everything|all\s+(documents|records|rows|entries|of\s+them)|entire\s+collection|whole\s+collection)\b`)
)

// ClassifyKind 按文档化的动词规则归类指令。
// 规则：insert/add/create → INSERT；delete/remove/drop → DELETE；
// update/change/set/modify/rename → UPDATE；其余一律视为 QUERY。
func ClassifyKind(instruction string) Kind {
	switch {
	case reInsertVerb.MatchString(instruction):
		return KindInsert
	case reDeleteVerb.MatchString(instruction):
		return KindDelete
	case reUpdateVerb.MatchString(instruction):
		return KindUpdate
	default:
		return KindQuery
	}
}

// extraction 是补全提供方抽取结果的约定格式。
type extraction struct {
	Conditions  []Hint   `json:"conditions"`
	Assignments []Hint   `json:"assignments"`
	Fields      []string `json:"fields"`
	MatchAll    bool     `json:"match_all"`
}

// Parse 解析一条指令。对补全提供方恰好调用一次，不做重试；
// 提供方失败或输出无法映射时返回 UNINTERPRETABLE_INSTRUCTION。
func (p *Parser) Parse(ctx context.Context, instruction string) (*Intent, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, xerrors.New(xerrors.CodeUninterpretableInstruction, "指令为空")
	}
	if p.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置补全提供方")
	}

	kind := ClassifyKind(instruction)

	resp, err := p.llmClient.Complete(ctx, llm.Request{
		System: extractionSystemPrompt,
		Prompt: p.buildExtractionPrompt(kind, instruction),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUninterpretableInstruction, err, "补全提供方调用失败")
	}

	var extracted extraction
	if err := normalizeModelJSON(resp.Content, &extracted); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUninterpretableInstruction, err, "无法解析目标描述",
			xerrors.WithMetadata("kind", string(kind)))
	}

	it := &Intent{
		Kind:            kind,
		Conditions:      pruneHints(extracted.Conditions),
		Assignments:     pruneHints(extracted.Assignments),
		RequestedFields: pruneFields(extracted.Fields),
		MatchAll:        extracted.MatchAll,
	}

	// 模型偶尔漏报 match_all；指令里明确说了 "everything" 之类时以规则为准，
	// 让这条路径不依赖模型行为。
	if !it.MatchAll && kind != KindInsert && reMatchAll.MatchString(instruction) {
		it.MatchAll = true
	}

	if kind.Mutating() && it.TargetEmpty() {
		return nil, xerrors.New(xerrors.CodeUninterpretableInstruction,
			fmt.Sprintf("无法从指令中抽取 %s 操作的目标描述", kind))
	}
	return it, nil
}

const extractionSystemPrompt = "You are a MongoDB operation extractor. " +
	"Read the user's natural language instruction and output ONLY a compact JSON object with these keys: " +
	`"conditions": a list of {"field", "op", "value"} objects selecting target documents ` +
	`(op is one of "equals", "greater-than", "less-than", "contains"); ` +
	`"assignments": a list of {"field", "op", "value"} objects for values to write (op is always "equals"); ` +
	`"fields": a list of field names the user asked to see; ` +
	`"match_all": true only if the instruction explicitly targets every document. ` +
	"Use the stated order of the instruction. If the same field is stated twice, keep both in order. " +
	"Do not invent fields. No additional text."

func (p *Parser) buildExtractionPrompt(kind Kind, instruction string) string {
	var builder strings.Builder
	builder.WriteString("Instruction: ")
	builder.WriteString(instruction)
	builder.WriteString("\nDetected operation: ")
	builder.WriteString(string(kind))
	builder.WriteString("\n")

	switch kind {
	case KindInsert:
		builder.WriteString("Extract the document fields to insert into assignments. Leave conditions empty.\n")
	case KindUpdate:
		builder.WriteString("Extract which documents to select into conditions and the new values into assignments.\n")
	case KindDelete:
		builder.WriteString("Extract which documents to delete into conditions. Leave assignments empty.\n")
	default:
		builder.WriteString("Extract the filter into conditions and any requested output fields into fields.\n")
	}

	if p.schema != nil {
		snippets := p.schema.Query(instruction)
		if len(snippets) > 0 {
			builder.WriteString("\nKnown collection fields:\n")
			for _, snippet := range snippets {
				builder.WriteString(fmt.Sprintf("- %s: %s\n", snippet.Field, snippet.Description))
			}
		}
	}
	return builder.String()
}

func pruneHints(hints []Hint) []Hint {
	result := hints[:0:0]
	for _, hint := range hints {
		hint.Field = canonicalField(hint.Field)
		if hint.Field == "" {
			continue
		}
		result = append(result, hint)
	}
	return result
}

func pruneFields(fields []string) []string {
	result := fields[:0:0]
	for _, field := range fields {
		field = canonicalField(field)
		if field == "" {
			continue
		}
		result = append(result, field)
	}
	return result
}

// canonicalField 纠正模型把文档主键写成 "id" 的习惯。
func canonicalField(field string) string {
	field = strings.TrimSpace(field)
	if field == "id" {
		return "_id"
	}
	return field
}
