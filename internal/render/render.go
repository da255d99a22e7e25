package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/executor"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/llm"
	"NLMongo-Agent/pkg/logger"
)

// Renderer 把执行结果与各阶段错误渲染为面向用户的自然语言回复。
// 计数与错误信息走固定模板,保证确定性;大模型只在查询结果摘要上
// 可选参与,且摘要永远不改动模板给出的计数。
type Renderer struct {
	llmClient llm.Client
}

// Option 配置 Renderer。
type Option func(*Renderer)

// WithLLM 启用查询结果的模型摘要。摘要失败时静默回退到固定模板。
func WithLLM(client llm.Client) Option {
	return func(r *Renderer) {
		r.llmClient = client
	}
}

// NewRenderer 创建渲染器。
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render 渲染执行结果。结果上挂有存储错误时渲染失败说明,
// 并明确计数未知;不会把该错误重新抛出。
func (r *Renderer) Render(ctx context.Context, res *executor.Result) (string, error) {
	if res == nil {
		return "", xerrors.New(xerrors.CodeRenderingFailure, "nil execution result")
	}
	if res.Err != nil {
		return fmt.Sprintf("操作执行失败,影响的文档数未知:%s", logger.Mask(res.Err.Error())), nil
	}
	// Counts 缺失又无错误时计数同样未知,走保底回复而不是解引用。
	if res.Counts == nil && (res.Kind == intent.KindUpdate || res.Kind == intent.KindDelete) {
		return Fallback(nil), nil
	}

	switch res.Kind {
	case intent.KindInsert:
		return fmt.Sprintf("已插入 1 条文档,ID 为 %v。", res.InsertedID), nil
	case intent.KindUpdate:
		return fmt.Sprintf("已匹配 %d 条文档,实际更新 %d 条。",
			res.Counts.Matched, res.Counts.Modified), nil
	case intent.KindDelete:
		return fmt.Sprintf("已删除 %d 条文档。", res.Counts.Deleted), nil
	case intent.KindQuery:
		return r.renderQuery(ctx, res), nil
	default:
		return "", xerrors.New(xerrors.CodeRenderingFailure,
			fmt.Sprintf("unsupported result kind %q", res.Kind))
	}
}

func (r *Renderer) renderQuery(ctx context.Context, res *executor.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "共找到 %d 条文档。", len(res.Documents))
	if len(res.Documents) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	for _, doc := range res.Documents {
		line, err := json.Marshal(doc)
		if err != nil {
			fmt.Fprintf(&b, "%v\n", doc)
			continue
		}
		b.Write(line)
		b.WriteString("\n")
	}
	if summary := r.summarize(ctx, res.Documents); summary != "" {
		b.WriteString("摘要:")
		b.WriteString(summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// summarize 调用模型概括查询结果。任何失败都回退为空摘要。
func (r *Renderer) summarize(ctx context.Context, docs []map[string]any) string {
	if r.llmClient == nil {
		return ""
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return ""
	}
	resp, err := r.llmClient.Complete(ctx, llm.Request{
		System: "You summarize MongoDB query results in one short Chinese sentence. Never state document counts; the caller reports those.",
		Prompt: string(payload),
	})
	if err != nil || resp == nil {
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// RenderError 渲染某个处理阶段的失败。凭据等敏感信息会被打码。
func (r *Renderer) RenderError(stage string, err error) string {
	if err == nil {
		return fmt.Sprintf("在%s阶段失败。", stage)
	}
	return fmt.Sprintf("在%s阶段失败:%s", stage, logger.Mask(messageOf(err)))
}

// Fallback 是渲染本身失败时的保底回复,永远可用。
func Fallback(err error) string {
	if err == nil {
		return "操作已处理,但无法生成回复。"
	}
	return fmt.Sprintf("操作未能完成:%s", logger.Mask(messageOf(err)))
}

func messageOf(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return err.Error()
}
