package llm

import "context"

// Request 描述一次文本补全调用。System 为固定的角色设定，
// Prompt 为本次请求的正文（用户指令加上字段提示）。
type Request struct {
	System string
	Prompt string
}

// Response 是补全提供方返回的原始文本。
type Response struct {
	Content string
}

// Client 抽象外部补全提供方。实现方对自身的超时负责，
// 核心流水线按"每条指令恰好调用一次"的约定使用它，不做重试。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
