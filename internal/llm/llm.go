package llm

import (
	"context"

	"HyvBase/internal/nlp"
)

// Request 描述一次自由文本生成的上下文。
type Request struct {
	System  string
	Prompt  string
	History []Exchange
}

// Exchange 是一轮历史对话，为生成提供上下文记忆。
type Exchange struct {
	User      string
	Assistant string
}

// Response 是生成得到的回复。
type Response struct {
	Reply string
}

// Client 定义了调用大模型的统一接口。命令解析输出与本地规则解析器
// 相同的结构化命令，两条路径可以互为回退。
type Client interface {
	// ParseCommand 让大模型把自然语言输入解析为结构化命令。
	ParseCommand(ctx context.Context, system, input string) (*nlp.Command, error)
	// Generate 生成自由文本回复。
	Generate(ctx context.Context, req Request) (*Response, error)
	// Embed 将文本映射为向量，供语义检索使用。
	Embed(ctx context.Context, text string) ([]float32, error)
}
