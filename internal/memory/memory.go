// Package memory 实现智能体的多层记忆：进程内近期缓存、Redis 短期记忆
// 以及基于向量相似度的长期记忆。
package memory

import (
	"context"
	"time"
)

// Kind 区分记忆条目的类别。
type Kind string

const (
	KindChat        Kind = "chat"
	KindTransaction Kind = "transaction"
)

// Interaction 是一条被持久化的交互记录。
type Interaction struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Match 是一次相似度检索的结果。
type Match struct {
	Interaction Interaction `json:"interaction"`
	Score       float64     `json:"score"`
}

// Embedder 将文本映射为向量，长期记忆依赖它做语义检索。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
