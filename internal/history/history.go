// Package history 持久化智能体处理过的每条命令及其响应信封，
// 供审计与记忆回放使用。
package history

import (
	"context"
	"time"
)

// Record 表示一次命令执行的落库结构。
type Record struct {
	ID        string `json:"id"`
	Input     string `json:"input"`
	Tool      string `json:"tool"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Result    string `json:"result,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	CreatedAt int64  `json:"created_at"`
}

// Repository 抽象命令历史的持久化接口。
type Repository interface {
	Save(ctx context.Context, record Record) error
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Now 返回统一的落库时间戳（Unix 秒）。
func Now() int64 {
	return time.Now().Unix()
}
