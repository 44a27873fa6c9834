package command

import (
	"context"

	xerrors "HyvBase/internal/errors"
)

// Store 抽象了命令状态的持久化接口。
type Store interface {
	Create(ctx context.Context, cmd *Command) error
	Get(ctx context.Context, id string) (*Command, error)
	Claim(ctx context.Context, id string) (*Command, error)
	MarkSucceeded(ctx context.Context, id string, result Outcome) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Command, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
