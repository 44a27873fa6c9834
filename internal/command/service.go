package command

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "HyvBase/internal/errors"
	"HyvBase/pkg/logger"
)

// Request 描述一次命令提交。ID 为空时自动生成；携带 ID 的重复提交
// 幂等地返回既有命令。
type Request struct {
	ID       string
	Input    string
	Metadata map[string]any
}

// Service 负责命令的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造命令服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的命令并推送到队列。
func (s *Service) Submit(ctx context.Context, req Request) (*Command, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, xerrors.New(CodeCommandValidation, "命令内容不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "命令服务未初始化")
	}

	commandID := strings.TrimSpace(req.ID)
	if commandID != "" {
		cmd, err := s.store.Get(ctx, commandID)
		if err == nil {
			return cmd, nil
		}
		if !stdErrors.Is(err, ErrCommandNotFound) {
			return nil, err
		}
	} else {
		commandID = uuid.NewString()
	}

	cmd := &Command{
		ID:         commandID,
		Input:      req.Input,
		Metadata:   cloneMetadata(req.Metadata),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, cmd); err != nil {
		if stdErrors.Is(err, ErrCommandConflict) {
			existing, getErr := s.store.Get(ctx, commandID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrCommandNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, commandID); err != nil {
		logger.L().Error("命令入队失败", slog.Any("error", err), slog.String("command_id", commandID))
		wrapped := xerrors.Wrap(CodeCommandPublish, err, "发布命令到队列失败")
		_ = s.store.MarkFailed(ctx, commandID, CodeCommandPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("命令入队成功",
		slog.String("command_id", commandID),
		slog.String("input", cmd.Input),
		slog.Int("max_retries", cmd.MaxRetries),
	)
	return cmd, nil
}

// Get 返回指定命令的状态。
func (s *Service) Get(ctx context.Context, id string) (*Command, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "命令存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的命令列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Command, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "命令存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的命令统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "命令存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询命令状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Command, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cmd, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cmd.Status == StatusSucceeded || cmd.Status == StatusFailed {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
