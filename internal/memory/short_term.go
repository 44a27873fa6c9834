package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "HyvBase/internal/errors"
)

// ShortTermConfig 描述 Redis 短期记忆层。
type ShortTermConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	MaxLen    int64
}

// ShortTermStore 把交互记录写入 Redis 列表，并通过 TTL 自动过期。
// 进程重启后近期上下文仍然可用，这是进程内缓存做不到的。
type ShortTermStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// NewShortTermStore 连接 Redis 并校验连通性。
func NewShortTermStore(ctx context.Context, cfg ShortTermConfig) (*ShortTermStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 Redis 地址")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hyvbase:memory"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}

	return &ShortTermStore{client: client, keyPrefix: prefix, ttl: ttl, maxLen: maxLen}, nil
}

func (s *ShortTermStore) key(kind Kind) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, kind)
}

// Add 写入一条记录并刷新过期时间。
func (s *ShortTermStore) Add(ctx context.Context, interaction Interaction) error {
	payload, err := json.Marshal(interaction)
	if err != nil {
		return fmt.Errorf("序列化记忆条目失败: %w", err)
	}

	key := s.key(interaction.Kind)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.maxLen-1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入短期记忆失败",
			xerrors.WithRetryable(true))
	}
	return nil
}

// Recent 返回最近的 n 条记录，新在前。
func (s *ShortTermStore) Recent(ctx context.Context, n int, kind Kind) ([]Interaction, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, s.key(kind), 0, int64(n-1)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取短期记忆失败",
			xerrors.WithRetryable(true))
	}

	interactions := make([]Interaction, 0, len(raw))
	for _, item := range raw {
		var interaction Interaction
		if err := json.Unmarshal([]byte(item), &interaction); err != nil {
			// 跳过损坏的条目，不让单条坏数据拖垮整个检索。
			continue
		}
		interactions = append(interactions, interaction)
	}
	return interactions, nil
}

// Close 关闭 Redis 连接。
func (s *ShortTermStore) Close() error {
	return s.client.Close()
}
