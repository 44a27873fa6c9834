package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"HyvBase/pkg/logger"
)

// ManagerConfig 组合各记忆层的配置。
type ManagerConfig struct {
	CacheSize     int
	VectorMaxSize int
	SearchTopK    int

	// VectorMaxAge 控制长期记忆的保留时长，0 表示不过期。
	VectorMaxAge time.Duration

	// CleanupInterval 是后台清理的周期，0 表示默认 10 分钟。
	CleanupInterval time.Duration
}

// Manager 把三层记忆组合成统一入口：写入扇出到所有层，
// 读取按近期缓存、短期存储、向量检索逐层提供。
type Manager struct {
	cache     *Cache
	shortTerm *ShortTermStore
	vector    *VectorStore
	embedder  Embedder
	topK      int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 创建记忆管理器。shortTerm 与 embedder 可以为 nil，
// 对应的记忆层会被跳过。
func NewManager(cfg ManagerConfig, shortTerm *ShortTermStore, embedder Embedder) *Manager {
	topK := cfg.SearchTopK
	if topK <= 0 {
		topK = 5
	}

	m := &Manager{
		cache:     NewCache(cfg.CacheSize),
		shortTerm: shortTerm,
		vector:    NewVectorStore(cfg.VectorMaxSize),
		embedder:  embedder,
		topK:      topK,
	}

	if cfg.VectorMaxAge > 0 {
		interval := cfg.CleanupInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.cleanupLoop(ctx, interval, cfg.VectorMaxAge)
	}
	return m
}

// StoreInteraction 记录一条交互。缓存写入保证成功，短期与向量层的
// 失败只记日志，不阻塞主流程。
func (m *Manager) StoreInteraction(ctx context.Context, kind Kind, content string, metadata map[string]string) Interaction {
	interaction := Interaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	m.cache.Add(interaction)

	if m.shortTerm != nil {
		if err := m.shortTerm.Add(ctx, interaction); err != nil {
			logger.Named("memory").Warn("短期记忆写入失败", "error", err)
		}
	}

	if m.embedder != nil {
		vector, err := m.embedder.Embed(ctx, content)
		if err != nil {
			logger.Named("memory").Warn("生成记忆向量失败", "error", err)
			return interaction
		}
		if err := m.vector.Add(interaction, vector); err != nil {
			logger.Named("memory").Warn("长期记忆写入失败", "error", err)
		}
	}
	return interaction
}

// RecentInteractions 返回最近的 n 条记录，优先走进程内缓存，
// 缓存为空时回退到 Redis。
func (m *Manager) RecentInteractions(ctx context.Context, n int, kind Kind) ([]Interaction, error) {
	recent := m.cache.Recent(n, kind)
	if len(recent) > 0 || m.shortTerm == nil {
		return recent, nil
	}
	return m.shortTerm.Recent(ctx, n, kind)
}

// SimilaritySearch 在长期记忆中检索与 query 语义相近的记录。
func (m *Manager) SimilaritySearch(ctx context.Context, query string, topK int) ([]Match, error) {
	if m.embedder == nil {
		return nil, nil
	}
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = m.topK
	}
	return m.vector.Search(vector, topK)
}

// VectorCount 返回长期记忆条目数，供状态接口使用。
func (m *Manager) VectorCount() int {
	return m.vector.Len()
}

func (m *Manager) cleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.vector.Prune(maxAge); removed > 0 {
				logger.Named("memory").Debug("清理过期长期记忆", "removed", removed)
			}
		}
	}
}

// Shutdown 停止后台清理并关闭外部连接。
func (m *Manager) Shutdown() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.shortTerm != nil {
		return m.shortTerm.Close()
	}
	return nil
}
