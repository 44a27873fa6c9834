package memory

import (
	"math"
	"sort"
	"sync"
	"time"

	xerrors "HyvBase/internal/errors"
)

// VectorStore 是进程内的长期记忆层，按余弦相似度检索。
// 容量固定，写满后淘汰最旧的条目。
type VectorStore struct {
	mu      sync.RWMutex
	maxSize int
	entries []vectorEntry
}

type vectorEntry struct {
	interaction Interaction
	vector      []float32
	norm        float64
}

// NewVectorStore 创建向量存储，maxSize 不足时取默认值 1000。
func NewVectorStore(maxSize int) *VectorStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &VectorStore{maxSize: maxSize}
}

// Add 写入一条带向量的记录。
func (s *VectorStore) Add(interaction Interaction, vector []float32) error {
	if len(vector) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "向量不能为空")
	}
	norm := vectorNorm(vector)
	if norm == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "零向量无法参与相似度检索")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, vectorEntry{
		interaction: interaction,
		vector:      vector,
		norm:        norm,
	})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	return nil
}

// Search 返回与查询向量最相似的 topK 条记录，分数降序。
func (s *VectorStore) Search(query []float32, topK int) ([]Match, error) {
	if len(query) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "查询向量不能为空")
	}
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "零向量无法参与相似度检索")
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.entries))
	for _, entry := range s.entries {
		if len(entry.vector) != len(query) {
			continue
		}
		score := dotProduct(query, entry.vector) / (queryNorm * entry.norm)
		matches = append(matches, Match{Interaction: entry.interaction, Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Prune 删除早于 maxAge 的条目，返回删除数量。
func (s *VectorStore) Prune(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, entry := range s.entries {
		if entry.interaction.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed
}

// Len 返回当前条目数。
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
