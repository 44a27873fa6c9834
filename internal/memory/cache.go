package memory

import (
	"sync"
)

// Cache 是固定容量的进程内记忆层，按写入顺序淘汰最旧的条目。
type Cache struct {
	mu       sync.RWMutex
	capacity int
	entries  []Interaction
}

// NewCache 创建缓存，capacity 不足时取默认值 100。
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache{capacity: capacity}
}

// Add 追加一条交互记录，超出容量时丢弃最旧的。
func (c *Cache) Add(interaction Interaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, interaction)
	if len(c.entries) > c.capacity {
		c.entries = c.entries[len(c.entries)-c.capacity:]
	}
}

// Recent 返回最近的 n 条记录，新在前。
func (c *Cache) Recent(n int, kind Kind) []Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	result := make([]Interaction, 0, n)
	for i := len(c.entries) - 1; i >= 0 && len(result) < n; i-- {
		if kind != "" && c.entries[i].Kind != kind {
			continue
		}
		result = append(result, c.entries[i])
	}
	return result
}

// Len 返回当前条目数。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear 清空缓存。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
