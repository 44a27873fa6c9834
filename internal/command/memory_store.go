package command

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "HyvBase/internal/errors"
)

// MemoryStore 以内存方式保存命令状态，主要用于测试。
type MemoryStore struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{commands: make(map[string]*Command)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "command 不能为空")
	}
	if cmd.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "命令 ID 不能为空")
	}
	if _, ok := m.commands[cmd.ID]; ok {
		return ErrCommandConflict
	}
	now := time.Now().Unix()
	if cmd.CreatedAt == 0 {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now
	m.commands[cmd.ID] = cloneCommand(cmd)
	return nil
}

// Get 返回命令。
func (m *MemoryStore) Get(_ context.Context, id string) (*Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cmd, ok := m.commands[id]
	if !ok {
		return nil, ErrCommandNotFound
	}
	return cloneCommand(cmd), nil
}

// Claim 将命令状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[id]
	if !ok {
		return nil, ErrCommandNotFound
	}
	switch cmd.Status {
	case StatusSucceeded:
		return cloneCommand(cmd), ErrCommandCompleted
	case StatusRunning:
		return cloneCommand(cmd), ErrCommandConflict
	case StatusFailed:
		// failed 是终态，不再领取。
		return cloneCommand(cmd), ErrCommandExhausted
	}
	if cmd.Attempts >= cmd.MaxRetries {
		return cloneCommand(cmd), ErrCommandExhausted
	}
	cmd.Status = StatusRunning
	cmd.Attempts++
	cmd.LastError = ""
	cmd.ErrorCode = ""
	cmd.UpdatedAt = time.Now().Unix()
	return cloneCommand(cmd), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[id]
	if !ok {
		return ErrCommandNotFound
	}
	cmd.Status = StatusSucceeded
	cmd.Result = &result
	cmd.LastError = ""
	cmd.ErrorCode = ""
	cmd.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 记录失败信息。terminal 为真时进入终态，否则回到
// pending 等待下一次领取，重试间隙不会被误读为最终失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[id]
	if !ok {
		return ErrCommandNotFound
	}
	if terminal {
		cmd.Status = StatusFailed
	} else {
		cmd.Status = StatusPending
	}
	cmd.LastError = lastError
	cmd.ErrorCode = string(code)
	cmd.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的命令。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Command, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Command, 0, len(m.commands))
	for _, cmd := range m.commands {
		if !matchesListFilters(cmd, opts) {
			continue
		}
		results = append(results, cloneCommand(cmd))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Command{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的命令数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, cmd := range m.commands {
		if !matchesListFilters(cmd, opts) {
			continue
		}
		stats.Total++
		switch cmd.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if cmd.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = cmd.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (cmd.UpdatedAt != 0 && cmd.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = cmd.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneCommand(cmd *Command) *Command {
	clone := *cmd
	if cmd.Result != nil {
		resultCopy := *cmd.Result
		clone.Result = &resultCopy
	}
	clone.Metadata = cloneMetadata(cmd.Metadata)
	return &clone
}

func matchesListFilters(cmd *Command, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if cmd.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && cmd.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && cmd.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && commandHasResult(cmd) != *opts.HasResult {
		return false
	}
	if opts.Query != "" && !matchesQuery(cmd, opts.Query) {
		return false
	}
	return true
}

func commandHasResult(cmd *Command) bool {
	if cmd == nil || cmd.Result == nil {
		return false
	}
	result := cmd.Result
	return result.Message != "" || result.Error != "" || result.Tool != "" || result.Payload != ""
}

func matchesQuery(cmd *Command, query string) bool {
	needle := strings.ToLower(query)
	haystacks := []string{cmd.ID, cmd.Input, cmd.LastError, cmd.ErrorCode}
	if cmd.Result != nil {
		haystacks = append(haystacks, cmd.Result.Message, cmd.Result.Error, cmd.Result.Tool, cmd.Result.Payload)
	}
	for _, hay := range haystacks {
		if hay == "" {
			continue
		}
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
