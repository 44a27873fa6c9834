package agent

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "HyvBase/internal/errors"
)

// Capability 描述工具具备的能力类别，供路由与安全策略使用。
type Capability string

const (
	CapabilityChainRead   Capability = "blockchain_read"
	CapabilityChainWrite  Capability = "blockchain_write"
	CapabilitySocialRead  Capability = "social_read"
	CapabilitySocialWrite Capability = "social_write"
	CapabilityMarketData  Capability = "market_data"
	CapabilityAnalytics   Capability = "analytics"
)

// Tool 定义了命令适配器的统一接口。每个工具包装一类外部服务调用，
// 接收解析后的命令并返回统一响应信封。
type Tool interface {
	// Name 返回工具的唯一名称，路由时用作键。
	Name() string
	// Capabilities 返回工具能力列表。
	Capabilities() []Capability
	// ValidateCommand 在不执行的前提下检查命令是否可被本工具处理。
	ValidateCommand(command string) error
	// Execute 执行命令并返回响应信封。实现必须保证不 panic，
	// 外部调用失败通过信封的 Error 字段反馈。
	Execute(ctx context.Context, command string) (*Response, error)
}

// Registry 维护已注册工具的集合，并按名称路由。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建一个空的工具注册表。
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t != nil {
			r.tools[strings.ToLower(t.Name())] = t
		}
	}
	return r
}

// Register 注册一个工具。同名工具会被覆盖。
func (r *Registry) Register(tool Tool) {
	if tool == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(tool.Name())] = tool
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[strings.ToLower(strings.TrimSpace(name))]
	return tool, ok
}

// Names 返回全部已注册工具的名称，按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch 将命令路由到指定工具并执行。未注册的工具名返回 NOT_FOUND。
func (r *Registry) Dispatch(ctx context.Context, name, command string) (*Response, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "未注册的工具: "+name)
	}
	if err := tool.ValidateCommand(command); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "命令校验失败")
	}
	return tool.Execute(ctx, command)
}
