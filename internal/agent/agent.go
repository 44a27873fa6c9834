package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "HyvBase/internal/errors"
	"HyvBase/internal/history"
	"HyvBase/internal/llm"
	"HyvBase/internal/memory"
	"HyvBase/internal/nlp"
	"HyvBase/pkg/logger"
)

// Agent 协调命令解析、安全策略、工具执行与记忆持久化，
// 是系统的业务核心。
type Agent struct {
	parser      *nlp.Parser
	registry    *Registry
	personality Personality
	policy      SecurityPolicy

	llmClient   llm.Client
	memories    *memory.Manager
	historyRepo history.Repository

	memoryDepth int
	llmTimeout  time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// defaultMemoryDepth 是记忆检索的默认条数。
const defaultMemoryDepth = 5

// WithLLM 配置大模型客户端，规则解析失败时作为回退解析器。
func WithLLM(client llm.Client) Option {
	return func(a *Agent) {
		a.llmClient = client
	}
}

// WithMemory 配置多层记忆管理器。
func WithMemory(manager *memory.Manager) Option {
	return func(a *Agent) {
		a.memories = manager
	}
}

// WithHistory 配置命令历史仓库。
func WithHistory(repo history.Repository) Option {
	return func(a *Agent) {
		a.historyRepo = repo
	}
}

// WithPersonality 设置智能体人格。
func WithPersonality(p Personality) Option {
	return func(a *Agent) {
		a.personality = p
	}
}

// WithSecurityPolicy 设置安全策略。
func WithSecurityPolicy(policy SecurityPolicy) Option {
	return func(a *Agent) {
		a.policy = policy
	}
}

// WithMemoryDepth 设置记忆检索的条数。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// New 创建一个 Agent。supportedTokens 决定命令解析器接受的代币符号。
func New(registry *Registry, supportedTokens []string, opts ...Option) *Agent {
	ag := &Agent{
		parser:      nlp.NewParser(supportedTokens),
		registry:    registry,
		personality: DefaultPersonality(),
		policy:      DefaultSecurityPolicy(),
		memoryDepth: defaultMemoryDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	return ag
}

// 命令类别到工具名称的路由表。
var actionRoutes = map[nlp.Action]string{
	nlp.ActionQuote:    "starknet_swap",
	nlp.ActionTrade:    "starknet_swap",
	nlp.ActionBuy:      "starknet_swap",
	nlp.ActionSell:     "starknet_swap",
	nlp.ActionConfirm:  "starknet_swap",
	nlp.ActionTransfer: "starknet_transfer",
	nlp.ActionBalance:  "starknet_transfer",
}

// Process 处理一条自然语言命令，返回统一响应信封。
// 外部调用失败通过信封的 Error 字段反馈，返回 error 仅代表
// 智能体自身不可用。
func (a *Agent) Process(ctx context.Context, input string) (*Response, error) {
	if a.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表")
	}

	started := time.Now()
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "命令不能为空")
	}

	// 显式路由：以工具名开头的命令直接交给对应工具，
	// 例如 "twitter tweet gm" 或 "telegram send 123 hi"。
	if toolName, rest, ok := a.explicitRoute(text); ok {
		resp := a.dispatch(ctx, toolName, rest)
		a.record(ctx, text, toolName, "", resp, started)
		return resp.WithElapsed(time.Since(started)), nil
	}

	cmd, viaLLM, err := a.parseCommand(ctx, text)
	if err != nil {
		resp := FailErr("无法理解该命令", err)
		a.record(ctx, text, "", "", resp, started)
		return resp.WithElapsed(time.Since(started)), nil
	}

	// 帮助、退出与记忆查询由智能体自身处理，不经过工具。
	switch cmd.Action {
	case nlp.ActionHelp:
		resp := a.helpResponse()
		return resp.WithElapsed(time.Since(started)), nil
	case nlp.ActionExit:
		return OK(nil, "再见！").WithMeta("exit", true).WithElapsed(time.Since(started)), nil
	case nlp.ActionMemory:
		resp := a.memoryResponse(ctx, cmd.Subtype)
		return resp.WithElapsed(time.Since(started)), nil
	}

	if err := a.policy.CheckCommand(cmd); err != nil {
		resp := FailErr("命令被安全策略拒绝", err)
		a.record(ctx, text, "", string(cmd.Action), resp, started)
		return resp.WithElapsed(time.Since(started)), nil
	}

	toolName, ok := actionRoutes[cmd.Action]
	if !ok {
		resp := Fail("没有可以处理该命令的工具", fmt.Sprintf("未路由的命令类别: %s", cmd.Action))
		a.record(ctx, text, "", string(cmd.Action), resp, started)
		return resp.WithElapsed(time.Since(started)), nil
	}

	// 工具在执行前会用规则解析器重新解析命令文本。规则解析失败、
	// 由大模型兜底解析出的命令必须先改写成规则语法再下发，
	// 否则工具侧会再次无法识别。
	dispatchText := text
	if viaLLM {
		canonical, renderErr := a.canonicalText(cmd)
		if renderErr != nil {
			resp := FailErr("无法理解该命令", renderErr)
			a.record(ctx, text, "", string(cmd.Action), resp, started)
			return resp.WithElapsed(time.Since(started)), nil
		}
		dispatchText = canonical
	}

	resp := a.dispatch(ctx, toolName, dispatchText)
	resp.WithMeta("action", string(cmd.Action))
	a.record(ctx, text, toolName, string(cmd.Action), resp, started)
	return resp.WithElapsed(time.Since(started)), nil
}

// parseCommand 先走本地规则解析，无法识别时回退到大模型。
// 第二个返回值标记命令是否来自大模型兜底。
func (a *Agent) parseCommand(ctx context.Context, text string) (*nlp.Command, bool, error) {
	cmd, err := a.parser.Parse(text)
	if err == nil {
		return cmd, false, nil
	}
	if !stdErrors.Is(err, nlp.ErrUnrecognized) || a.llmClient == nil {
		return nil, false, err
	}

	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	system := a.personality.SystemPrompt(a.parser.SupportedTokens())
	parsed, llmErr := a.llmClient.ParseCommand(llmCtx, system, text)
	if llmErr != nil {
		if stdErrors.Is(llmErr, context.DeadlineExceeded) {
			return nil, false, xerrors.Wrap(xerrors.CodeTimeout, llmErr, "大模型解析超时")
		}
		// 保留原始的“无法识别”错误，大模型失败只记日志。
		logger.Named("agent").Debug("大模型解析回退失败", "error", llmErr)
		return nil, false, err
	}
	return parsed, true, nil
}

// canonicalText 把结构化命令改写成规则解析器接受的命令文本，
// 并校验大模型给出的代币符号与地址。
func (a *Agent) canonicalText(cmd *nlp.Command) (string, error) {
	if cmd == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "命令不能为空")
	}
	switch cmd.Action {
	case nlp.ActionQuote:
		from, err := a.parser.ValidateToken(cmd.TokenFrom)
		if err != nil {
			return "", err
		}
		to, err := a.parser.ValidateToken(cmd.TokenTo)
		if err != nil {
			return "", err
		}
		amount := cmd.Amount
		if amount <= 0 {
			amount = 1
		}
		return fmt.Sprintf("quote %s %s %s", formatAmount(amount), from, to), nil
	case nlp.ActionTrade:
		from, err := a.parser.ValidateToken(cmd.TokenFrom)
		if err != nil {
			return "", err
		}
		to, err := a.parser.ValidateToken(cmd.TokenTo)
		if err != nil {
			return "", err
		}
		if cmd.Amount <= 0 {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "数量必须大于 0")
		}
		return fmt.Sprintf("swap %s %s for %s", formatAmount(cmd.Amount), from, to), nil
	case nlp.ActionBuy, nlp.ActionSell:
		token, err := a.parser.ValidateToken(cmd.Token)
		if err != nil {
			return "", err
		}
		if cmd.Amount <= 0 {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "数量必须大于 0")
		}
		return fmt.Sprintf("%s %s %s", cmd.Action, formatAmount(cmd.Amount), token), nil
	case nlp.ActionTransfer:
		token, err := a.parser.ValidateToken(cmd.Token)
		if err != nil {
			return "", err
		}
		if cmd.Amount <= 0 {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "数量必须大于 0")
		}
		address := strings.ToLower(strings.TrimSpace(cmd.ToAddress))
		if !isHexAddress(address) {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "无效的转账地址: "+cmd.ToAddress)
		}
		return fmt.Sprintf("send %s %s to %s", formatAmount(cmd.Amount), token, address), nil
	case nlp.ActionBalance:
		if strings.TrimSpace(cmd.Token) == "" {
			return "balance", nil
		}
		token, err := a.parser.ValidateToken(cmd.Token)
		if err != nil {
			return "", err
		}
		return "balance of " + token, nil
	case nlp.ActionConfirm:
		if cmd.Confirmed {
			return "yes", nil
		}
		return "no", nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("无法还原 %s 类命令", cmd.Action))
	}
}

// formatAmount 以十进制输出数量，避免指数写法破坏规则语法。
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func isHexAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) <= 2 {
		return false
	}
	for _, r := range address[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// explicitRoute 识别 "工具名 其余命令" 形式的输入。
func (a *Agent) explicitRoute(text string) (tool, rest string, ok bool) {
	fields := strings.SplitN(text, " ", 2)
	if len(fields) < 2 {
		return "", "", false
	}
	name := strings.TrimSuffix(strings.ToLower(fields[0]), ":")
	if _, found := a.registry.Lookup(name); !found {
		return "", "", false
	}
	return name, strings.TrimSpace(fields[1]), true
}

// dispatch 执行工具调用，任何错误都折叠进响应信封。
func (a *Agent) dispatch(ctx context.Context, toolName, command string) *Response {
	resp, err := a.registry.Dispatch(ctx, toolName, command)
	if err != nil {
		return FailErr("工具执行失败", err).WithMeta("tool", toolName)
	}
	if resp == nil {
		return Fail("工具没有返回结果", "空响应").WithMeta("tool", toolName)
	}
	return resp.WithMeta("tool", toolName)
}

// record 把执行结果写入历史仓库与记忆层。
func (a *Agent) record(ctx context.Context, input, tool, action string, resp *Response, started time.Time) {
	if resp == nil {
		return
	}

	if a.historyRepo != nil {
		record := history.Record{
			ID:        uuid.NewString(),
			Input:     input,
			Tool:      tool,
			Action:    action,
			Success:   resp.Success,
			Message:   resp.Message,
			Error:     resp.Error,
			ElapsedMS: time.Since(started).Milliseconds(),
			CreatedAt: history.Now(),
		}
		if resp.Result != nil {
			if encoded, err := json.Marshal(resp.Result); err == nil {
				record.Result = string(encoded)
			}
		}
		if err := a.historyRepo.Save(ctx, record); err != nil {
			logger.Named("agent").Warn("保存命令历史失败", "error", err)
		}
	}

	if a.memories != nil {
		kind := memory.KindChat
		if tool == "starknet_swap" || tool == "starknet_transfer" {
			kind = memory.KindTransaction
		}
		metadata := map[string]string{"tool": tool, "action": action}
		content := input
		if resp.Message != "" {
			content = input + " => " + resp.Message
		}
		a.memories.StoreInteraction(ctx, kind, content, metadata)
	}

	logger.Audit().Info("命令已执行",
		"input", input, "tool", tool, "action", action,
		"success", resp.Success, "elapsed_ms", time.Since(started).Milliseconds(),
	)
}

// helpResponse 汇总支持的命令与工具。
func (a *Agent) helpResponse() *Response {
	help := map[string]any{
		"agent":  a.personality.Name,
		"role":   a.personality.Role,
		"tools":  a.registry.Names(),
		"tokens": a.parser.SupportedTokens(),
		"examples": []string{
			"quote 1 eth usdc",
			"swap 0.5 eth for usdc",
			"send 10 usdc to 0x...",
			"balance of eth",
			"twitter tweet gm",
			"show chat history",
		},
	}
	return OK(help, "支持的命令与工具如下")
}

// memoryResponse 返回近期交互记录。
func (a *Agent) memoryResponse(ctx context.Context, subtype string) *Response {
	if a.memories == nil {
		return a.historyResponse(ctx)
	}

	kind := memory.KindTransaction
	if subtype == "chat" {
		kind = memory.KindChat
	}
	interactions, err := a.memories.RecentInteractions(ctx, a.memoryDepth, kind)
	if err != nil {
		return FailErr("读取记忆失败", err)
	}
	return OK(interactions, fmt.Sprintf("最近 %d 条%s记录", len(interactions), subtypeLabel(subtype)))
}

func (a *Agent) historyResponse(ctx context.Context) *Response {
	if a.historyRepo == nil {
		return Fail("未配置记忆或历史存储", "记忆功能不可用")
	}
	records, err := a.historyRepo.ListLatest(ctx, a.memoryDepth)
	if err != nil {
		return FailErr("读取历史失败", err)
	}
	return OK(records, fmt.Sprintf("最近 %d 条命令记录", len(records)))
}

// History 获取最近的命令执行记录。
func (a *Agent) History(ctx context.Context, limit int) ([]history.Record, error) {
	if a.historyRepo == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置历史仓库")
	}
	records, err := a.historyRepo.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询命令记录失败")
	}
	return records, nil
}

// SearchMemory 在长期记忆中做语义检索。
func (a *Agent) SearchMemory(ctx context.Context, query string, topK int) ([]memory.Match, error) {
	if a.memories == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置记忆管理器")
	}
	return a.memories.SimilaritySearch(ctx, query, topK)
}

func subtypeLabel(subtype string) string {
	if subtype == "chat" {
		return "对话"
	}
	return "交易"
}
