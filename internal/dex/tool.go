package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"HyvBase/internal/agent"
	xerrors "HyvBase/internal/errors"
	"HyvBase/internal/nlp"
	"HyvBase/internal/starknet"
	"HyvBase/pkg/logger"
)

// maxPriceImpactPercent 是放弃交易的价格冲击阈值。
const maxPriceImpactPercent = 5.0

// pendingTTL 是待确认交易的有效期，过期后需要重新发起。
const pendingTTL = 2 * time.Minute

var (
	approveSelector  = starknet.SelectorFromName("approve")
	transferSelector = starknet.SelectorFromName("transfer")
)

// QuoteResult 是报价命令的响应载荷。
type QuoteResult struct {
	SellToken     string  `json:"sell_token"`
	BuyToken      string  `json:"buy_token"`
	SellAmount    float64 `json:"sell_amount"`
	BuyAmount     float64 `json:"buy_amount"`
	Rate          float64 `json:"rate"`
	PriceImpact   float64 `json:"price_impact_percent"`
	Source        string  `json:"source,omitempty"`
	QuoteID       string  `json:"quote_id"`
	SlippageLimit float64 `json:"slippage_limit_percent"`
}

// SwapResult 是兑换执行后的响应载荷。
type SwapResult struct {
	TransactionHash string  `json:"transaction_hash"`
	SellToken       string  `json:"sell_token"`
	BuyToken        string  `json:"buy_token"`
	SellAmount      float64 `json:"sell_amount"`
	ExpectedBuy     float64 `json:"expected_buy_amount"`
}

// pendingTrade 记录等待用户确认的兑换。
type pendingTrade struct {
	quote     Quote
	sellToken Token
	buyToken  Token
	amount    float64
	createdAt time.Time
}

// SwapTool 将报价与兑换命令适配到 AVNU 聚合器。
// 交易默认走两段式流程：先报价并挂起，确认后才上链；
// 安全策略关闭确认时直接执行。
type SwapTool struct {
	parser   *nlp.Parser
	registry *Registry
	avnu     *AVNUClient
	gateway  starknet.Gateway
	account  *big.Int
	slippage float64

	mu            sync.Mutex
	pending       *pendingTrade
	confirmBefore bool
}

// NewSwapTool 创建兑换工具。slippage 为百分比，0 时取注册表上限的一半。
func NewSwapTool(registry *Registry, avnu *AVNUClient, gateway starknet.Gateway, account *big.Int, slippage float64) *SwapTool {
	if slippage <= 0 {
		slippage = registry.Limits().MaxSlippage / 2
	}
	return &SwapTool{
		parser:        nlp.NewParser(registry.Symbols()),
		registry:      registry,
		avnu:          avnu,
		gateway:       gateway,
		account:       account,
		slippage:      slippage,
		confirmBefore: true,
	}
}

// SetRequireConfirmation 控制交易是否需要用户确认后才上链。
// 关闭后 swap/buy/sell 通过校验即直接执行。
func (t *SwapTool) SetRequireConfirmation(required bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmBefore = required
}

func (t *SwapTool) requireConfirmation() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmBefore
}

// Name 实现 agent.Tool。
func (t *SwapTool) Name() string { return "starknet_swap" }

// Capabilities 实现 agent.Tool。
func (t *SwapTool) Capabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityMarketData, agent.CapabilityChainWrite}
}

// ValidateCommand 检查命令是否属于报价 / 交易 / 确认类。
func (t *SwapTool) ValidateCommand(command string) error {
	cmd, err := t.parser.Parse(command)
	if err != nil {
		return err
	}
	switch cmd.Action {
	case nlp.ActionQuote, nlp.ActionTrade, nlp.ActionBuy, nlp.ActionSell, nlp.ActionConfirm:
		return nil
	default:
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("兑换工具不支持 %s 命令", cmd.Action))
	}
}

// Execute 执行报价或兑换命令。
func (t *SwapTool) Execute(ctx context.Context, command string) (*agent.Response, error) {
	started := time.Now()
	cmd, err := t.parser.Parse(command)
	if err != nil {
		return nil, err
	}

	var resp *agent.Response
	switch cmd.Action {
	case nlp.ActionQuote:
		resp, err = t.handleQuote(ctx, cmd.TokenFrom, cmd.TokenTo, cmd.Amount)
	case nlp.ActionTrade:
		resp, err = t.handleTrade(ctx, cmd.TokenFrom, cmd.TokenTo, cmd.Amount)
	case nlp.ActionBuy:
		// 买入以默认计价代币支付。
		resp, err = t.handleTrade(ctx, t.parser.DefaultQuoteToken, cmd.Token, cmd.Amount)
	case nlp.ActionSell:
		resp, err = t.handleTrade(ctx, cmd.Token, t.parser.DefaultQuoteToken, cmd.Amount)
	case nlp.ActionConfirm:
		resp, err = t.handleConfirm(ctx, cmd.Confirmed)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("兑换工具不支持 %s 命令", cmd.Action))
	}
	if err != nil {
		return nil, err
	}
	return resp.WithElapsed(time.Since(started)), nil
}

// quote 获取报价并计算价格冲击。
func (t *SwapTool) quote(ctx context.Context, from, to string, amount float64) (Quote, Token, Token, QuoteResult, error) {
	sellToken, err := t.registry.Token(from)
	if err != nil {
		return Quote{}, Token{}, Token{}, QuoteResult{}, err
	}
	buyToken, err := t.registry.Token(to)
	if err != nil {
		return Quote{}, Token{}, Token{}, QuoteResult{}, err
	}
	if err := t.registry.ValidateTrade(amount, t.slippage); err != nil {
		return Quote{}, Token{}, Token{}, QuoteResult{}, err
	}

	quote, err := t.avnu.BestQuote(ctx, sellToken, buyToken, sellToken.ToWei(amount))
	if err != nil {
		return Quote{}, Token{}, Token{}, QuoteResult{}, err
	}

	buyAmount := buyToken.FromWei(quote.BuyAmount)
	result := QuoteResult{
		SellToken:     sellToken.Symbol,
		BuyToken:      buyToken.Symbol,
		SellAmount:    amount,
		BuyAmount:     buyAmount,
		PriceImpact:   priceImpact(amount, buyAmount, quote.MarketPrice),
		Source:        quote.Source,
		QuoteID:       quote.QuoteID,
		SlippageLimit: t.slippage,
	}
	if amount > 0 {
		result.Rate = buyAmount / amount
	}
	return quote, sellToken, buyToken, result, nil
}

func (t *SwapTool) handleQuote(ctx context.Context, from, to string, amount float64) (*agent.Response, error) {
	_, _, _, result, err := t.quote(ctx, from, to, amount)
	if err != nil {
		return agent.FailErr("获取报价失败", err), nil
	}
	message := fmt.Sprintf("%g %s 可兑换约 %g %s（汇率 %.6f）",
		result.SellAmount, result.SellToken, result.BuyAmount, result.BuyToken, result.Rate)
	return agent.OK(result, message), nil
}

func (t *SwapTool) handleTrade(ctx context.Context, from, to string, amount float64) (*agent.Response, error) {
	quote, sellToken, buyToken, result, err := t.quote(ctx, from, to, amount)
	if err != nil {
		return agent.FailErr("准备交易失败", err), nil
	}

	if result.PriceImpact > maxPriceImpactPercent {
		return agent.Fail(
			fmt.Sprintf("价格冲击 %.2f%% 超过 %.1f%% 上限，交易已放弃", result.PriceImpact, maxPriceImpactPercent),
			"价格冲击过大",
		), nil
	}

	pending := &pendingTrade{
		quote:     quote,
		sellToken: sellToken,
		buyToken:  buyToken,
		amount:    amount,
		createdAt: time.Now(),
	}

	if !t.requireConfirmation() {
		return t.executeSwap(ctx, pending)
	}

	t.mu.Lock()
	t.pending = pending
	t.mu.Unlock()

	message := fmt.Sprintf("即将用 %g %s 兑换约 %g %s，确认执行吗？",
		amount, sellToken.Symbol, result.BuyAmount, buyToken.Symbol)
	return agent.OK(result, message).WithMeta("requires_confirmation", true), nil
}

func (t *SwapTool) handleConfirm(ctx context.Context, confirmed bool) (*agent.Response, error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if pending == nil {
		return agent.Fail("没有等待确认的交易", "无待确认交易"), nil
	}
	if !confirmed {
		logger.Named("dex").Info("用户取消交易",
			"sell_token", pending.sellToken.Symbol, "buy_token", pending.buyToken.Symbol)
		return agent.OK(nil, "交易已取消"), nil
	}
	if time.Since(pending.createdAt) > pendingTTL {
		return agent.Fail("报价已过期，请重新发起交易", "待确认交易超时"), nil
	}
	return t.executeSwap(ctx, pending)
}

// executeSwap 组装授权与兑换调用，并通过签名中继提交。
func (t *SwapTool) executeSwap(ctx context.Context, pending *pendingTrade) (*agent.Response, error) {
	if t.account == nil {
		return agent.Fail("未配置交易账户，无法执行兑换", "缺少账户地址"), nil
	}

	swap, err := t.avnu.BuildTransaction(ctx, pending.quote.QuoteID, t.account, t.slippage)
	if err != nil {
		return agent.FailErr("构建兑换交易失败", err), nil
	}

	low, high := starknet.SplitUint256(pending.quote.SellAmount)
	calls := []starknet.Call{
		{
			To:       pending.sellToken.Address,
			Selector: approveSelector,
			Calldata: []*big.Int{t.registry.Router(), low, high},
		},
		{
			To:       t.registry.Router(),
			Selector: starknet.SelectorFromName(swap.EntryPoint),
			Calldata: swap.Calldata,
		},
	}

	txHash, err := t.gateway.SubmitInvoke(ctx, calls)
	if err != nil {
		return agent.FailErr("提交兑换交易失败", err), nil
	}

	logger.Named("dex").Info("兑换已提交",
		"tx_hash", txHash,
		"sell_token", pending.sellToken.Symbol,
		"buy_token", pending.buyToken.Symbol,
		"amount", pending.amount,
	)

	result := SwapResult{
		TransactionHash: txHash,
		SellToken:       pending.sellToken.Symbol,
		BuyToken:        pending.buyToken.Symbol,
		SellAmount:      pending.amount,
		ExpectedBuy:     pending.buyToken.FromWei(pending.quote.BuyAmount),
	}
	message := fmt.Sprintf("兑换已提交，交易哈希 %s", txHash)
	return agent.OK(result, message), nil
}

// PendingTrade 返回当前是否存在待确认交易，供安全策略与测试使用。
func (t *SwapTool) PendingTrade() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// priceImpact 按市场价估算执行价格偏离，返回百分比并封顶 100。
func priceImpact(sellAmount, buyAmount, marketPrice float64) float64 {
	if marketPrice <= 0 || sellAmount <= 0 {
		return 0
	}
	expected := sellAmount * marketPrice
	if expected <= 0 {
		return 0
	}
	impact := (expected - buyAmount) / expected * 100
	if impact < 0 {
		return 0
	}
	if impact > 100 {
		return 100
	}
	return impact
}
