// Package dex 实现 StarkNet 上的代币注册表、AVNU 聚合器接入
// 以及报价 / 兑换 / 转账三类链上工具。
package dex

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	xerrors "HyvBase/internal/errors"
)

// Token 描述一种受支持的 ERC20 代币。
type Token struct {
	Symbol   string
	Name     string
	Address  *big.Int
	Decimals uint8
}

// TradeLimits 约束单笔交易的数量与滑点范围。
type TradeLimits struct {
	MinAmount   float64
	MaxAmount   float64
	MaxSlippage float64
}

// Registry 维护代币元数据与交易限制，是报价与交易工具的共享词典。
type Registry struct {
	tokens      map[string]Token
	symbols     []string
	avnuRouter  *big.Int
	tradeLimits TradeLimits
}

// 主网默认的交易限制，与聚合器路由地址。
const avnuRouterAddress = "0x04270219d365d6b017231b52e92b3fb5d7c8378b05e9abc97724537a80e93b0f"

var defaultLimits = TradeLimits{
	MinAmount:   0.0001,
	MaxAmount:   100.0,
	MaxSlippage: 1.0,
}

type tokenSeed struct {
	symbol   string
	name     string
	address  string
	decimals uint8
}

// 主网代币表。地址为账户抽象模型下的 ERC20 合约地址。
var mainnetTokens = []tokenSeed{
	{"ETH", "Ether", "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", 18},
	{"USDC", "USD Coin", "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8", 6},
	{"USDT", "Tether USD", "0x068f5c6a61780768455de69077e07e89787839bf8166decfbf92b645209c0fb8", 6},
	{"STARK", "Starknet Token", "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d", 18},
}

// NewMainnetRegistry 构建带有主网代币表的注册表。
func NewMainnetRegistry() *Registry {
	registry := &Registry{
		tokens:      make(map[string]Token, len(mainnetTokens)),
		avnuRouter:  mustFelt(avnuRouterAddress),
		tradeLimits: defaultLimits,
	}
	for _, seed := range mainnetTokens {
		registry.tokens[seed.symbol] = Token{
			Symbol:   seed.symbol,
			Name:     seed.name,
			Address:  mustFelt(seed.address),
			Decimals: seed.decimals,
		}
		registry.symbols = append(registry.symbols, seed.symbol)
	}
	sort.Strings(registry.symbols)
	return registry
}

// SetMaxSlippage 覆盖默认滑点上限，值为百分比。
func (r *Registry) SetMaxSlippage(percent float64) {
	if percent > 0 {
		r.tradeLimits.MaxSlippage = percent
	}
}

// Token 按符号查找代币。
func (r *Registry) Token(symbol string) (Token, error) {
	token, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("不支持的代币: %s，可用代币: %s", symbol, strings.Join(r.symbols, ", ")))
	}
	return token, nil
}

// Symbols 返回按字母序排列的受支持代币符号。
func (r *Registry) Symbols() []string {
	return append([]string(nil), r.symbols...)
}

// Router 返回 AVNU 聚合器路由合约地址。
func (r *Registry) Router() *big.Int {
	return new(big.Int).Set(r.avnuRouter)
}

// Limits 返回当前交易限制。
func (r *Registry) Limits() TradeLimits {
	return r.tradeLimits
}

// ValidateTrade 校验数量与滑点是否落在允许区间内。
func (r *Registry) ValidateTrade(amount, slippage float64) error {
	limits := r.tradeLimits
	if amount < limits.MinAmount {
		return xerrors.New(xerrors.CodePolicyViolation,
			fmt.Sprintf("数量 %g 低于下限 %g", amount, limits.MinAmount))
	}
	if amount > limits.MaxAmount {
		return xerrors.New(xerrors.CodePolicyViolation,
			fmt.Sprintf("数量 %g 超过上限 %g", amount, limits.MaxAmount))
	}
	if slippage < 0 || slippage > limits.MaxSlippage {
		return xerrors.New(xerrors.CodePolicyViolation,
			fmt.Sprintf("滑点 %g%% 超出允许范围 [0, %g%%]", slippage, limits.MaxSlippage))
	}
	return nil
}

// ToWei 将十进制数量换算为代币最小单位。
func (t Token) ToWei(amount float64) *big.Int {
	scaled := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(pow10(int(t.Decimals))),
	)
	wei, _ := scaled.Int(nil)
	return wei
}

// FromWei 将最小单位换算回十进制数量。
func (t Token) FromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	quotient := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		new(big.Float).SetInt(pow10(int(t.Decimals))),
	)
	value, _ := quotient.Float64()
	return value
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func mustFelt(hex string) *big.Int {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(hex, "0x"), 16)
	if !ok {
		panic("无效的内置地址: " + hex)
	}
	return value
}
