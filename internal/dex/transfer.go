package dex

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"HyvBase/internal/agent"
	xerrors "HyvBase/internal/errors"
	"HyvBase/internal/nlp"
	"HyvBase/internal/starknet"
	"HyvBase/pkg/logger"
)

// TransferResult 是转账命令的响应载荷。
type TransferResult struct {
	TransactionHash string  `json:"transaction_hash"`
	Token           string  `json:"token"`
	Amount          float64 `json:"amount"`
	Recipient       string  `json:"recipient"`
}

// BalanceResult 是余额查询的响应载荷。
type BalanceResult struct {
	Account  string             `json:"account"`
	Balances map[string]float64 `json:"balances"`
}

// TransferTool 处理 ERC20 转账与余额查询命令。
type TransferTool struct {
	parser   *nlp.Parser
	registry *Registry
	gateway  starknet.Gateway
	account  *big.Int
}

// NewTransferTool 创建转账工具。
func NewTransferTool(registry *Registry, gateway starknet.Gateway, account *big.Int) *TransferTool {
	return &TransferTool{
		parser:   nlp.NewParser(registry.Symbols()),
		registry: registry,
		gateway:  gateway,
		account:  account,
	}
}

// Name 实现 agent.Tool。
func (t *TransferTool) Name() string { return "starknet_transfer" }

// Capabilities 实现 agent.Tool。
func (t *TransferTool) Capabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilityChainRead, agent.CapabilityChainWrite}
}

// ValidateCommand 检查命令是否属于转账 / 余额类。
func (t *TransferTool) ValidateCommand(command string) error {
	cmd, err := t.parser.Parse(command)
	if err != nil {
		return err
	}
	switch cmd.Action {
	case nlp.ActionTransfer, nlp.ActionBalance:
		return nil
	default:
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("转账工具不支持 %s 命令", cmd.Action))
	}
}

// Execute 执行转账或余额命令。
func (t *TransferTool) Execute(ctx context.Context, command string) (*agent.Response, error) {
	started := time.Now()
	cmd, err := t.parser.Parse(command)
	if err != nil {
		return nil, err
	}

	var resp *agent.Response
	switch cmd.Action {
	case nlp.ActionTransfer:
		resp, err = t.handleTransfer(ctx, cmd.Token, cmd.Amount, cmd.ToAddress)
	case nlp.ActionBalance:
		resp, err = t.handleBalance(ctx, cmd.Token)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("转账工具不支持 %s 命令", cmd.Action))
	}
	if err != nil {
		return nil, err
	}
	return resp.WithElapsed(time.Since(started)), nil
}

func (t *TransferTool) handleTransfer(ctx context.Context, symbol string, amount float64, recipient string) (*agent.Response, error) {
	token, err := t.registry.Token(symbol)
	if err != nil {
		return agent.FailErr("转账参数无效", err), nil
	}
	if err := t.registry.ValidateTrade(amount, 0); err != nil {
		return agent.FailErr("转账参数无效", err), nil
	}
	to, err := starknet.ParseFelt(recipient)
	if err != nil {
		return agent.FailErr("收款地址无效", err), nil
	}

	low, high := starknet.SplitUint256(token.ToWei(amount))
	call := starknet.Call{
		To:       token.Address,
		Selector: transferSelector,
		Calldata: []*big.Int{to, low, high},
	}

	txHash, err := t.gateway.SubmitInvoke(ctx, []starknet.Call{call})
	if err != nil {
		return agent.FailErr("提交转账失败", err), nil
	}

	logger.Named("dex").Info("转账已提交",
		"tx_hash", txHash, "token", token.Symbol, "amount", amount, "recipient", recipient)

	result := TransferResult{
		TransactionHash: txHash,
		Token:           token.Symbol,
		Amount:          amount,
		Recipient:       recipient,
	}
	return agent.OK(result, fmt.Sprintf("已提交 %g %s 转账，交易哈希 %s", amount, token.Symbol, txHash)), nil
}

// handleBalance 查询单个代币或全部代币余额。
func (t *TransferTool) handleBalance(ctx context.Context, symbol string) (*agent.Response, error) {
	if t.account == nil {
		return agent.Fail("未配置账户地址，无法查询余额", "缺少账户地址"), nil
	}

	symbols := t.registry.Symbols()
	if symbol != "" {
		symbols = []string{symbol}
	}

	balances := make(map[string]float64, len(symbols))
	for _, item := range symbols {
		token, err := t.registry.Token(item)
		if err != nil {
			return agent.FailErr("余额查询失败", err), nil
		}
		raw, err := t.gateway.BalanceOf(ctx, token.Address, t.account)
		if err != nil {
			return agent.FailErr(fmt.Sprintf("查询 %s 余额失败", token.Symbol), err), nil
		}
		balances[token.Symbol] = token.FromWei(raw)
	}

	result := BalanceResult{
		Account:  "0x" + t.account.Text(16),
		Balances: balances,
	}
	return agent.OK(result, fmt.Sprintf("已查询 %d 个代币余额", len(balances))), nil
}
