package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Call describes a single StarkNet contract invocation. Felts are carried as
// big integers and rendered to hex only at the wire boundary.
type Call struct {
	To       *big.Int
	Selector *big.Int
	Calldata []*big.Int
}

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Gateway defines the chain access surface required by the tool adapters.
// Transaction signing is delegated to an external relay service, so the
// gateway never touches private keys.
type Gateway interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Nonce(ctx context.Context, account *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call Call) ([]*big.Int, error)
	BalanceOf(ctx context.Context, token, account *big.Int) (*big.Int, error)
	SubmitInvoke(ctx context.Context, calls []Call) (string, error)
	Close()
}

// Config describes how to construct a StarkNet client.
type Config struct {
	Name     string
	RPCURL   string
	RelayURL string
	Notes    string
	Timeout  time.Duration
}

// Client implements Gateway on top of the StarkNet JSON-RPC API. The generic
// go-ethereum rpc.Client is used as transport since StarkNet speaks plain
// JSON-RPC 2.0.
type Client struct {
	name       string
	notes      string
	relayURL   string
	rpcClient  *gethrpc.Client
	httpClient *http.Client
}

var balanceOfSelector = SelectorFromName("balanceOf")

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 StarkNet RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 StarkNet 节点失败: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		name:       cfg.Name,
		notes:      cfg.Notes,
		relayURL:   strings.TrimRight(strings.TrimSpace(cfg.RelayURL), "/"),
		rpcClient:  rpcClient,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil || c.rpcClient == nil {
		return
	}
	c.rpcClient.Close()
	c.rpcClient = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error) {
	if c == nil || c.rpcClient == nil {
		return ChainSnapshot{}, errors.New("未初始化的 StarkNet 客户端")
	}

	var chainID string
	if err := c.rpcClient.CallContext(ctx, &chainID, "starknet_chainId"); err != nil {
		return ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	var blockNumber uint64
	if err := c.rpcClient.CallContext(ctx, &blockNumber, "starknet_blockNumber"); err != nil {
		return ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}

	return ChainSnapshot{
		ChainID:     chainID,
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Nonce returns the pending nonce of the given account contract.
func (c *Client) Nonce(ctx context.Context, account *big.Int) (*big.Int, error) {
	if c == nil || c.rpcClient == nil {
		return nil, errors.New("未初始化的 StarkNet 客户端")
	}
	if account == nil {
		return nil, errors.New("账户地址不能为空")
	}

	var raw string
	if err := c.rpcClient.CallContext(ctx, &raw, "starknet_getNonce", "pending", toFeltHex(account)); err != nil {
		return nil, fmt.Errorf("查询账户 nonce 失败: %w", err)
	}
	return parseFelt(raw)
}

// CallContract performs a read-only starknet_call against the latest block.
func (c *Client) CallContract(ctx context.Context, call Call) ([]*big.Int, error) {
	if c == nil || c.rpcClient == nil {
		return nil, errors.New("未初始化的 StarkNet 客户端")
	}
	if call.To == nil || call.Selector == nil {
		return nil, errors.New("调用缺少合约地址或入口选择器")
	}

	calldata := make([]string, 0, len(call.Calldata))
	for _, felt := range call.Calldata {
		calldata = append(calldata, toFeltHex(felt))
	}
	request := map[string]any{
		"contract_address":     toFeltHex(call.To),
		"entry_point_selector": toFeltHex(call.Selector),
		"calldata":             calldata,
	}

	var raw []string
	if err := c.rpcClient.CallContext(ctx, &raw, "starknet_call", request, "latest"); err != nil {
		return nil, fmt.Errorf("starknet_call 失败: %w", err)
	}

	results := make([]*big.Int, 0, len(raw))
	for _, item := range raw {
		felt, err := parseFelt(item)
		if err != nil {
			return nil, err
		}
		results = append(results, felt)
	}
	return results, nil
}

// BalanceOf reads an ERC20 balance via starknet_call. The uint256 result is
// reassembled from its (low, high) limbs.
func (c *Client) BalanceOf(ctx context.Context, token, account *big.Int) (*big.Int, error) {
	results, err := c.CallContract(ctx, Call{
		To:       token,
		Selector: balanceOfSelector,
		Calldata: []*big.Int{account},
	})
	if err != nil {
		return nil, err
	}
	if len(results) < 2 {
		return nil, fmt.Errorf("balanceOf 返回值不完整: %d 个 felt", len(results))
	}
	balance := new(big.Int).Lsh(results[1], 128)
	return balance.Add(balance, results[0]), nil
}

// relayRequest is the payload accepted by the external signing relay.
type relayRequest struct {
	Calls []relayCall `json:"calls"`
}

type relayCall struct {
	ContractAddress string   `json:"contract_address"`
	EntryPoint      string   `json:"entry_point_selector"`
	Calldata        []string `json:"calldata"`
}

type relayResponse struct {
	TransactionHash string `json:"transaction_hash"`
	Error           string `json:"error,omitempty"`
}

// SubmitInvoke forwards the prepared multicall to the signing relay, which
// owns the account keys, signs and broadcasts the transaction.
func (c *Client) SubmitInvoke(ctx context.Context, calls []Call) (string, error) {
	if c == nil {
		return "", errors.New("未初始化的 StarkNet 客户端")
	}
	if c.relayURL == "" {
		return "", errors.New("未配置签名中继地址，无法提交交易")
	}
	if len(calls) == 0 {
		return "", errors.New("没有可提交的调用")
	}

	payload := relayRequest{Calls: make([]relayCall, 0, len(calls))}
	for _, call := range calls {
		if call.To == nil || call.Selector == nil {
			return "", errors.New("调用缺少合约地址或入口选择器")
		}
		calldata := make([]string, 0, len(call.Calldata))
		for _, felt := range call.Calldata {
			calldata = append(calldata, toFeltHex(felt))
		}
		payload.Calls = append(payload.Calls, relayCall{
			ContractAddress: toFeltHex(call.To),
			EntryPoint:      toFeltHex(call.Selector),
			Calldata:        calldata,
		})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化中继请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+"/invoke", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("构建中继请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求签名中继失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("签名中继返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析中继响应失败: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("签名中继拒绝交易: %s", decoded.Error)
	}
	if decoded.TransactionHash == "" {
		return "", errors.New("中继响应缺少交易哈希")
	}
	return decoded.TransactionHash, nil
}

// toFeltHex renders a felt in the 0x-prefixed lowercase hex form expected by
// the JSON-RPC API.
func toFeltHex(value *big.Int) string {
	if value == nil {
		return "0x0"
	}
	return "0x" + value.Text(16)
}

// parseFelt parses a felt from its hex or decimal string representation.
func parseFelt(raw string) (*big.Int, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("空的 felt 值")
	}
	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		base = 16
		text = text[2:]
	}
	felt, ok := new(big.Int).SetString(text, base)
	if !ok {
		return nil, fmt.Errorf("无法解析 felt: %s", raw)
	}
	return felt, nil
}

// ParseFelt exposes felt parsing for configuration layers that carry
// addresses as strings.
func ParseFelt(raw string) (*big.Int, error) {
	return parseFelt(raw)
}
