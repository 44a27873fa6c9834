package dex

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"HyvBase/internal/starknet"
)

// stubGateway 记录提交的调用并返回固定哈希。
type stubGateway struct {
	submitted [][]starknet.Call
	balances  map[string]*big.Int
	submitErr error
}

func (g *stubGateway) FetchChainSnapshot(ctx context.Context) (starknet.ChainSnapshot, error) {
	return starknet.ChainSnapshot{ChainID: "0x534e5f4d41494e"}, nil
}

func (g *stubGateway) Nonce(ctx context.Context, account *big.Int) (*big.Int, error) {
	return big.NewInt(7), nil
}

func (g *stubGateway) CallContract(ctx context.Context, call starknet.Call) ([]*big.Int, error) {
	return nil, nil
}

func (g *stubGateway) BalanceOf(ctx context.Context, token, account *big.Int) (*big.Int, error) {
	if g.balances == nil {
		return big.NewInt(0), nil
	}
	balance, ok := g.balances[token.Text(16)]
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (g *stubGateway) SubmitInvoke(ctx context.Context, calls []starknet.Call) (string, error) {
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submitted = append(g.submitted, calls)
	return "0xabc123", nil
}

func (g *stubGateway) Close() {}

// newAVNUServer 模拟聚合器的 /quotes 与 /build 接口。
func newAVNUServer(t *testing.T, marketPrice float64, buyAmount *big.Int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/quotes"):
			if r.URL.Query().Get("excludeSources") != "Ekubo" {
				t.Errorf("缺少 excludeSources 参数")
			}
			sell := r.URL.Query().Get("sellAmount")
			json.NewEncoder(w).Encode([]map[string]any{{
				"quoteId":     "quote-1",
				"sellAmount":  sell,
				"buyAmount":   "0x" + buyAmount.Text(16),
				"marketPrice": marketPrice,
				"routes":      []map[string]any{{"name": "JediSwap"}},
			}})
		case strings.HasSuffix(r.URL.Path, "/build"):
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["quoteId"] != "quote-1" {
				t.Errorf("unexpected quoteId: %v", req["quoteId"])
			}
			json.NewEncoder(w).Encode(map[string]any{
				"entrypoint": "multi_route_swap",
				"calldata":   []string{"0x1", "0x2", "0x3"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestSwapTool(t *testing.T, server *httptest.Server, gateway starknet.Gateway) *SwapTool {
	t.Helper()
	registry := NewMainnetRegistry()
	avnu := NewAVNUClient(AVNUConfig{BaseURL: server.URL})
	account, _ := starknet.ParseFelt("0x0123")
	return NewSwapTool(registry, avnu, gateway, account, 0.5)
}

func TestSwapToolQuote(t *testing.T) {
	// 1 ETH 报 3000 USDC。
	buy := big.NewInt(3_000_000_000)
	server := newAVNUServer(t, 3000, buy)
	defer server.Close()

	tool := newTestSwapTool(t, server, &stubGateway{})
	resp, err := tool.Execute(context.Background(), "quote 1 eth usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("报价失败: %s", resp.Error)
	}
	result, ok := resp.Result.(QuoteResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result.BuyAmount != 3000 || result.SellToken != "ETH" || result.BuyToken != "USDC" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.QuoteID != "quote-1" || result.Source != "JediSwap" {
		t.Fatalf("unexpected quote metadata: %+v", result)
	}
}

func TestSwapToolTradeConfirmFlow(t *testing.T) {
	buy := big.NewInt(2_990_000_000)
	server := newAVNUServer(t, 3000, buy)
	defer server.Close()

	gateway := &stubGateway{}
	tool := newTestSwapTool(t, server, gateway)

	resp, err := tool.Execute(context.Background(), "swap 1 eth for usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("挂起交易失败: %s", resp.Error)
	}
	if resp.Metadata["requires_confirmation"] != true {
		t.Fatalf("缺少确认标记: %+v", resp.Metadata)
	}
	if !tool.PendingTrade() {
		t.Fatalf("应存在待确认交易")
	}

	resp, err = tool.Execute(context.Background(), "yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("确认执行失败: %s", resp.Error)
	}
	result, ok := resp.Result.(SwapResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result.TransactionHash != "0xabc123" {
		t.Fatalf("unexpected tx hash: %s", result.TransactionHash)
	}

	if len(gateway.submitted) != 1 {
		t.Fatalf("期望提交 1 笔交易，实际 %d", len(gateway.submitted))
	}
	calls := gateway.submitted[0]
	if len(calls) != 2 {
		t.Fatalf("期望授权 + 兑换两个调用，实际 %d", len(calls))
	}
	if calls[0].Selector.Cmp(approveSelector) != 0 {
		t.Fatalf("首个调用应为 approve")
	}
	if tool.PendingTrade() {
		t.Fatalf("执行后不应残留待确认交易")
	}
}

func TestSwapToolExecutesWithoutConfirmation(t *testing.T) {
	buy := big.NewInt(2_990_000_000)
	server := newAVNUServer(t, 3000, buy)
	defer server.Close()

	gateway := &stubGateway{}
	tool := newTestSwapTool(t, server, gateway)
	tool.SetRequireConfirmation(false)

	resp, err := tool.Execute(context.Background(), "swap 1 eth for usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("免确认交易失败: %s", resp.Error)
	}
	result, ok := resp.Result.(SwapResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result.TransactionHash != "0xabc123" {
		t.Fatalf("unexpected tx hash: %s", result.TransactionHash)
	}
	// 免确认时交易直接上链，不经过挂起环节。
	if len(gateway.submitted) != 1 {
		t.Fatalf("期望提交 1 笔交易，实际 %d", len(gateway.submitted))
	}
	if tool.PendingTrade() {
		t.Fatalf("免确认交易不应挂起")
	}
	if resp.Metadata["requires_confirmation"] == true {
		t.Fatalf("免确认交易不应要求确认: %+v", resp.Metadata)
	}
}

func TestSwapToolTradeCancel(t *testing.T) {
	buy := big.NewInt(2_990_000_000)
	server := newAVNUServer(t, 3000, buy)
	defer server.Close()

	gateway := &stubGateway{}
	tool := newTestSwapTool(t, server, gateway)

	if _, err := tool.Execute(context.Background(), "swap 1 eth for usdc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := tool.Execute(context.Background(), "no")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Message != "交易已取消" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(gateway.submitted) != 0 {
		t.Fatalf("取消后不应提交交易")
	}
}

func TestSwapToolRejectsHighPriceImpact(t *testing.T) {
	// 市场价 3000，只拿回 2700，冲击 10%。
	buy := big.NewInt(2_700_000_000)
	server := newAVNUServer(t, 3000, buy)
	defer server.Close()

	tool := newTestSwapTool(t, server, &stubGateway{})
	resp, err := tool.Execute(context.Background(), "swap 1 eth for usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success {
		t.Fatalf("高价格冲击应拒绝: %+v", resp)
	}
	if tool.PendingTrade() {
		t.Fatalf("被拒绝的交易不应挂起")
	}
}

func TestSwapToolConfirmWithoutPending(t *testing.T) {
	server := newAVNUServer(t, 3000, big.NewInt(1))
	defer server.Close()

	tool := newTestSwapTool(t, server, &stubGateway{})
	resp, err := tool.Execute(context.Background(), "yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success {
		t.Fatalf("无待确认交易时应失败")
	}
}

func TestTransferToolSubmitsERC20Transfer(t *testing.T) {
	registry := NewMainnetRegistry()
	gateway := &stubGateway{}
	account, _ := starknet.ParseFelt("0x0123")
	tool := NewTransferTool(registry, gateway, account)

	resp, err := tool.Execute(context.Background(), "send 0.5 usdc to 0x04b2dd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("转账失败: %s", resp.Error)
	}

	if len(gateway.submitted) != 1 || len(gateway.submitted[0]) != 1 {
		t.Fatalf("期望提交单个调用")
	}
	call := gateway.submitted[0][0]
	if call.Selector.Cmp(transferSelector) != 0 {
		t.Fatalf("应调用 transfer")
	}
	// calldata: 接收地址 + uint256 两段。
	if len(call.Calldata) != 3 {
		t.Fatalf("unexpected calldata: %v", call.Calldata)
	}
	if call.Calldata[1].Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("金额低位错误: %s", call.Calldata[1])
	}
}

func TestTransferToolBalance(t *testing.T) {
	registry := NewMainnetRegistry()
	eth, _ := registry.Token("ETH")
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	gateway := &stubGateway{balances: map[string]*big.Int{
		eth.Address.Text(16): oneEth,
	}}
	account, _ := starknet.ParseFelt("0x0123")
	tool := NewTransferTool(registry, gateway, account)

	resp, err := tool.Execute(context.Background(), "balance of eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("余额查询失败: %s", resp.Error)
	}
	result, ok := resp.Result.(BalanceResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result.Balances["ETH"] != 1 {
		t.Fatalf("unexpected balances: %+v", result.Balances)
	}
}
