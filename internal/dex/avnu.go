package dex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	xerrors "HyvBase/internal/errors"
	"HyvBase/internal/starknet"
)

const (
	defaultAVNUBaseURL = "https://starknet.api.avnu.fi/swap/v1"
	defaultAVNUTimeout = 30 * time.Second

	// Ekubo 路由在历史上返回过无法执行的报价，默认排除。
	excludedSources = "Ekubo"
)

// AVNUConfig 描述访问 AVNU 聚合器 API 所需的信息。
type AVNUConfig struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond 限制对聚合器的请求速率，0 表示默认 5 qps。
	RequestsPerSecond float64
}

// Quote 是聚合器返回的一条报价。金额以代币最小单位表示。
type Quote struct {
	QuoteID     string
	SellAmount  *big.Int
	BuyAmount   *big.Int
	MarketPrice float64
	Source      string
}

// SwapTransaction 是聚合器为某条报价构建的待签名调用。
type SwapTransaction struct {
	EntryPoint string
	Calldata   []*big.Int
}

// AVNUClient 封装 AVNU 聚合器的报价与交易构建接口。
type AVNUClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAVNUClient 创建聚合器客户端。
func NewAVNUClient(cfg AVNUConfig) *AVNUClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultAVNUBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAVNUTimeout
	}

	qps := cfg.RequestsPerSecond
	if qps <= 0 {
		qps = 5
	}

	return &AVNUClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(qps), 1),
	}
}

// avnuQuote 对应 /quotes 响应中的单个元素。
type avnuQuote struct {
	QuoteID     string  `json:"quoteId"`
	SellAmount  string  `json:"sellAmount"`
	BuyAmount   string  `json:"buyAmount"`
	MarketPrice float64 `json:"marketPrice,omitempty"`
	Routes      []struct {
		Name string `json:"name"`
	} `json:"routes,omitempty"`
}

// GetQuotes 查询 sellToken 换 buyToken 的可用报价，按聚合器返回顺序排列。
func (c *AVNUClient) GetQuotes(ctx context.Context, sellToken, buyToken Token, sellAmount *big.Int) ([]Quote, error) {
	if sellAmount == nil || sellAmount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "卖出数量必须大于 0")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待限流器失败: %w", err)
	}

	query := url.Values{}
	query.Set("sellTokenAddress", feltHex(sellToken.Address))
	query.Set("buyTokenAddress", feltHex(buyToken.Address))
	query.Set("sellAmount", feltHex(sellAmount))
	query.Set("excludeSources", excludedSources)

	endpoint := c.baseURL + "/quotes?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建报价请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "请求 AVNU 报价失败",
			xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.statusError(resp)
	}

	var decoded []avnuQuote
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 AVNU 报价失败: %w", err)
	}

	quotes := make([]Quote, 0, len(decoded))
	for _, item := range decoded {
		sell, err := starknet.ParseFelt(item.SellAmount)
		if err != nil {
			return nil, fmt.Errorf("报价 %s 的卖出金额无效: %w", item.QuoteID, err)
		}
		buy, err := starknet.ParseFelt(item.BuyAmount)
		if err != nil {
			return nil, fmt.Errorf("报价 %s 的买入金额无效: %w", item.QuoteID, err)
		}
		quote := Quote{
			QuoteID:     item.QuoteID,
			SellAmount:  sell,
			BuyAmount:   buy,
			MarketPrice: item.MarketPrice,
		}
		if len(item.Routes) > 0 {
			quote.Source = item.Routes[0].Name
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// BestQuote 返回首条报价，聚合器按优劣排序。
func (c *AVNUClient) BestQuote(ctx context.Context, sellToken, buyToken Token, sellAmount *big.Int) (Quote, error) {
	quotes, err := c.GetQuotes(ctx, sellToken, buyToken, sellAmount)
	if err != nil {
		return Quote{}, err
	}
	if len(quotes) == 0 {
		return Quote{}, xerrors.New(xerrors.CodeExternalService,
			fmt.Sprintf("%s/%s 当前没有可用报价", sellToken.Symbol, buyToken.Symbol))
	}
	return quotes[0], nil
}

// BuildTransaction 为指定报价构建兑换调用。slippage 为百分比，发往
// 聚合器前换算成小数。
func (c *AVNUClient) BuildTransaction(ctx context.Context, quoteID string, taker *big.Int, slippage float64) (SwapTransaction, error) {
	if strings.TrimSpace(quoteID) == "" {
		return SwapTransaction{}, xerrors.New(xerrors.CodeInvalidArgument, "报价 ID 不能为空")
	}
	if taker == nil {
		return SwapTransaction{}, xerrors.New(xerrors.CodeInvalidArgument, "缺少交易账户地址")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return SwapTransaction{}, fmt.Errorf("等待限流器失败: %w", err)
	}

	body := map[string]any{
		"quoteId":      quoteID,
		"takerAddress": feltHex(taker),
		"slippage":     slippage / 100,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return SwapTransaction{}, fmt.Errorf("序列化交易构建请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build", bytes.NewReader(encoded))
	if err != nil {
		return SwapTransaction{}, fmt.Errorf("构建交易构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SwapTransaction{}, xerrors.Wrap(xerrors.CodeExternalService, err, "请求 AVNU 构建交易失败",
			xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return SwapTransaction{}, c.statusError(resp)
	}

	var decoded struct {
		EntryPoint string   `json:"entrypoint"`
		Calldata   []string `json:"calldata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return SwapTransaction{}, fmt.Errorf("解析交易构建响应失败: %w", err)
	}
	if decoded.EntryPoint == "" {
		return SwapTransaction{}, errors.New("交易构建响应缺少入口函数")
	}

	calldata := make([]*big.Int, 0, len(decoded.Calldata))
	for _, item := range decoded.Calldata {
		felt, err := starknet.ParseFelt(item)
		if err != nil {
			return SwapTransaction{}, fmt.Errorf("calldata 含无效 felt: %w", err)
		}
		calldata = append(calldata, felt)
	}
	return SwapTransaction{EntryPoint: decoded.EntryPoint, Calldata: calldata}, nil
}

// statusError 将聚合器的错误状态转换为带重试属性的领域错误。
// 429 与 5xx 可重试，4xx 视为参数问题。
func (c *AVNUClient) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := fmt.Sprintf("AVNU 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, message, xerrors.WithRetryable(true))
	case resp.StatusCode >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeExternalService, message, xerrors.WithRetryable(true))
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, message)
	}
}

func feltHex(value *big.Int) string {
	if value == nil {
		return "0x0"
	}
	return "0x" + value.Text(16)
}
