package dex

import (
	"math/big"
	"testing"

	xerrors "HyvBase/internal/errors"
)

func TestRegistryTokenLookup(t *testing.T) {
	registry := NewMainnetRegistry()

	token, err := registry.Token("eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.Symbol != "ETH" || token.Decimals != 18 {
		t.Fatalf("unexpected token: %+v", token)
	}

	if _, err := registry.Token("DOGE"); err == nil {
		t.Fatalf("期望未知代币报错")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestRegistryValidateTrade(t *testing.T) {
	registry := NewMainnetRegistry()

	if err := registry.ValidateTrade(1, 0.5); err != nil {
		t.Fatalf("合法交易被拒绝: %v", err)
	}
	if err := registry.ValidateTrade(0.00001, 0.5); err == nil {
		t.Fatalf("低于下限应当拒绝")
	}
	if err := registry.ValidateTrade(500, 0.5); err == nil {
		t.Fatalf("超过上限应当拒绝")
	}
	if err := registry.ValidateTrade(1, 2); err == nil {
		t.Fatalf("滑点超限应当拒绝")
	}
	if err := registry.ValidateTrade(1, 2); xerrors.CodeOf(err) != xerrors.CodePolicyViolation {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestTokenWeiConversion(t *testing.T) {
	registry := NewMainnetRegistry()
	usdc, _ := registry.Token("USDC")

	wei := usdc.ToWei(1.5)
	if wei.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("ToWei = %s", wei)
	}
	if got := usdc.FromWei(big.NewInt(2_500_000)); got != 2.5 {
		t.Fatalf("FromWei = %v", got)
	}

	eth, _ := registry.Token("ETH")
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if eth.ToWei(1).Cmp(oneEth) != 0 {
		t.Fatalf("ToWei(1 ETH) = %s", eth.ToWei(1))
	}
}

func TestPriceImpact(t *testing.T) {
	// 以 3000 的市场价卖 1，只拿回 2850，冲击 5%。
	if got := priceImpact(1, 2850, 3000); got != 5 {
		t.Fatalf("priceImpact = %v", got)
	}
	if got := priceImpact(1, 3100, 3000); got != 0 {
		t.Fatalf("优于市场价应为 0，得到 %v", got)
	}
	if got := priceImpact(1, 0, 3000); got != 100 {
		t.Fatalf("全损应封顶 100，得到 %v", got)
	}
	if got := priceImpact(1, 100, 0); got != 0 {
		t.Fatalf("无市场价时应为 0，得到 %v", got)
	}
}
