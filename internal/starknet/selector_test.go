package starknet

import (
	"math/big"
	"testing"
)

func TestSelectorFromNameKnownValues(t *testing.T) {
	// Reference values produced by the canonical starknet_keccak definition.
	cases := map[string]string{
		"transfer":  "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e",
		"balanceOf": "0x2e4263afad30923c891518314c3c95dbe830a16874e8abc5777a9a20b54c76e",
		"approve":   "0x219209e083275171774dab1df80982e9df2096516f06319c5c6d71ae0a8480c",
	}
	for name, want := range cases {
		got := SelectorFromName(name)
		expected, ok := new(big.Int).SetString(want[2:], 16)
		if !ok {
			t.Fatalf("bad fixture for %s", name)
		}
		if got.Cmp(expected) != 0 {
			t.Fatalf("selector(%s) = %#x, want %s", name, got, want)
		}
	}
}

func TestSelectorFitsFieldElement(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 250)
	for _, name := range []string{"transfer", "swap", "balanceOf", "a-very-long-entry-point-name"} {
		if SelectorFromName(name).Cmp(limit) >= 0 {
			t.Fatalf("selector for %s exceeds 250 bits", name)
		}
	}
}

func TestSplitUint256(t *testing.T) {
	value, _ := new(big.Int).SetString("1ffffffffffffffffffffffffffffffff", 16)
	low, high := SplitUint256(value)

	wantLow, _ := new(big.Int).SetString("ffffffffffffffffffffffffffffffff", 16)
	if low.Cmp(wantLow) != 0 {
		t.Fatalf("low = %#x", low)
	}
	if high.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("high = %#x", high)
	}

	recombined := new(big.Int).Lsh(high, 128)
	recombined.Add(recombined, low)
	if recombined.Cmp(value) != 0 {
		t.Fatalf("limbs do not recombine: %#x", recombined)
	}
}

func TestParseFelt(t *testing.T) {
	felt, err := ParseFelt("0x1a")
	if err != nil || felt.Int64() != 26 {
		t.Fatalf("ParseFelt hex: %v %v", felt, err)
	}
	felt, err = ParseFelt("42")
	if err != nil || felt.Int64() != 42 {
		t.Fatalf("ParseFelt decimal: %v %v", felt, err)
	}
	if _, err := ParseFelt("zz"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseFelt(""); err == nil {
		t.Fatalf("expected empty error")
	}
}
