package nlp

import (
	"errors"
	"testing"

	xerrors "HyvBase/internal/errors"
)

func newTestParser() *Parser {
	return NewParser([]string{"ETH", "USDC", "USDT", "STARK"})
}

func TestParseQuoteVariants(t *testing.T) {
	parser := newTestParser()

	cases := []struct {
		input  string
		from   string
		to     string
		amount float64
	}{
		{"quote 2 stark usdc", "STARK", "USDC", 2},
		{"quote stark usdc 2", "STARK", "USDC", 2},
		{"price for 0.5 eth to usdc", "ETH", "USDC", 0.5},
		{"what's the price of eth in usdt", "ETH", "USDT", 1},
		{"how much is stark", "STARK", "USDC", 1},
	}
	for _, tc := range cases {
		cmd, err := parser.Parse(tc.input)
		if err != nil {
			t.Fatalf("解析 %q 失败: %v", tc.input, err)
		}
		if cmd.Action != ActionQuote {
			t.Fatalf("%q: 期望 quote，得到 %s", tc.input, cmd.Action)
		}
		if cmd.TokenFrom != tc.from || cmd.TokenTo != tc.to || cmd.Amount != tc.amount {
			t.Fatalf("%q: 解析结果不符: %+v", tc.input, cmd)
		}
	}
}

func TestParseTradeAndBuySell(t *testing.T) {
	parser := newTestParser()

	cmd, err := parser.Parse("i want to swap 0.1 eth for usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != ActionTrade || cmd.TokenFrom != "ETH" || cmd.TokenTo != "USDC" || cmd.Amount != 0.1 {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	cmd, err = parser.Parse("sell 3 stark")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != ActionSell || cmd.Token != "STARK" || cmd.Amount != 3 {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	cmd, err = parser.Parse("please buy approximately 2.5 eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != ActionBuy || cmd.Token != "ETH" || cmd.Amount != 2.5 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseTransfer(t *testing.T) {
	parser := newTestParser()

	cmd, err := parser.Parse("send 0.5 STARK to 0x04b2dd3fc3ae")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != ActionTransfer || cmd.Token != "STARK" || cmd.Amount != 0.5 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.ToAddress != "0x04b2dd3fc3ae" {
		t.Fatalf("unexpected address: %s", cmd.ToAddress)
	}
}

func TestParseConfirmPhrases(t *testing.T) {
	parser := newTestParser()

	yes := []string{"yes", "go ahead", "lets do it", "approved"}
	for _, input := range yes {
		cmd, err := parser.Parse(input)
		if err != nil {
			t.Fatalf("解析 %q 失败: %v", input, err)
		}
		if cmd.Action != ActionConfirm || !cmd.Confirmed {
			t.Fatalf("%q: 期望确认，得到 %+v", input, cmd)
		}
	}

	no := []string{"no", "cancel", "don't do it", "not right now"}
	for _, input := range no {
		cmd, err := parser.Parse(input)
		if err != nil {
			t.Fatalf("解析 %q 失败: %v", input, err)
		}
		if cmd.Action != ActionConfirm || cmd.Confirmed {
			t.Fatalf("%q: 期望否认，得到 %+v", input, cmd)
		}
	}
}

func TestParseMemoryHelpExit(t *testing.T) {
	parser := newTestParser()

	cmd, err := parser.Parse("show chat history")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != ActionMemory || cmd.Subtype != "chat" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	cmd, err = parser.Parse("recent trades")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != ActionMemory || cmd.Subtype != "transactions" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if cmd, _ = parser.Parse("help"); cmd == nil || cmd.Action != ActionHelp {
		t.Fatalf("help 未识别")
	}
	if cmd, _ = parser.Parse("quit"); cmd == nil || cmd.Action != ActionExit {
		t.Fatalf("quit 未识别")
	}
}

func TestParseRejectsUnknownToken(t *testing.T) {
	parser := newTestParser()

	_, err := parser.Parse("swap 1 doge for usdc")
	if err == nil {
		t.Fatalf("期望报错")
	}
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	parser := newTestParser()

	_, err := parser.Parse("fly me to the moon")
	if !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("期望 ErrUnrecognized，得到 %v", err)
	}

	if _, err := parser.Parse("   "); err == nil {
		t.Fatalf("空命令应当报错")
	}
}
