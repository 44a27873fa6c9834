// Package nlp 提供自然语言交易命令的本地解析能力。
// 它是大模型解析不可用时的回退路径，两者输出同一种结构化命令。
package nlp

import (
	"regexp"
	"strconv"
	"strings"

	xerrors "HyvBase/internal/errors"
)

// Action 表示解析出的命令类别。
type Action string

const (
	ActionQuote    Action = "quote"
	ActionTrade    Action = "trade"
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionTransfer Action = "transfer"
	ActionBalance  Action = "balance"
	ActionConfirm  Action = "confirm"
	ActionMemory   Action = "memory"
	ActionHelp     Action = "help"
	ActionExit     Action = "exit"
)

// Command 是解析后的结构化命令。
type Command struct {
	Action    Action  `json:"action"`
	TokenFrom string  `json:"token_from,omitempty"`
	TokenTo   string  `json:"token_to,omitempty"`
	Token     string  `json:"token,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	ToAddress string  `json:"to_address,omitempty"`
	Confirmed bool    `json:"confirmed,omitempty"`
	Subtype   string  `json:"subtype,omitempty"`
}

// ErrUnrecognized 表示输入无法匹配任何已知命令模式。
var ErrUnrecognized = xerrors.New(xerrors.CodeInvalidArgument, "无法识别的命令")

// 确认与否定短语表，顺序即匹配优先级。否定表先匹配，
// 避免 "don't proceed" 之类的输入被 "proceed" 命中。
var (
	noPhrases = []string{
		"don't", "dont", "do not", "not now", "not right now", "maybe later",
		"no", "nah", "cancel", "stop", "abort", "nope", "negative", "reject",
	}
	yesPhrases = []string{
		"let's do it", "lets do it", "go ahead", "do it",
		"yes", "yeah", "sure", "ok", "proceed", "confirm", "execute", "approved",
	}
)

var (
	quotePattern = regexp.MustCompile(
		`^(?:quote|get quote for|what is the price for|price for|check price for)\s+` +
			`(?:(\d+\.?\d*)\s+)?(\w+)(?:\s+to\s+|\s+)(\w+)(?:\s+(\d+\.?\d*))?$`)
	priceOfPattern = regexp.MustCompile(
		`^(?:(?:what'?s\s+the\s+)?(?:price|quote|rate|value)\s+(?:of\s+)?|how\s+much\s+is\s+)` +
			`(?:(\d+\.?\d*)\s+)?(\w+)(?:\s+(?:in|to|for)\s+(\w+))?$`)
	buySellPattern = regexp.MustCompile(
		`^(?:i want to |please |can you )?` +
			`(sell|buy)\s+` +
			`(?:about |around |approximately )?` +
			`(\d+\.?\d*)\s+` +
			`(?:worth of )?` +
			`(\w+)$`)
	tradePattern = regexp.MustCompile(
		`^(?:i want to |please |can you )?` +
			`(?:trade|swap|exchange)\s+` +
			`(\d+\.?\d*)\s+(\w+)` +
			`(?:\s+for|\s+to|\s+into)\s+(\w+)$`)
	transferPattern = regexp.MustCompile(
		`^(?:send|transfer)\s+(\d+\.?\d*)\s+(\w+)\s+to\s+(0x[0-9a-fA-F]+)$`)
	balancePattern = regexp.MustCompile(
		`^(?:balance|check balance|show balance)(?:\s+(?:of\s+)?(\w+))?$`)
	memoryPattern = regexp.MustCompile(
		`(?:show|view|check|get)\s+(?:memory|history|chat|conversation|messages)|` +
			`(?:recent|latest)\s+(?:trades|transactions|activity)`)
	helpPattern = regexp.MustCompile(
		`^(?:help|assist|guide|support)$|what\s+can\s+you\s+do|show\s+commands`)
	exitPattern = regexp.MustCompile(`^(?:exit|quit|bye|goodbye)$`)
)

// Parser 将自然语言命令解析为结构化命令，并校验代币符号。
type Parser struct {
	supported map[string]struct{}
	tokens    []string

	// 默认计价代币，quote 只给出单个代币时使用。
	DefaultQuoteToken string
}

// NewParser 创建解析器。supportedTokens 为受支持代币符号列表。
func NewParser(supportedTokens []string) *Parser {
	p := &Parser{
		supported:         make(map[string]struct{}, len(supportedTokens)),
		DefaultQuoteToken: "USDC",
	}
	for _, token := range supportedTokens {
		symbol := strings.ToUpper(strings.TrimSpace(token))
		if symbol == "" {
			continue
		}
		if _, ok := p.supported[symbol]; ok {
			continue
		}
		p.supported[symbol] = struct{}{}
		p.tokens = append(p.tokens, symbol)
	}
	return p
}

// SupportedTokens 返回受支持代币符号列表。
func (p *Parser) SupportedTokens() []string {
	return append([]string(nil), p.tokens...)
}

// ValidateToken 校验代币符号并返回规范化写法。
func (p *Parser) ValidateToken(token string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(token))
	if _, ok := p.supported[symbol]; !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			"不支持的代币: "+symbol+"，可用代币: "+strings.Join(p.tokens, ", "))
	}
	return symbol, nil
}

// Parse 解析一条自然语言命令。
// 匹配优先级：退出/帮助/记忆 > 确认短语 > 转账 > 报价 > 交易 > 买卖 > 余额。
func (p *Parser) Parse(input string) (*Command, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "命令不能为空")
	}

	if exitPattern.MatchString(text) {
		return &Command{Action: ActionExit}, nil
	}
	if helpPattern.MatchString(text) {
		return &Command{Action: ActionHelp}, nil
	}
	if memoryPattern.MatchString(text) {
		subtype := "transactions"
		for _, word := range []string{"chat", "conversation", "messages"} {
			if strings.Contains(text, word) {
				subtype = "chat"
				break
			}
		}
		return &Command{Action: ActionMemory, Subtype: subtype}, nil
	}

	// 转账优先于确认短语匹配，"send ... to 0x..." 不应被误判。
	if m := transferPattern.FindStringSubmatch(text); m != nil {
		amount, err := parseAmount(m[1])
		if err != nil {
			return nil, err
		}
		token, err := p.ValidateToken(m[2])
		if err != nil {
			return nil, err
		}
		return &Command{Action: ActionTransfer, Token: token, Amount: amount, ToAddress: m[3]}, nil
	}

	for _, phrase := range noPhrases {
		if containsPhrase(text, phrase) {
			return &Command{Action: ActionConfirm, Confirmed: false}, nil
		}
	}
	for _, phrase := range yesPhrases {
		if containsPhrase(text, phrase) {
			return &Command{Action: ActionConfirm, Confirmed: true}, nil
		}
	}

	if m := quotePattern.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[4]
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return nil, err
		}
		from, err := p.ValidateToken(m[2])
		if err != nil {
			return nil, err
		}
		to, err := p.ValidateToken(m[3])
		if err != nil {
			return nil, err
		}
		return &Command{Action: ActionQuote, TokenFrom: from, TokenTo: to, Amount: amount}, nil
	}

	if m := tradePattern.FindStringSubmatch(text); m != nil {
		amount, err := parseAmount(m[1])
		if err != nil {
			return nil, err
		}
		from, err := p.ValidateToken(m[2])
		if err != nil {
			return nil, err
		}
		to, err := p.ValidateToken(m[3])
		if err != nil {
			return nil, err
		}
		return &Command{Action: ActionTrade, TokenFrom: from, TokenTo: to, Amount: amount}, nil
	}

	if m := buySellPattern.FindStringSubmatch(text); m != nil {
		amount, err := parseAmount(m[2])
		if err != nil {
			return nil, err
		}
		token, err := p.ValidateToken(m[3])
		if err != nil {
			return nil, err
		}
		return &Command{Action: Action(m[1]), Token: token, Amount: amount}, nil
	}

	if m := priceOfPattern.FindStringSubmatch(text); m != nil {
		from, err := p.ValidateToken(m[2])
		if err != nil {
			return nil, err
		}
		to := p.DefaultQuoteToken
		if m[3] != "" {
			to, err = p.ValidateToken(m[3])
			if err != nil {
				return nil, err
			}
		}
		amount := 1.0
		if m[1] != "" {
			amount, err = parseAmount(m[1])
			if err != nil {
				return nil, err
			}
		}
		return &Command{Action: ActionQuote, TokenFrom: from, TokenTo: to, Amount: amount}, nil
	}

	if m := balancePattern.FindStringSubmatch(text); m != nil {
		token := ""
		if m[1] != "" {
			validated, err := p.ValidateToken(m[1])
			if err != nil {
				return nil, err
			}
			token = validated
		}
		return &Command{Action: ActionBalance, Token: token}, nil
	}

	return nil, ErrUnrecognized
}

func parseAmount(raw string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "缺少数量")
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无效的数量: "+raw)
	}
	if amount <= 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "数量必须大于 0")
	}
	return amount, nil
}

// containsPhrase 判断文本是否按词边界包含指定短语。
func containsPhrase(text, phrase string) bool {
	idx := strings.Index(text, phrase)
	for idx >= 0 {
		before := idx == 0 || !isWordChar(text[idx-1])
		afterIdx := idx + len(phrase)
		after := afterIdx >= len(text) || !isWordChar(text[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
