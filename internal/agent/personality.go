package agent

import (
	"fmt"
	"strings"
)

// Personality 描述智能体的角色设定，用于生成系统提示词。
type Personality struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Traits    []string `json:"traits,omitempty"`
	Expertise []string `json:"expertise,omitempty"`
}

// DefaultPersonality 返回默认的交易助手角色。
func DefaultPersonality() Personality {
	return Personality{
		Name:      "Alex",
		Role:      "DEX Trading Specialist",
		Traits:    []string{"helpful", "precise"},
		Expertise: []string{"DEX Trading", "Token Swaps", "Token Transfers"},
	}
}

// SystemPrompt 基于角色设定与受支持代币生成命令解析提示词。
// 模型被要求只输出紧凑 JSON 命令对象，解析失败时回退到本地正则解析。
func (p Personality) SystemPrompt(supportedTokens []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.\n", p.Name, p.Role)
	b.WriteString("Your task is to understand user trading and transfer intentions and convert them to structured commands.\n\n")
	b.WriteString("Available commands:\n")
	b.WriteString(`1. Quote: {"action": "quote", "token_from": "X", "token_to": "Y", "amount": Z}` + "\n")
	b.WriteString(`2. Trade: {"action": "trade", "token_from": "X", "token_to": "Y", "amount": Z}` + "\n")
	b.WriteString(`3. Transfer: {"action": "transfer", "token": "X", "amount": Z, "to_address": "address"}` + "\n")
	b.WriteString(`4. Balance: {"action": "balance", "token": "X"}` + "\n")
	b.WriteString(`5. Confirm: {"action": "confirm", "confirmed": true/false}` + "\n\n")
	fmt.Fprintf(&b, "Supported tokens: %s\n\n", strings.Join(supportedTokens, ", "))
	b.WriteString("Only the explicit agreement phrases (yes, yeah, sure, ok, go ahead, proceed, do it, confirm, execute, approved) mean confirmed=true; everything else means confirmed=false.\n")
	b.WriteString("Always respond with a single valid JSON command object and nothing else.\n")
	b.WriteString(`If you don't understand the request, respond with {"action": "confirm", "confirmed": false}.`)
	return b.String()
}
