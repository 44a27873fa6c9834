package agent

import (
	"fmt"
	"strings"

	xerrors "HyvBase/internal/errors"
	"HyvBase/internal/nlp"
)

// SecurityPolicy 约束智能体可以自动执行的链上操作。
type SecurityPolicy struct {
	// MaxTransactionValue 是单笔交易允许的最大数量，0 表示不限制。
	MaxTransactionValue float64
	// AllowedChains 列出允许操作的链，空表示全部允许。
	AllowedChains []string
	// RequireConfirmation 为真时，交易与转账必须经过确认流程。
	RequireConfirmation bool
}

// DefaultSecurityPolicy 返回保守的默认策略。
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		MaxTransactionValue: 10,
		RequireConfirmation: true,
	}
}

// ChainAllowed 判断指定链是否在白名单内。
func (p SecurityPolicy) ChainAllowed(chain string) bool {
	if len(p.AllowedChains) == 0 {
		return true
	}
	for _, allowed := range p.AllowedChains {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(chain)) {
			return true
		}
	}
	return false
}

// executionChain 是链上工具当前运行的链。
const executionChain = "starknet"

// CheckCommand 校验一条结构化命令是否满足策略。只有携带价值的
// 操作（交易、买卖、转账）会被检查。
func (p SecurityPolicy) CheckCommand(cmd *nlp.Command) error {
	if cmd == nil {
		return nil
	}
	switch cmd.Action {
	case nlp.ActionTrade, nlp.ActionBuy, nlp.ActionSell, nlp.ActionTransfer:
	default:
		return nil
	}

	if !p.ChainAllowed(executionChain) {
		return xerrors.New(xerrors.CodePolicyViolation,
			fmt.Sprintf("安全策略未允许在 %s 链上执行操作", executionChain))
	}

	if p.MaxTransactionValue > 0 && cmd.Amount > p.MaxTransactionValue {
		return xerrors.New(xerrors.CodePolicyViolation,
			fmt.Sprintf("数量 %g 超过安全策略上限 %g", cmd.Amount, p.MaxTransactionValue))
	}
	return nil
}
