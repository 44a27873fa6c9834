// Package social implements tool adapters for social platforms. Each adapter
// wraps a single platform API, applies client-side rate limiting and keeps
// lightweight usage analytics.
package social

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	xerrors "HyvBase/internal/errors"
)

// Analytics is a snapshot of adapter usage counters.
type Analytics struct {
	Sent      uint64            `json:"sent"`
	Failed    uint64            `json:"failed"`
	ByAction  map[string]uint64 `json:"by_action"`
	LastError string            `json:"last_error,omitempty"`
	LastUsed  time.Time         `json:"last_used"`
}

// base carries the shared pieces of every social adapter: a token bucket
// protecting the platform API and usage counters for the analytics command.
type base struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	sent      uint64
	failed    uint64
	byAction  map[string]uint64
	lastError string
	lastUsed  time.Time
}

func newBase(requestsPerMinute float64) base {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return base{
		limiter:  rate.NewLimiter(rate.Limit(requestsPerMinute/60), 1),
		byAction: make(map[string]uint64),
	}
}

// wait blocks until the rate limiter admits another request.
func (b *base) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeRateLimited, err, "rate limiter wait failed")
	}
	return nil
}

func (b *base) recordSuccess(action string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent++
	b.byAction[action]++
	b.lastUsed = time.Now()
}

func (b *base) recordFailure(action string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed++
	b.byAction[action]++
	if err != nil {
		b.lastError = err.Error()
	}
	b.lastUsed = time.Now()
}

// analytics returns a copy of the usage counters.
func (b *base) analytics() Analytics {
	b.mu.Lock()
	defer b.mu.Unlock()
	byAction := make(map[string]uint64, len(b.byAction))
	for action, count := range b.byAction {
		byAction[action] = count
	}
	return Analytics{
		Sent:      b.sent,
		Failed:    b.failed,
		ByAction:  byAction,
		LastError: b.lastError,
		LastUsed:  b.lastUsed,
	}
}

// splitCommand separates the action verb from its argument. Commands follow
// the "action rest-of-line" shape, e.g. "tweet hello world".
func splitCommand(command string) (action, argument string) {
	trimmed := []rune(command)
	start := 0
	for start < len(trimmed) && trimmed[start] == ' ' {
		start++
	}
	end := start
	for end < len(trimmed) && trimmed[end] != ' ' {
		end++
	}
	action = string(trimmed[start:end])
	argStart := end
	for argStart < len(trimmed) && trimmed[argStart] == ' ' {
		argStart++
	}
	return action, string(trimmed[argStart:])
}

func unsupportedAction(tool, action string) error {
	return xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("%s does not support the %q action", tool, action))
}
