package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"HyvBase/internal/agent"
	xerrors "HyvBase/internal/errors"
)

// scriptedExecutor 按预设脚本响应命令，用于驱动处理器的各种分支。
type scriptedExecutor struct {
	processed atomic.Int32
	failures  atomic.Int32
	failUntil int32
	envelope  *agent.Response
	err       error
	latency   time.Duration
}

func (s *scriptedExecutor) Process(ctx context.Context, input string) (*agent.Response, error) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil && s.failures.Load() < s.failUntil {
		s.failures.Add(1)
		return nil, s.err
	}
	s.processed.Add(1)
	if s.envelope != nil {
		return s.envelope, nil
	}
	return agent.OK(map[string]string{"input": input}, "执行成功").WithMeta("tool", "starknet_swap"), nil
}

func startProcessor(t *testing.T, ctx context.Context, p *Processor) {
	t.Helper()
	go func() {
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
}

func TestProcessorCompletesCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &scriptedExecutor{}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(2))
	startProcessor(t, ctx, processor)

	cmd, err := service.Submit(ctx, Request{Input: "quote 1 eth usdc"})
	if err != nil {
		t.Fatalf("提交命令失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, cmd.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待命令完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil || !done.Result.Success || done.Result.Tool != "starknet_swap" {
		t.Fatalf("unexpected outcome: %+v", done.Result)
	}
}

func TestProcessorMarksEnvelopeFailureTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &scriptedExecutor{envelope: agent.Fail("执行失败", "余额不足")}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue)
	startProcessor(t, ctx, processor)

	cmd, err := service.Submit(ctx, Request{Input: "swap 1 eth for usdc"})
	if err != nil {
		t.Fatalf("提交命令失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, cmd.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待命令完成失败: %v", err)
	}
	if done.Status != StatusFailed {
		t.Fatalf("unexpected status: %s", done.Status)
	}
	if done.ErrorCode != string(CodeCommandProcessing) || done.LastError != "余额不足" {
		t.Fatalf("unexpected failure record: %+v", done)
	}
	// 业务失败不重试。
	if done.Attempts != 1 {
		t.Fatalf("expected single attempt, got %d", done.Attempts)
	}
}

func TestProcessorRetriesRetryableErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &scriptedExecutor{
		failUntil: 2,
		err:       xerrors.New(xerrors.CodeExternalService, "上游超时"),
	}

	service := NewService(store, queue, 5)
	processor := NewProcessor(executor, store, queue, queue)
	startProcessor(t, ctx, processor)

	cmd, err := service.Submit(ctx, Request{Input: "quote 1 eth usdc"})
	if err != nil {
		t.Fatalf("提交命令失败: %v", err)
	}

	// 重试间隙命令回到 pending 而非终态失败，WaitUntilCompleted
	// 不会在重试完成前提前返回。
	done, err := service.WaitUntilCompleted(ctx, cmd.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待命令完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s (%s)", done.Status, done.LastError)
	}
	if done.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", done.Attempts)
	}
	if executor.failures.Load() != 2 {
		t.Fatalf("expected 2 failures before success, got %d", executor.failures.Load())
	}
}

func TestProcessorAppliesRecoveryFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &scriptedExecutor{
		failUntil: 10,
		err:       xerrors.New(xerrors.CodePolicyViolation, "策略拒绝"),
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithRecoveryHandler(recoveryFunc(func(ctx context.Context, cmd *Command, cause error) (*Outcome, error) {
			return &Outcome{Success: false, Message: "已降级", Error: cause.Error()}, nil
		})),
	)
	startProcessor(t, ctx, processor)

	cmd, err := service.Submit(ctx, Request{Input: "swap 100 eth for usdc"})
	if err != nil {
		t.Fatalf("提交命令失败: %v", err)
	}

	done, err := service.WaitUntilCompleted(ctx, cmd.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待命令完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s (%s)", done.Status, done.LastError)
	}
	if done.Result == nil || done.Result.Message != "已降级" {
		t.Fatalf("unexpected fallback outcome: %+v", done.Result)
	}
}

func TestProcessorHandlesConcurrentCommands(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &scriptedExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))
	startProcessor(t, ctx, processor)

	total := 100
	for i := 0; i < total; i++ {
		input := fmt.Sprintf("quote %d eth usdc", i+1)
		if _, err := service.Submit(ctx, Request{Input: input}); err != nil {
			t.Fatalf("提交命令失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("命令未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)

	first, err := service.Submit(ctx, Request{ID: "cmd-1", Input: "quote 1 eth usdc"})
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := service.Submit(ctx, Request{ID: "cmd-1", Input: "quote 1 eth usdc"})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.ID != second.ID || second.CreatedAt != first.CreatedAt {
		t.Fatalf("重复提交应返回既有命令: %+v vs %+v", first, second)
	}
}

// recoveryFunc 将普通函数适配为 RecoveryHandler。
type recoveryFunc func(ctx context.Context, cmd *Command, cause error) (*Outcome, error)

func (f recoveryFunc) Recover(ctx context.Context, cmd *Command, cause error) (*Outcome, error) {
	return f(ctx, cmd, cause)
}
