package command

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"HyvBase/internal/agent"
	xerrors "HyvBase/internal/errors"
	"HyvBase/internal/observability/alerting"
	"HyvBase/pkg/logger"
)

// Executor 定义了处理器所需的智能体能力。
type Executor interface {
	Process(ctx context.Context, input string) (*agent.Response, error)
}

// Processor 负责从队列消费命令并交给智能体执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动命令处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置命令消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, commandID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	cmd, err := p.store.Claim(ctx, commandID)
	if err != nil {
		if stdErrors.Is(err, ErrCommandNotFound) || stdErrors.Is(err, ErrCommandCompleted) || stdErrors.Is(err, ErrCommandExhausted) {
			p.logDebug("跳过命令", slog.String("command_id", commandID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取命令失败", slog.Any("error", err), slog.String("command_id", commandID))
		p.emitAlert(ctx, &Command{ID: commandID}, CodeCommandProcessing, err, "claim")
		return err
	}

	resp, execErr := p.executor.Process(ctx, cmd.Input)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, cmd, execErr)
	}

	outcome := outcomeFromResponse(resp)

	// 响应信封本身报告失败时视为业务失败，不做重试：
	// 工具层的可重试错误已经在信封之外以 error 形式返回。
	if resp != nil && !resp.Success {
		if storeErr := p.store.MarkFailed(ctx, cmd.ID, CodeCommandProcessing, resp.Error, true); storeErr != nil {
			logger.L().Error("标记命令失败状态出错", slog.Any("error", storeErr), slog.String("command_id", cmd.ID))
			return storeErr
		}
		logger.Audit().Warn("命令执行返回失败信封",
			slog.String("command_id", cmd.ID),
			slog.String("input", cmd.Input),
			slog.String("error", resp.Error),
		)
		return nil
	}

	if err := p.store.MarkSucceeded(ctx, cmd.ID, outcome); err != nil {
		logger.L().Error("标记命令成功状态失败", slog.Any("error", err), slog.String("command_id", cmd.ID))
		if storeErr := p.store.MarkFailed(ctx, cmd.ID, CodeCommandProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("command_id", cmd.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, cmd.ID); pubErr != nil {
			return xerrors.Wrap(CodeCommandPublish, pubErr, fmt.Sprintf("命令 %s 在标记成功失败后重投失败", cmd.ID))
		}
		logger.Audit().Warn("命令标记成功失败后重试",
			slog.String("command_id", cmd.ID),
			slog.String("input", cmd.Input),
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Audit().Info("命令执行成功",
		slog.String("command_id", cmd.ID),
		slog.String("input", cmd.Input),
		slog.String("tool", outcome.Tool),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, cmd *Command, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeCommandProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := cmd.Attempts >= cmd.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, cmd, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeCommandCompensate, recErr, "命令补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("command_id", cmd.ID))
			p.emitAlert(ctx, cmd, CodeCommandCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if fallback.Message == "" {
				fallback.Message = fmt.Sprintf("降级处理: %v", execErr)
			}
			if err := p.store.MarkSucceeded(ctx, cmd.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("command_id", cmd.ID))
				if storeErr := p.store.MarkFailed(ctx, cmd.ID, code, err.Error(), false); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("command_id", cmd.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, cmd.ID); pubErr != nil {
					return xerrors.Wrap(CodeCommandPublish, pubErr, fmt.Sprintf("命令 %s 在降级失败后重投失败", cmd.ID))
				}
				return nil
			}
			logger.Audit().Warn("命令降级完成",
				slog.String("command_id", cmd.ID),
				slog.String("input", cmd.Input),
				slog.String("message", fallback.Message),
			)
			p.emitAlert(ctx, cmd, code, execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, cmd.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记命令失败状态出错", slog.Any("error", storeErr), slog.String("command_id", cmd.ID))
		return storeErr
	}
	logger.Audit().Warn("命令执行失败",
		slog.String("command_id", cmd.ID),
		slog.String("input", cmd.Input),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", cmd.Attempts),
		slog.Int("max_retries", cmd.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, cmd, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, cmd.ID); pubErr != nil {
			return xerrors.Wrap(CodeCommandPublish, pubErr, fmt.Sprintf("命令 %s 重投失败", cmd.ID))
		}
		p.logDebug("命令已重新排队", slog.String("command_id", cmd.ID), slog.Int("attempts", cmd.Attempts))
	}
	return nil
}

func outcomeFromResponse(resp *agent.Response) Outcome {
	if resp == nil {
		return Outcome{}
	}
	outcome := Outcome{
		Success:   resp.Success,
		Message:   resp.Message,
		Error:     resp.Error,
		ElapsedMS: int64(resp.Elapsed * 1000),
	}
	if tool, ok := resp.Metadata["tool"].(string); ok {
		outcome.Tool = tool
	}
	if resp.Result != nil {
		if encoded, err := json.Marshal(resp.Result); err == nil {
			outcome.Payload = string(encoded)
		}
	}
	return outcome
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, cmd *Command, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || cmd == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		CommandID:  cmd.ID,
		Attempts:   cmd.Attempts,
		MaxRetries: cmd.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("command_id", cmd.ID),
			slog.String("stage", stage),
		)
	}
}
