// Package agent drives multi-turn model and tool interaction.
//
// A Loop streams one model turn, folds it into an assistant message, runs the
// requested tools in parallel, commits their results as one batch and then
// either starts the next turn or halts: when the model stops asking for tools,
// when a tool needs approval or client input, when the stop policy says so, on
// error, or on cancellation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	llmprovider "github.com/haowjy/meridian-agent-go"
	"github.com/haowjy/meridian-agent-go/processor"
)

const (
	tracerName = "github.com/haowjy/meridian-agent-go/agent"

	defaultEventBuffer = 64
)

// Loop runs agent turns against one provider and tool registry. A Loop is
// safe for concurrent use; every Run works on its own copy of the history.
type Loop struct {
	provider   llmprovider.Provider
	registry   *llmprovider.ToolRegistry
	model      string
	params     *llmprovider.RequestParams
	stop       StopPolicy
	validation *llmprovider.ValidationEngine
	logger     *slog.Logger
	tracer     trace.Tracer
	buffer     int
}

// Option configures a Loop.
type Option func(*Loop)

// WithModel sets the model sent with every request.
func WithModel(model string) Option {
	return func(l *Loop) { l.model = model }
}

// WithParams sets the base request parameters. Registry tools are appended to
// params.Tools on every turn.
func WithParams(params *llmprovider.RequestParams) Option {
	return func(l *Loop) { l.params = params.Clone() }
}

// WithStopPolicy replaces the default MaxIterations(DefaultMaxIterations).
func WithStopPolicy(policy StopPolicy) Option {
	return func(l *Loop) {
		if policy != nil {
			l.stop = policy
		}
	}
}

// WithValidation sets the engine that checks every request before it is sent.
func WithValidation(engine *llmprovider.ValidationEngine) Option {
	return func(l *Loop) {
		if engine != nil {
			l.validation = engine
		}
	}
}

// WithLogger sets the logger for run and turn diagnostics. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracerProvider sets the provider for run, turn and tool spans. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loop) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithEventBuffer sets the capacity of Run.Events.
func WithEventBuffer(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.buffer = n
		}
	}
}

// NewLoop creates a loop. registry may be nil for a tool-less agent.
func NewLoop(provider llmprovider.Provider, registry *llmprovider.ToolRegistry, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	l := &Loop{
		provider:   provider,
		registry:   registry,
		params:     &llmprovider.RequestParams{},
		stop:       MaxIterations(DefaultMaxIterations),
		validation: llmprovider.GetValidationEngine(),
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		buffer:     defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "agent", "provider", provider.Name().String())
	return l, nil
}

// Run starts a run over a deep copy of messages and returns immediately.
//
// Problems that make the first request unsendable (unsupported model,
// invalid parameters, empty history) are returned here, before any provider
// call.
func (l *Loop) Run(ctx context.Context, messages []llmprovider.Message) (*Run, error) {
	if l.model != "" && !l.provider.SupportsModel(l.model) {
		return nil, &llmprovider.ModelError{
			Model:    l.model,
			Provider: l.provider.Name().String(),
			Reason:   "model is not supported by the provider",
			Err:      llmprovider.ErrInvalidModel,
		}
	}

	history := llmprovider.CloneMessages(messages)
	if _, err := l.request(history); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	r := newRun(cancel, l.buffer)
	go l.execute(ctx, r, history)
	return r, nil
}

func (l *Loop) execute(ctx context.Context, r *Run, history []llmprovider.Message) {
	ctx, span := l.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.provider", l.provider.Name().String()),
		attribute.String("agent.model", l.model),
	))
	defer span.End()

	res := &RunResult{Messages: history}
	halt, err := l.loop(ctx, r, res)
	res.Halt = halt

	span.SetAttributes(
		attribute.String("agent.halt", string(halt)),
		attribute.Int("agent.iterations", res.Iterations),
		attribute.Int("agent.usage.input_tokens", res.Usage.InputTokens),
		attribute.Int("agent.usage.output_tokens", res.Usage.OutputTokens),
	)
	switch halt {
	case HaltError:
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run failed")
		l.logger.Error("run failed", "iterations", res.Iterations, "error", err)
	case HaltCancelled:
		span.SetStatus(codes.Error, "agent run cancelled")
		l.logger.Info("run cancelled", "iterations", res.Iterations)
	default:
		span.SetStatus(codes.Ok, "ok")
		l.logger.Debug("run halted", "halt", halt, "iterations", res.Iterations)
	}

	r.finish(res, err)
}

func (l *Loop) loop(ctx context.Context, r *Run, res *RunResult) (HaltReason, error) {
	if halt, err := l.resume(ctx, r, res); halt != "" {
		return halt, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return HaltCancelled, err
		}
		res.Iterations++

		state, halt, err := l.turn(ctx, r, res)
		if halt != "" {
			return halt, err
		}
		if l.stop.ShouldStop(state) {
			l.logger.Debug("stop policy ended the run", "iteration", state.Iteration)
			return HaltStopPolicy, nil
		}
	}
}

// resume dispatches the calls left ready on the last assistant message, which
// is how approved calls and re-submitted client calls get executed.
func (l *Loop) resume(ctx context.Context, r *Run, res *RunResult) (HaltReason, error) {
	idx := llmprovider.LastAssistantMessage(res.Messages)
	if idx < 0 || userMessageAfter(res.Messages, idx) {
		return "", nil
	}
	ready := llmprovider.ReadyToolCalls(&res.Messages[idx])
	if len(ready) == 0 {
		return "", nil
	}

	l.logger.Debug("resuming tool calls", "count", len(ready))
	return l.commit(ctx, r, res, l.dispatchAll(ctx, ready))
}

func (l *Loop) turn(ctx context.Context, r *Run, res *RunResult) (IterationState, HaltReason, error) {
	state := IterationState{Iteration: res.Iterations}

	ctx, span := l.tracer.Start(ctx, "agent.turn",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("agent.iteration", res.Iterations),
			attribute.String("agent.model", l.model),
		),
	)
	defer span.End()

	fail := func(err error) (IterationState, HaltReason, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent turn failed")
		return state, HaltError, err
	}

	req, err := l.request(res.Messages)
	if err != nil {
		r.emit(ctx, llmprovider.NewErrorEvent(err))
		return fail(err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := l.provider.StreamResponse(turnCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return state, HaltCancelled, ctx.Err()
		}
		r.emit(ctx, llmprovider.NewErrorEvent(err))
		return fail(fmt.Errorf("start stream: %w", err))
	}

	proc := processor.New(nil, processor.WithLogger(l.logger))
	streamErr := l.forward(turnCtx, r, proc, events)
	cancel()

	result := proc.Result()
	if streamErr != nil {
		proc.Abort("tool call was interrupted")
	}
	msg := proc.Message()
	if !msg.IsEmpty() {
		res.Messages = append(res.Messages, *msg)
	}
	if result.Usage != nil {
		res.Usage = res.Usage.Add(*result.Usage)
		span.SetAttributes(
			attribute.Int("agent.usage.input_tokens", result.Usage.InputTokens),
			attribute.Int("agent.usage.output_tokens", result.Usage.OutputTokens),
		)
	}
	state.Usage = res.Usage
	state.FinishReason = result.FinishReason

	calls := msg.ToolCalls()
	state.ToolCalls = len(calls)

	var outcomes []llmprovider.ToolOutcome
	var ready []*llmprovider.ToolCallPart
	for _, call := range calls {
		switch {
		case call.HasResult():
			outcomes = append(outcomes, llmprovider.OutcomeOf(call))
		case call.State == llmprovider.ToolStateInputComplete:
			ready = append(ready, call)
		}
	}

	switch {
	case streamErr != nil && ctx.Err() != nil:
		if _, err := l.commit(ctx, r, res, outcomes); err != nil {
			l.logger.Warn("commit interrupted tool calls", "error", err)
		}
		span.SetStatus(codes.Error, "agent turn cancelled")
		return state, HaltCancelled, ctx.Err()

	case streamErr != nil:
		if _, err := l.commit(ctx, r, res, outcomes); err != nil {
			streamErr = errors.Join(streamErr, err)
		}
		r.emit(ctx, llmprovider.NewErrorEvent(streamErr))
		return fail(streamErr)

	case result.Err != nil:
		if _, err := l.commit(ctx, r, res, outcomes); err != nil {
			l.logger.Warn("commit tool calls of failed turn", "error", err)
		}
		return fail(result.Err)
	}

	span.SetAttributes(
		attribute.String("agent.finish_reason", string(result.FinishReason)),
		attribute.Int("agent.tool_calls", len(calls)),
	)

	outcomes = append(outcomes, l.dispatchAll(ctx, ready)...)
	halt, err := l.commit(ctx, r, res, outcomes)
	if err != nil {
		return fail(err)
	}
	if halt == "" && awaitingApproval(calls) {
		halt = HaltAwaitingApproval
	}
	if halt != "" {
		span.SetStatus(codes.Ok, "ok")
		return state, halt, nil
	}
	if len(calls) == 0 {
		span.SetStatus(codes.Ok, "ok")
		return state, HaltCompleted, nil
	}

	span.SetStatus(codes.Ok, "ok")
	return state, "", nil
}

// forward folds events into proc and relays them to the run. Every turn
// starts with exactly one RunStarted; one is synthesized when the provider
// does not send it.
func (l *Loop) forward(ctx context.Context, r *Run, proc *processor.Processor, events <-chan llmprovider.StreamEvent) error {
	started := false
	for {
		select {
		case <-ctx.Done():
			return proc.Close(ctx)

		case ev, ok := <-events:
			if !ok {
				return proc.Close(ctx)
			}
			if !started {
				started = true
				if _, isStart := ev.(llmprovider.RunStartedEvent); !isStart {
					start := llmprovider.RunStartedEvent{RunID: uuid.NewString(), Model: l.model}
					if err := proc.Apply(start); err != nil {
						return err
					}
					r.emit(ctx, start)
				}
			}
			if err := proc.Apply(ev); err != nil {
				return err
			}
			r.emit(ctx, ev)
			if proc.Done() {
				return nil
			}
		}
	}
}

func (l *Loop) request(history []llmprovider.Message) (*llmprovider.GenerateRequest, error) {
	params := l.params.Clone()
	params.Tools = append(params.Tools, l.registry.Tools()...)

	req := &llmprovider.GenerateRequest{
		Messages: llmprovider.Reconcile(history),
		Model:    l.model,
		Params:   params,
	}
	warnings, err := l.validation.Check(l.provider.Name().String(), req)
	for _, w := range warnings {
		l.logger.Debug("request validation", "code", w.Code, "severity", w.Severity, "message", w.Message)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// dispatchAll runs every call concurrently on a snapshot and waits for all of
// them. Tool contexts are detached from cancellation so a started execution
// always completes.
func (l *Loop) dispatchAll(ctx context.Context, calls []*llmprovider.ToolCallPart) []llmprovider.ToolOutcome {
	outcomes := make([]llmprovider.ToolOutcome, len(calls))
	toolCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, call := range calls {
		snapshot := call.Clone().(*llmprovider.ToolCallPart)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = l.dispatch(toolCtx, snapshot)
		}()
	}
	wg.Wait()
	return outcomes
}

func (l *Loop) dispatch(ctx context.Context, call *llmprovider.ToolCallPart) llmprovider.ToolOutcome {
	ctx, span := l.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("agent.tool.name", call.Name),
		attribute.String("agent.tool.call_id", call.ID),
	))
	defer span.End()

	o := llmprovider.Dispatch(ctx, call, l.registry)

	span.SetAttributes(
		attribute.String("agent.tool.outcome", string(o.Kind)),
		attribute.Bool("agent.tool.executed", o.Executed),
	)
	if o.Kind == llmprovider.OutcomeOutputError {
		span.SetStatus(codes.Error, o.ErrorText)
		l.logger.Warn("tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", o.ErrorText)
	} else {
		span.SetStatus(codes.Ok, "ok")
		l.logger.Debug("tool call dispatched", "tool", call.Name, "tool_call_id", call.ID, "outcome", o.Kind)
	}
	return o
}

// commit applies a batch of outcomes to the history and announces it. The
// returned halt reason is empty unless an outcome waits on the caller;
// approvals take precedence over client input.
func (l *Loop) commit(ctx context.Context, r *Run, res *RunResult, outcomes []llmprovider.ToolOutcome) (HaltReason, error) {
	if len(outcomes) == 0 {
		return "", nil
	}

	messages, err := llmprovider.ApplyToolOutcomes(res.Messages, outcomes)
	res.Messages = messages
	if err != nil {
		return HaltError, fmt.Errorf("commit tool outcomes: %w", err)
	}

	var committed []llmprovider.ToolOutcome
	for _, o := range outcomes {
		if o.HasResult() {
			committed = append(committed, o)
		}
	}
	if len(committed) > 0 {
		r.emit(ctx, llmprovider.CustomEvent{
			Name:    llmprovider.CustomToolResults,
			Payload: llmprovider.ToolResultsBatch{Outcomes: committed},
		})
	}

	var halt HaltReason
	for _, o := range outcomes {
		switch o.Kind {
		case llmprovider.OutcomeAwaitingApproval:
			r.emit(ctx, llmprovider.CustomEvent{
				Name: llmprovider.CustomApprovalRequested,
				Payload: llmprovider.ApprovalRequest{
					ApprovalID: o.ApprovalID,
					ToolCallID: o.ToolCallID,
					ToolName:   o.ToolName,
					Input:      llmprovider.CloneInput(o.Input),
				},
			})
			halt = HaltAwaitingApproval

		case llmprovider.OutcomeAwaitingClientInput:
			r.emit(ctx, llmprovider.CustomEvent{
				Name: llmprovider.CustomToolInputAvailable,
				Payload: llmprovider.ToolInputAvailable{
					ToolCallID: o.ToolCallID,
					ToolName:   o.ToolName,
					Input:      llmprovider.CloneInput(o.Input),
				},
			})
			if halt == "" {
				halt = HaltAwaitingClientInput
			}
		}
	}
	return halt, nil
}

func awaitingApproval(calls []*llmprovider.ToolCallPart) bool {
	for _, call := range calls {
		if call.State == llmprovider.ToolStateApprovalRequested {
			return true
		}
	}
	return false
}

func userMessageAfter(messages []llmprovider.Message, idx int) bool {
	for _, m := range messages[idx+1:] {
		if m.Role == llmprovider.RoleUser {
			return true
		}
	}
	return false
}
