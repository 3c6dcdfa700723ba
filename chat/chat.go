// Package chat owns one conversation and serializes everything that can start
// a model turn.
//
// At most one run is active per Chat. Operations issued while a run is active
// are queued and executed in order once it settles, that is once its events
// are consumed, its result is committed, and every in-process client tool it
// started has reported back. After the queue drains, a halted run whose tool
// calls are now all settled is continued automatically, exactly once.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	llmprovider "github.com/haowjy/meridian-agent-go"
	"github.com/haowjy/meridian-agent-go/agent"
)

// Status is the conversation's externally visible state.
type Status string

const (
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Runner starts agent runs. *agent.Loop implements it.
type Runner interface {
	Run(ctx context.Context, messages []llmprovider.Message) (*agent.Run, error)
}

// ClientToolFunc handles a client tool in-process. Its return value becomes
// the tool result; an error becomes an error result.
type ClientToolFunc func(ctx context.Context, input map[string]any) (any, error)

// Option configures a Chat.
type Option func(*Chat)

// WithMessages seeds the history.
func WithMessages(messages []llmprovider.Message) Option {
	return func(c *Chat) { c.messages = llmprovider.CloneMessages(messages) }
}

// WithClientTool registers a handler that runs when the loop halts on a
// client tool call named name.
func WithClientTool(name string, fn ClientToolFunc) Option {
	return func(c *Chat) { c.clientTools[name] = fn }
}

// WithOnEvent receives every event of every current run.
func WithOnEvent(fn func(llmprovider.StreamEvent)) Option {
	return func(c *Chat) { c.onEvent = fn }
}

// WithOnFinish is called when a run settles.
func WithOnFinish(fn func(*agent.RunResult)) Option {
	return func(c *Chat) { c.onFinish = fn }
}

// WithOnError is called for run failures and for failed queued operations.
func WithOnError(fn func(error)) Option {
	return func(c *Chat) { c.onError = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chat) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// action is one queued mutation of the history.
type action struct {
	name string

	// apply returns the new history; it receives a private copy.
	apply func(messages []llmprovider.Message) ([]llmprovider.Message, error)

	// startsTurn is true for operations that always call the model.
	// Others only mutate and then check for a continuation.
	startsTurn bool
}

// Chat is the client orchestrator for one conversation. All methods are safe
// for concurrent use; callbacks are never invoked with internal locks held.
type Chat struct {
	runner      Runner
	logger      *slog.Logger
	clientTools map[string]ClientToolFunc
	onEvent     func(llmprovider.StreamEvent)
	onFinish    func(*agent.RunResult)
	onError     func(error)

	mu       sync.Mutex
	messages []llmprovider.Message
	status   Status
	err      error
	loading  bool
	cancel   context.CancelFunc

	// generation identifies the current run; events and results of older
	// runs are ignored.
	generation uint64
	// version counts history mutations.
	version uint64

	queue               []action
	pendingTools        map[string]struct{}
	continuationPending bool
	lastHalt            agent.HaltReason
	settling            int
	idle                chan struct{}
}

// New creates a Chat driven by runner.
func New(runner Runner, opts ...Option) (*Chat, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	c := &Chat{
		runner:       runner,
		logger:       slog.Default(),
		clientTools:  make(map[string]ClientToolFunc),
		status:       StatusReady,
		pendingTools: make(map[string]struct{}),
		idle:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "chat")
	close(c.idle)
	return c, nil
}

// SendMessage appends a user message and starts a run.
func (c *Chat) SendMessage(text string) error {
	return c.submit(action{
		name: "send-message",
		apply: func(messages []llmprovider.Message) ([]llmprovider.Message, error) {
			return append(messages, llmprovider.NewUserMessage(text)), nil
		},
		startsTurn: true,
	})
}

// AppendMessage appends msg and starts a run.
func (c *Chat) AppendMessage(msg llmprovider.Message) error {
	msg = msg.Clone()
	return c.submit(action{
		name: "append-message",
		apply: func(messages []llmprovider.Message) ([]llmprovider.Message, error) {
			return append(messages, msg), nil
		},
		startsTurn: true,
	})
}

// AddToolResult records the result of a client tool call.
func (c *Chat) AddToolResult(result llmprovider.ToolResult) error {
	return c.submit(action{
		name: "add-tool-result",
		apply: func(messages []llmprovider.Message) ([]llmprovider.Message, error) {
			return llmprovider.AddToolResult(messages, result)
		},
	})
}

// AddApprovalResponse answers a pending approval. Approved calls run when the
// conversation continues; denied calls are resolved without running.
func (c *Chat) AddApprovalResponse(approvalID string, approved bool) error {
	return c.submit(action{
		name: "add-approval-response",
		apply: func(messages []llmprovider.Message) ([]llmprovider.Message, error) {
			if _, err := llmprovider.RespondToApproval(messages, approvalID, approved); err != nil {
				return nil, err
			}
			return messages, nil
		},
	})
}

// Reload drops everything after the last user message and runs again.
func (c *Chat) Reload() error {
	return c.submit(action{
		name: "reload",
		apply: func(messages []llmprovider.Message) ([]llmprovider.Message, error) {
			for i := len(messages) - 1; i >= 0; i-- {
				if messages[i].Role == llmprovider.RoleUser {
					return messages[:i+1], nil
				}
			}
			return nil, errors.New("no user message to reload from")
		},
		startsTurn: true,
	})
}

// Stop cancels the active run. Loading is cleared before Stop returns and the
// queue is drained. Tool executions already started still complete, and Wait
// returns only after the stopped run has recorded its partial result.
func (c *Chat) Stop() {
	c.mu.Lock()
	if !c.loading {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.generation++
	c.loading = false
	c.status = StatusReady
	c.continuationPending = false
	c.lastHalt = ""
	c.updateIdleLocked()
	c.mu.Unlock()

	c.logger.Debug("run stopped")
	c.drain()
}

// Clear cancels any active run and resets the conversation.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.version++
	c.messages = nil
	c.queue = nil
	c.loading = false
	c.status = StatusReady
	c.err = nil
	c.lastHalt = ""
	c.continuationPending = false
	c.updateIdleLocked()
}

// Messages returns a copy of the history.
func (c *Chat) Messages() []llmprovider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return llmprovider.CloneMessages(c.messages)
}

func (c *Chat) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsLoading reports whether a run is active.
func (c *Chat) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the failure of the last run, if any.
func (c *Chat) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until no run is active, nothing is queued, and no client tool
// is executing.
func (c *Chat) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit runs a now or queues it behind the active run.
func (c *Chat) submit(a action) error {
	c.mu.Lock()
	if c.loading || len(c.queue) > 0 {
		c.queue = append(c.queue, a)
		c.updateIdleLocked()
		c.mu.Unlock()
		c.logger.Debug("action queued", "action", a.name)
		return nil
	}
	err := c.execLocked(a)
	c.mu.Unlock()

	if err != nil {
		c.reportError(err)
		return err
	}
	if !a.startsTurn {
		c.checkForContinuation()
	}
	return nil
}

func (c *Chat) execLocked(a action) error {
	messages, err := a.apply(llmprovider.CloneMessages(c.messages))
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	c.messages = messages
	c.version++
	if a.startsTurn {
		return c.startLocked()
	}
	return nil
}

func (c *Chat) startLocked() error {
	ctx, cancel := context.WithCancel(context.Background())
	run, err := c.runner.Run(ctx, c.messages)
	if err != nil {
		cancel()
		c.status = StatusError
		c.err = err
		return err
	}

	c.generation++
	c.loading = true
	c.status = StatusSubmitted
	c.err = nil
	c.cancel = cancel
	c.lastHalt = ""
	// Held until settle returns, so a stopped run keeps the chat busy until
	// its last write to the history.
	c.settling++
	c.updateIdleLocked()

	go c.consume(c.generation, c.version, run, cancel)
	return nil
}

func (c *Chat) consume(gen, version uint64, run *agent.Run, cancel context.CancelFunc) {
	var tools sync.WaitGroup

	for ev := range run.Events() {
		c.mu.Lock()
		current := c.generation == gen
		if current && c.status == StatusSubmitted {
			c.status = StatusStreaming
		}
		c.mu.Unlock()
		if !current {
			continue
		}

		if custom, ok := ev.(llmprovider.CustomEvent); ok && custom.Name == llmprovider.CustomToolInputAvailable {
			if input, ok := custom.Payload.(llmprovider.ToolInputAvailable); ok {
				c.startClientTool(&tools, input)
			}
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}

	res, err := run.Wait()
	cancel()
	c.settle(gen, version, &tools, res, err)
}

// startClientTool runs a registered handler in the background. Its result is
// queued behind the run that requested it.
func (c *Chat) startClientTool(tools *sync.WaitGroup, input llmprovider.ToolInputAvailable) {
	fn, ok := c.clientTools[input.ToolName]
	if !ok {
		return
	}

	c.mu.Lock()
	c.pendingTools[input.ToolCallID] = struct{}{}
	c.updateIdleLocked()
	c.mu.Unlock()

	tools.Add(1)
	go func() {
		defer tools.Done()

		result := llmprovider.ToolResult{ToolCallID: input.ToolCallID}
		output, err := fn(context.Background(), llmprovider.CloneInput(input.Input))
		if err != nil {
			result.ErrorText = err.Error()
		} else {
			result.Output = output
		}
		if err := c.AddToolResult(result); err != nil {
			c.logger.Warn("client tool result not recorded", "tool", input.ToolName, "tool_call_id", input.ToolCallID, "error", err)
		}

		c.mu.Lock()
		delete(c.pendingTools, input.ToolCallID)
		c.updateIdleLocked()
		c.mu.Unlock()
	}()
}

func (c *Chat) settle(gen, version uint64, tools *sync.WaitGroup, res *agent.RunResult, runErr error) {
	c.mu.Lock()
	current := c.generation == gen
	switch {
	case current:
		c.messages = res.Messages
		c.version++
		c.lastHalt = res.Halt
		c.continuationPending = false
	case c.version == version && !c.loading:
		// Stopped, and nothing has touched the history since: keep what the
		// run produced before it was cancelled.
		c.messages = res.Messages
		c.version++
	}
	c.mu.Unlock()

	tools.Wait()

	if !current {
		c.mu.Lock()
		c.settling--
		c.updateIdleLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		// Stopped or cleared while client tools were finishing.
		c.settling--
		c.updateIdleLocked()
		c.mu.Unlock()
		return
	}
	c.loading = false
	c.cancel = nil
	failed := runErr != nil && res.Halt != agent.HaltCancelled
	if failed {
		c.status = StatusError
		c.err = runErr
	} else {
		c.status = StatusReady
	}
	c.mu.Unlock()

	c.logger.Debug("run settled", "halt", res.Halt, "iterations", res.Iterations)
	if c.onFinish != nil {
		c.onFinish(res)
	}
	if failed && c.onError != nil {
		c.onError(runErr)
	}

	c.drain()

	c.mu.Lock()
	c.settling--
	c.updateIdleLocked()
	c.mu.Unlock()
}

// drain executes queued actions in order until one of them starts a run,
// then checks for a continuation.
func (c *Chat) drain() {
	for {
		c.mu.Lock()
		if c.loading || len(c.queue) == 0 {
			c.mu.Unlock()
			break
		}
		a := c.queue[0]
		c.queue = c.queue[1:]
		err := c.execLocked(a)
		c.updateIdleLocked()
		c.mu.Unlock()

		if err != nil {
			c.reportError(err)
		}
	}
	c.checkForContinuation()
}

// checkForContinuation starts a new run when the last one halted for input
// and every tool call on the last assistant message is now settled. Answered
// approvals count as settled, denials included.
func (c *Chat) checkForContinuation() {
	c.mu.Lock()
	if c.loading || c.continuationPending || len(c.queue) > 0 ||
		!c.lastHalt.AwaitsInput() || !llmprovider.ToolCallsSettled(c.messages) {
		c.mu.Unlock()
		return
	}
	c.continuationPending = true
	err := c.startLocked()
	if err != nil {
		c.continuationPending = false
	}
	c.mu.Unlock()

	if err != nil {
		c.reportError(err)
		return
	}
	c.logger.Debug("continuing after tool calls settled")
}

func (c *Chat) reportError(err error) {
	c.logger.Warn("chat operation failed", "error", err)
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Chat) updateIdleLocked() {
	idle := !c.loading && len(c.queue) == 0 && len(c.pendingTools) == 0 && c.settling == 0
	select {
	case <-c.idle:
		if !idle {
			c.idle = make(chan struct{})
		}
	default:
		if idle {
			close(c.idle)
		}
	}
}
