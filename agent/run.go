package agent

import (
	"context"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

// HaltReason says why a run stopped.
type HaltReason string

const (
	// HaltCompleted means the model answered without requesting tools.
	HaltCompleted HaltReason = "completed"
	// HaltStopPolicy means the stop policy ended the run after a tool round.
	HaltStopPolicy HaltReason = "stop-policy"
	// HaltAwaitingApproval means a tool call needs a human decision.
	HaltAwaitingApproval HaltReason = "awaiting-approval"
	// HaltAwaitingClientInput means a client tool needs its result supplied.
	HaltAwaitingClientInput HaltReason = "awaiting-client-input"
	HaltError               HaltReason = "error"
	HaltCancelled           HaltReason = "cancelled"
)

// AwaitsInput reports whether the run stopped to wait for the caller.
func (h HaltReason) AwaitsInput() bool {
	return h == HaltAwaitingApproval || h == HaltAwaitingClientInput
}

// RunResult is the final state of a run.
type RunResult struct {
	// Messages is the full history, including everything the run appended.
	Messages []llmprovider.Message

	Halt HaltReason

	// Iterations counts model turns, not the resumption prelude.
	Iterations int

	// Usage is summed over every turn.
	Usage llmprovider.Usage
}

// Run is an agent run in progress.
//
// Events delivers every canonical event in order, followed by the loop's own
// custom events. The channel is closed when the run ends. Callers that do not
// read Events must call Wait, which drains it.
type Run struct {
	events chan llmprovider.StreamEvent
	done   chan struct{}
	cancel context.CancelFunc

	result *RunResult
	err    error
}

func newRun(cancel context.CancelFunc, buffer int) *Run {
	return &Run{
		events: make(chan llmprovider.StreamEvent, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Events returns the run's event stream.
func (r *Run) Events() <-chan llmprovider.StreamEvent {
	return r.events
}

// Done is closed once the run has ended and its result is available.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel stops the run. Tool executions already started are awaited.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run ends. The result is never nil. The error is the
// context error for a cancelled run and the failure for a run that halted
// with HaltError.
func (r *Run) Wait() (*RunResult, error) {
	for range r.events {
	}
	<-r.done
	return r.result, r.err
}

// emit delivers ev unless the run has been cancelled.
func (r *Run) emit(ctx context.Context, ev llmprovider.StreamEvent) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (r *Run) finish(result *RunResult, err error) {
	r.result, r.err = result, err
	close(r.events)
	close(r.done)
	r.cancel()
}
