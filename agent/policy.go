package agent

import (
	llmprovider "github.com/haowjy/meridian-agent-go"
)

// DefaultMaxIterations bounds a run when no stop policy is configured.
const DefaultMaxIterations = 5

// IterationState describes the run after a completed turn whose tool calls
// were all dispatched.
type IterationState struct {
	// Iteration is the 1-based number of the turn that just finished.
	Iteration int

	// Usage is cumulative over the run.
	Usage llmprovider.Usage

	FinishReason llmprovider.FinishReason

	// ToolCalls is the number of tool calls the turn produced.
	ToolCalls int
}

// StopPolicy decides whether the loop ends after a turn instead of starting
// another one.
type StopPolicy interface {
	ShouldStop(state IterationState) bool
}

// StopPolicyFunc adapts a function to StopPolicy.
type StopPolicyFunc func(state IterationState) bool

func (f StopPolicyFunc) ShouldStop(state IterationState) bool {
	return f(state)
}

// MaxIterations stops once n turns have run. n <= 0 uses
// DefaultMaxIterations.
func MaxIterations(n int) StopPolicy {
	if n <= 0 {
		n = DefaultMaxIterations
	}
	return StopPolicyFunc(func(state IterationState) bool {
		return state.Iteration >= n
	})
}

// TokenBudget stops once the run has consumed at least n input plus output
// tokens.
func TokenBudget(n int) StopPolicy {
	return StopPolicyFunc(func(state IterationState) bool {
		return state.Usage.TotalTokens() >= n
	})
}

// AnyOf stops when any policy says so.
func AnyOf(policies ...StopPolicy) StopPolicy {
	return StopPolicyFunc(func(state IterationState) bool {
		for _, p := range policies {
			if p != nil && p.ShouldStop(state) {
				return true
			}
		}
		return false
	})
}

// AllOf stops only when every policy says so. An empty AllOf never stops.
func AllOf(policies ...StopPolicy) StopPolicy {
	return StopPolicyFunc(func(state IterationState) bool {
		if len(policies) == 0 {
			return false
		}
		for _, p := range policies {
			if p != nil && !p.ShouldStop(state) {
				return false
			}
		}
		return true
	})
}
