package llmprovider

// Reconcile normalizes a history before it is sent to a provider.
//
// Rules, in order:
//  1. assistant messages with no text and no tool calls are dropped, as is
//     any other message without content
//  2. runs of messages presenting the same role are merged: consecutive
//     messages of one role, and a tool message followed by a user message
//     (the result is a user message); tool results come first in a merged
//     message, other parts keep their order after them
//  3. tool results for the same call are de-duplicated, first one wins
//
// The result never has two consecutive messages with the same role and never
// contains an empty message. Reconcile is pure and idempotent; the input is
// not modified.
func Reconcile(messages []Message) []Message {
	out := make([]Message, 0, len(messages))

	for _, m := range messages {
		if dropOnReconcile(&m) {
			continue
		}
		m = m.Clone()

		if n := len(out); n > 0 {
			if role, ok := mergedRole(out[n-1].Role, m.Role); ok {
				out[n-1] = mergeMessages(out[n-1], m, role)
				out = cascadeMerge(out)
				continue
			}
		}
		out = append(out, normalizeParts(m))
	}

	return out
}

// cascadeMerge folds the last message into its predecessor for as long as a
// merge changed the last message's role into one that merges again
// (user, tool, user).
func cascadeMerge(out []Message) []Message {
	for n := len(out); n >= 2; n = len(out) {
		role, ok := mergedRole(out[n-2].Role, out[n-1].Role)
		if !ok {
			break
		}
		out[n-2] = mergeMessages(out[n-2], out[n-1], role)
		out = out[:n-1]
	}
	return out
}

func dropOnReconcile(m *Message) bool {
	if m.Role == RoleAssistant && !m.HasText() && len(m.ToolCalls()) == 0 {
		return true
	}
	return m.IsEmpty()
}

// mergedRole reports whether a message of role next directly after one of
// role prev should be folded into it, and the role of the merged message.
func mergedRole(prev, next Role) (Role, bool) {
	if prev == next {
		return prev, true
	}
	if prev == RoleTool && next == RoleUser {
		return RoleUser, true
	}
	return "", false
}

func mergeMessages(a, b Message, role Role) Message {
	merged := a
	merged.Role = role
	merged.Parts = make([]Part, 0, len(a.Parts)+len(b.Parts))
	merged.Parts = append(merged.Parts, a.Parts...)
	merged.Parts = append(merged.Parts, b.Parts...)
	return normalizeParts(merged)
}

// normalizeParts moves tool results to the front (stable) and drops repeated
// results for the same call.
func normalizeParts(m Message) Message {
	results := make([]Part, 0, len(m.Parts))
	rest := make([]Part, 0, len(m.Parts))
	seen := make(map[string]bool)

	for _, p := range m.Parts {
		tr, ok := p.(*ToolResultPart)
		if !ok {
			rest = append(rest, p)
			continue
		}
		if seen[tr.ToolCallID] {
			continue
		}
		seen[tr.ToolCallID] = true
		results = append(results, tr)
	}

	m.Parts = append(results, rest...)
	return m
}

// FillMissingToolResults gives every tool call a result in the message that
// follows its assistant message, which vendor APIs require. Denied calls get
// an error result saying so; calls without any outcome get a generic one.
// Expects a reconciled history; the input is not modified.
func FillMissingToolResults(messages []Message) []Message {
	out := make([]Message, 0, len(messages))

	for i := 0; i < len(messages); i++ {
		m := messages[i]
		out = append(out, m)

		calls := m.ToolCalls()
		if m.Role != RoleAssistant || len(calls) == 0 {
			continue
		}

		var next *Message
		if i+1 < len(messages) && messages[i+1].Role != RoleAssistant {
			c := messages[i+1].Clone()
			next = &c
		}

		answered := make(map[string]bool)
		if next != nil {
			for _, r := range next.ToolResults() {
				answered[r.ToolCallID] = true
			}
		}

		var missing []Part
		for _, call := range calls {
			if answered[call.ID] {
				continue
			}
			reason := "tool call has no result"
			if call.Approval.IsDenied() {
				reason = "tool call was denied by the user"
			}
			missing = append(missing, &ToolResultPart{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    ToolErrorContent(reason),
				IsError:    true,
			})
		}

		switch {
		case len(missing) == 0:
		case next == nil:
			out = append(out, NewMessage(RoleTool, missing...))
		default:
			next.Parts = append(missing, next.Parts...)
			out = append(out, normalizeParts(*next))
			i++
		}
	}

	return out
}
