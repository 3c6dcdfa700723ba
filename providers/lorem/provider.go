// Package lorem is an offline provider that streams lorem ipsum.
//
// It needs no API key and is useful for exercising agents end to end: it
// streams optional reasoning, then text, and on the first turn of a tool round
// it calls one of the request's tools with arguments synthesized from the
// tool's input schema. Once tool results come back it answers with text only,
// so agent loops terminate.
package lorem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	loremgen "github.com/bozaro/golorem"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

const (
	defaultMaxTokens = 4096
	textWords        = 20
	thinkingWords    = 20
	mockSignature    = "4k_a"
)

// Provider is a mock LLM provider that generates lorem ipsum text.
type Provider struct {
	generator      *loremgen.Lorem
	logger         *slog.Logger
	wordsPerSecond rate.Limit
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWordsPerSecond overrides the per-model streaming speed. rate.Inf
// streams without delay.
func WithWordsPerSecond(limit rate.Limit) Option {
	return func(p *Provider) { p.wordsPerSecond = limit }
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		generator: loremgen.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "lorem")
	return p
}

var (
	_ llmprovider.Provider                 = (*Provider)(nil)
	_ llmprovider.StructuredOutputProvider = (*Provider)(nil)
)

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderLorem
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow", "lorem-cutoff"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

func (p *Provider) checkModel(model string) error {
	if p.SupportsModel(model) {
		return nil
	}
	return &llmprovider.ModelError{
		Model:    model,
		Provider: p.Name().String(),
		Reason:   "model not supported by Lorem provider (must start with 'lorem-')",
		Err:      llmprovider.ErrInvalidModel,
	}
}

// wordRate returns the streaming speed for a model.
//   - lorem-slow: 2 words/second
//   - lorem-fast: 30 words/second
//   - lorem-medium and others: 10 words/second
func (p *Provider) wordRate(model string) rate.Limit {
	if p.wordsPerSecond != 0 {
		return p.wordsPerSecond
	}
	switch {
	case strings.Contains(model, "slow"):
		return 2
	case strings.Contains(model, "fast"):
		return 30
	default:
		return 10
	}
}

// isCutoffModel returns true if the model should simulate a max_tokens cutoff.
func isCutoffModel(model string) bool {
	return strings.Contains(model, "cutoff") || strings.Contains(model, "small")
}

// stream is one turn in progress.
type stream struct {
	ctx     context.Context
	out     chan<- llmprovider.StreamEvent
	limiter *rate.Limiter
	words   int
}

// send delivers ev, paced by the limiter when paced is set.
func (s *stream) send(ev llmprovider.StreamEvent, paced bool) error {
	if paced {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return err
		}
	}
	select {
	case s.out <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// StreamResponse streams one turn: [thinking] → text → [tool call].
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	if err := p.checkModel(req.Model); err != nil {
		return nil, err
	}
	params := req.Params
	if params == nil {
		params = &llmprovider.RequestParams{}
	}
	if err := llmprovider.ValidateRequestParams(params); err != nil {
		return nil, err
	}

	maxTokens := params.GetMaxTokens(defaultMaxTokens)
	thinking := params.IsThinkingEnabled()
	tool, callTool := pickTool(req.Messages, params.Tools)

	limit := p.wordRate(req.Model)
	ch := make(chan llmprovider.StreamEvent, 10)
	s := &stream{ctx: ctx, out: ch, limiter: rate.NewLimiter(limit, 1)}

	p.logger.Debug("stream started",
		"model", req.Model, "thinking", thinking, "tools", len(params.Tools), "max_tokens", maxTokens)

	go func() {
		defer close(ch)

		finish, err := p.streamTurn(s, req, maxTokens, thinking, tool, callTool)
		if err != nil {
			if ctx.Err() == nil {
				_ = s.send(llmprovider.NewErrorEvent(err), false)
			}
			return
		}
		_ = s.send(llmprovider.RunFinishedEvent{
			FinishReason: finish,
			Usage: &llmprovider.Usage{
				InputTokens:  estimateTokens(req.Messages),
				OutputTokens: s.words,
			},
		}, false)
		p.logger.Debug("stream finished", "finish_reason", finish, "output_tokens", s.words)
	}()

	return ch, nil
}

func (p *Provider) streamTurn(s *stream, req *llmprovider.GenerateRequest, maxTokens int, thinking bool, tool llmprovider.Tool, callTool bool) (llmprovider.FinishReason, error) {
	runID := "lorem_" + uuid.NewString()
	if err := s.send(llmprovider.RunStartedEvent{RunID: runID, Model: req.Model}, false); err != nil {
		return "", err
	}

	if thinking {
		if err := p.streamThinking(s, runID+"_thinking", min(thinkingWords, maxTokens)); err != nil {
			return "", err
		}
	}

	cutoff, err := p.streamText(s, runID+"_text", maxTokens-s.words, isCutoffModel(req.Model))
	if err != nil {
		return "", err
	}
	if cutoff {
		return llmprovider.FinishReasonLength, nil
	}

	if callTool {
		if err := p.streamToolCall(s, tool); err != nil {
			return "", err
		}
		return llmprovider.FinishReasonToolCalls, nil
	}
	return llmprovider.FinishReasonStop, nil
}

// streamThinking streams a reasoning part; the signature is sent on the end
// event, as Anthropic does.
func (p *Provider) streamThinking(s *stream, id string, words int) error {
	if err := s.send(llmprovider.ThinkingStartEvent{MessageID: id}, false); err != nil {
		return err
	}
	for _, word := range strings.Fields(p.generateTextWords(words))[:words] {
		if err := s.send(llmprovider.ThinkingDeltaEvent{MessageID: id, Delta: word + " "}, true); err != nil {
			return err
		}
		s.words++
	}
	return s.send(llmprovider.ThinkingEndEvent{MessageID: id, Signature: mockSignature}, false)
}

// streamText streams up to budget words and reports whether the budget cut
// the text short. Cutoff models always overrun their budget.
func (p *Provider) streamText(s *stream, id string, budget int, cutoffModel bool) (bool, error) {
	if budget <= 0 {
		return true, nil
	}
	want := textWords
	if cutoffModel {
		want = budget + budget/2 + 1
	}
	words := strings.Fields(p.generateTextWords(want))[:want]
	cutoff := len(words) > budget
	if cutoff {
		words = words[:budget]
	}

	if err := s.send(llmprovider.TextStartEvent{MessageID: id}, false); err != nil {
		return false, err
	}
	var acc strings.Builder
	for _, word := range words {
		delta := word + " "
		acc.WriteString(delta)
		if err := s.send(llmprovider.TextDeltaEvent{MessageID: id, Delta: delta, Accumulated: acc.String()}, true); err != nil {
			return false, err
		}
		s.words++
	}
	return cutoff, s.send(llmprovider.TextEndEvent{MessageID: id}, false)
}

// streamToolCall streams a call to tool with arguments synthesized from its
// schema, a few characters at a time.
func (p *Provider) streamToolCall(s *stream, tool llmprovider.Tool) error {
	id := "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	name := tool.Function.Name

	raw, err := json.Marshal(p.sample(tool.Function.Parameters))
	if err != nil {
		return fmt.Errorf("failed to marshal tool input: %w", err)
	}
	args := string(raw)

	if err := s.send(llmprovider.ToolCallStartEvent{ToolCallID: id, ToolName: name}, false); err != nil {
		return err
	}
	const chunk = 8
	for i := 0; i < len(args); i += chunk {
		end := min(i+chunk, len(args))
		if err := s.send(llmprovider.ToolCallArgsDeltaEvent{
			ToolCallID:      id,
			Delta:           args[i:end],
			AccumulatedArgs: args[:end],
		}, false); err != nil {
			return err
		}
	}
	s.words += len(args) / 4
	return s.send(llmprovider.ToolCallEndEvent{ToolCallID: id, ToolName: name}, false)
}

// pickTool chooses the tool to call, if any. Tools are called only when the
// conversation does not end in tool results, rotating by the number of calls
// made so far.
func pickTool(messages []llmprovider.Message, tools []llmprovider.Tool) (llmprovider.Tool, bool) {
	if len(tools) == 0 || len(messages) == 0 {
		return llmprovider.Tool{}, false
	}
	if last := messages[len(messages)-1]; len(last.ToolResults()) > 0 {
		return llmprovider.Tool{}, false
	}
	calls := 0
	for i := range messages {
		calls += len(messages[i].ToolCalls())
	}
	return tools[calls%len(tools)], true
}

// GenerateStructured returns a value synthesized from the schema, checked
// against it before returning.
func (p *Provider) GenerateStructured(ctx context.Context, req *llmprovider.StructuredOutputRequest) (*llmprovider.StructuredOutputResponse, error) {
	if err := p.checkModel(req.Model); err != nil {
		return nil, err
	}
	if req.Schema == nil {
		return nil, &llmprovider.ValidationError{Field: "schema", Reason: "schema is required", Err: llmprovider.ErrInvalidRequest}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value := p.sample(req.Schema)
	if obj, ok := value.(map[string]any); ok {
		check := &llmprovider.ToolDefinition{Name: schemaName(req), InputSchema: req.Schema}
		if err := check.ValidateInput(obj); err != nil {
			return nil, fmt.Errorf("synthesized output does not match schema: %w", err)
		}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal structured output: %w", err)
	}
	return &llmprovider.StructuredOutputResponse{
		Data:  data,
		Model: req.Model,
		Usage: llmprovider.Usage{
			InputTokens:  estimateTokens(req.Messages),
			OutputTokens: len(data) / 4,
		},
		ResponseMetadata: map[string]any{
			"mock":     true,
			"provider": "lorem",
		},
	}, nil
}

func schemaName(req *llmprovider.StructuredOutputRequest) string {
	if req.SchemaName != "" {
		return req.SchemaName
	}
	return "structured_output"
}

// sample builds a value satisfying the common subset of JSON Schema: types,
// properties, items, enum, const and numeric minimums.
func (p *Provider) sample(schema map[string]any) any {
	if schema == nil {
		return map[string]any{}
	}
	if v, ok := schema["const"]; ok {
		return v
	}
	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}

	typ, _ := schema["type"].(string)
	if typ == "" {
		if types, ok := schema["type"].([]any); ok && len(types) > 0 {
			typ, _ = types[0].(string)
		}
	}
	if typ == "" && schema["properties"] != nil {
		typ = "object"
	}

	switch typ {
	case "object", "":
		out := map[string]any{}
		props, _ := schema["properties"].(map[string]any)
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out[name] = p.sample(sub)
			}
		}
		return out
	case "array":
		items, _ := schema["items"].(map[string]any)
		n := 1
		if minItems, ok := number(schema["minItems"]); ok && int(minItems) > n {
			n = int(minItems)
		}
		out := make([]any, n)
		for i := range out {
			out[i] = p.sample(items)
		}
		return out
	case "string":
		return p.generator.Word(4, 10)
	case "integer":
		if minimum, ok := number(schema["minimum"]); ok {
			return int(minimum)
		}
		return 1
	case "number":
		if minimum, ok := number(schema["minimum"]); ok {
			return minimum
		}
		return 1.5
	case "boolean":
		return true
	case "null":
		return nil
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// generateTextWords generates lorem ipsum text with at least targetWords words.
func (p *Provider) generateTextWords(targetWords int) string {
	var sb strings.Builder
	wordCount := 0
	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += countWords(sentence)
	}
	return strings.TrimSpace(sb.String())
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// estimateTokens estimates the token count for a list of messages.
// Uses word count as a rough approximation.
func estimateTokens(messages []llmprovider.Message) int {
	total := 0
	for i := range messages {
		total += countWords(messages[i].Text())
		for _, r := range messages[i].ToolResults() {
			total += countWords(r.Content)
		}
	}
	return total
}
