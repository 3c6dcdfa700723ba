package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	llmprovider "github.com/haowjy/meridian-agent-go"
)

const (
	defaultMaxTokens      = 4096
	defaultThinkingBudget = 2000

	// minThinkingBudget is the smallest budget the API accepts.
	minThinkingBudget = 1024
)

// buildMessageParams constructs Anthropic API parameters from a GenerateRequest.
func buildMessageParams(req *llmprovider.GenerateRequest) (anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := req.Params
	if params == nil {
		params = &llmprovider.RequestParams{}
	}

	maxTokens := params.GetMaxTokens(defaultMaxTokens)

	apiParams := anthropic.MessageNewParams{
		Model:    anthropic.Model(req.Model),
		Messages: messages,
	}

	if params.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*params.Temperature)
	}
	if params.TopP != nil {
		apiParams.TopP = anthropic.Float(*params.TopP)
	}
	if params.TopK != nil {
		apiParams.TopK = anthropic.Int(int64(*params.TopK))
	}
	if len(params.Stop) > 0 {
		apiParams.StopSequences = params.Stop
	}

	// The request-level system prompt comes before system messages.
	if params.System != nil && *params.System != "" {
		system = append([]anthropic.TextBlockParam{{Text: *params.System}}, system...)
	}
	if len(system) > 0 {
		apiParams.System = system
	}

	// max_tokens must leave room for the thinking budget.
	if params.IsThinkingEnabled() {
		budget := params.GetThinkingBudgetTokens()
		if budget == 0 {
			budget = defaultThinkingBudget
		}
		budget = max(budget, minThinkingBudget)
		if maxTokens <= budget {
			maxTokens = budget + defaultMaxTokens
		}
		apiParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}
	apiParams.MaxTokens = int64(maxTokens)

	if len(params.Tools) > 0 {
		tools, err := convertTools(params.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		apiParams.Tools = tools
	}

	choice, err := convertToolChoice(params.ToolChoice)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if choice != nil {
		apiParams.ToolChoice = *choice
	}

	return apiParams, nil
}
