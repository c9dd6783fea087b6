package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"github.com/veridoc/veridoc-api/internal/config"
)

// Completion is one raw result from the external completion service.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// CompletionClient issues a single completion call for a model identifier.
type CompletionClient interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (Completion, error)
}

// Registry routes model identifiers to the configured providers. Providers
// without credentials are simply absent; asking for their models fails at
// dispatch time and is classified like any other run error.
type Registry struct {
	openai    llms.Model
	anthropic llms.Model
	ollama    llms.Model
	logger    zerolog.Logger
}

func NewRegistry(cfg config.CompletionConfig, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{logger: logger.With().Str("component", "completion").Logger()}

	if cfg.OpenAIAPIKey != "" {
		opts := []openai.Option{openai.WithToken(cfg.OpenAIAPIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, errors.Wrap(err, "create openai client")
		}
		r.openai = model
	}

	if cfg.AnthropicAPIKey != "" {
		model, err := anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey))
		if err != nil {
			return nil, errors.Wrap(err, "create anthropic client")
		}
		r.anthropic = model
	}

	if cfg.OllamaHost != "" {
		model, err := ollama.New(ollama.WithServerURL(cfg.OllamaHost))
		if err != nil {
			return nil, errors.Wrap(err, "create ollama client")
		}
		r.ollama = model
	}

	return r, nil
}

func (r *Registry) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (Completion, error) {
	provider, client, err := r.route(model)
	if err != nil {
		return Completion{}, err
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := client.GenerateContent(ctx, messages, llms.WithModel(model))
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("provider returned no choices")
	}

	choice := resp.Choices[0]
	inputTokens, outputTokens := tokenUsage(choice.GenerationInfo)
	if inputTokens == 0 {
		inputTokens = estimateTokens(systemPrompt + userPrompt)
	}
	if outputTokens == 0 {
		outputTokens = estimateTokens(choice.Content)
	}

	r.logger.Debug().
		Str("provider", provider).
		Str("model", model).
		Int("input_tokens", inputTokens).
		Int("output_tokens", outputTokens).
		Msg("completion call finished")

	return Completion{
		Text:         choice.Content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

func (r *Registry) route(model string) (string, llms.Model, error) {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		if r.openai == nil {
			return "", nil, errors.Errorf("no provider configured for model %q", model)
		}
		return "openai", r.openai, nil
	case strings.HasPrefix(model, "claude"):
		if r.anthropic == nil {
			return "", nil, errors.Errorf("no provider configured for model %q", model)
		}
		return "anthropic", r.anthropic, nil
	default:
		if r.ollama == nil {
			return "", nil, errors.Errorf("no provider configured for model %q", model)
		}
		return "ollama", r.ollama, nil
	}
}

// tokenUsage reads counts out of GenerationInfo; providers spell the keys
// differently.
func tokenUsage(info map[string]any) (int, int) {
	input := intFrom(info, "PromptTokens", "InputTokens", "prompt_tokens", "input_tokens")
	output := intFrom(info, "CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens")
	return input, output
}

func intFrom(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// estimateTokens is the usual chars/4 fallback for providers that report
// no usage, so cost math never runs on zeros.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
