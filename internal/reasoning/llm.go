package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLMEngine drives any langchaingo model with the ReAct-style prompt.
type LLMEngine struct {
	model llms.Model
}

// NewLLMEngine wraps model. The engine keeps no history of its own.
func NewLLMEngine(model llms.Model) *LLMEngine {
	return &LLMEngine{model: model}
}

// Next implements Engine.
func (e *LLMEngine) Next(ctx context.Context, req Request) (NextStep, error) {
	if e.model == nil {
		return NextStep{}, errors.New("reasoning: no model configured")
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt(req)),
		llms.TextParts(llms.ChatMessageTypeHuman, UserPrompt(req)),
	}
	resp, err := e.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0),
		llms.WithStopWords([]string{"\nObservation:"}),
	)
	if err != nil {
		return NextStep{}, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return NextStep{}, &ParseError{Reason: "model returned no choices"}
	}
	return ParseResponse(resp.Choices[0].Content, req.Summarize)
}

// OpenAIFactory returns a Factory that builds a fresh OpenAI client for each
// set of credentials. An empty baseURL uses the provider default.
func OpenAIFactory(model, baseURL string) Factory {
	return func(creds Credentials) (Engine, error) {
		if creds.Empty() {
			return nil, ErrMissingCredentials
		}
		opts := []openai.Option{
			openai.WithToken(strings.TrimSpace(creds.APIKey)),
			openai.WithModel(model),
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		return NewLLMEngine(llm), nil
	}
}

// StaticFactory serves the same engine regardless of credentials, provided
// some are present. Useful when the model is configured out of band.
func StaticFactory(engine Engine) Factory {
	return func(creds Credentials) (Engine, error) {
		if creds.Empty() {
			return nil, ErrMissingCredentials
		}
		return engine, nil
	}
}
