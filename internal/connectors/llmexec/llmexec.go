// Package llmexec performs and evaluates tasks with a language model.
package llmexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/models"
)

// Config selects the model endpoint.
type Config struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DefaultConfig returns the default model configuration.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		APIKeyEnv:   "OPENAI_API_KEY",
		Temperature: 0.2,
		MaxTokens:   1024,
	}
}

// LLMExec implements connectors.Executor with two model calls: one that
// performs the task and one that grades the result.
type LLMExec struct {
	model llms.Model
	cfg   Config
}

// New creates an executor backed by an OpenAI-compatible endpoint.
func New(cfg Config) (*LLMExec, error) {
	token := os.Getenv(cfg.APIKeyEnv)
	if token == "" {
		return nil, fmt.Errorf("%s environment variable is required for llmexec", cfg.APIKeyEnv)
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return NewWithModel(client, cfg), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, cfg Config) *LLMExec {
	return &LLMExec{model: model, cfg: cfg}
}

// Name returns the executor identifier.
func (e *LLMExec) Name() string {
	return "llmexec"
}

// Execute performs the task, then asks the model to grade the result.
func (e *LLMExec) Execute(ctx context.Context, req connectors.Request) (*connectors.Outcome, error) {
	const op = "llmexec.execute"

	result, err := e.generate(ctx, performPrompt(req))
	if err != nil {
		return nil, models.Transient(op, fmt.Errorf("perform: %w", err))
	}

	graded, err := e.generate(ctx, evaluatePrompt(req, result))
	if err != nil {
		return nil, models.Transient(op, fmt.Errorf("evaluate: %w", err))
	}

	out, err := parseEvaluation(graded)
	if err != nil {
		return nil, models.Permanent(op, err)
	}
	out.Result = result
	out.Normalize()
	return out, nil
}

func (e *LLMExec) generate(ctx context.Context, prompt string) (string, error) {
	opts := []llms.CallOption{
		llms.WithTemperature(e.cfg.Temperature),
	}
	if e.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(e.cfg.MaxTokens))
	}
	if e.cfg.Model != "" {
		opts = append(opts, llms.WithModel(e.cfg.Model))
	}

	response, err := e.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}, opts...)
	if err != nil {
		return "", err
	}
	if response == nil || len(response.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return response.Choices[0].Content, nil
}

func performPrompt(req connectors.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a team of agents completing a task.\n\nTask: %s\n", req.Task.Title)
	if req.Task.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", req.Task.Description)
	}
	fmt.Fprintf(&b, "Required capabilities: %s\n", strings.Join(req.Task.RequiredCapabilities, ", "))
	b.WriteString("Team:\n")
	for _, m := range req.Members {
		fmt.Fprintf(&b, "- %s (%s)\n", m.AgentID, m.Role)
	}
	b.WriteString("\nProduce the deliverable.")
	return b.String()
}

func evaluatePrompt(req connectors.Request, result string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Grade the following work for the task %q.\n", req.Task.Title)
	fmt.Fprintf(&b, "Score each capability in [%s] and the overall quality from 0 to 100.\n", strings.Join(req.Task.RequiredCapabilities, ", "))
	b.WriteString(`Respond with JSON only: {"overall_score": <int>, "tag_scores": {"<capability>": <int>}}`)
	fmt.Fprintf(&b, "\n\nWork:\n%s\n", result)
	return b.String()
}

// parseEvaluation extracts the first JSON object from the model's reply.
func parseEvaluation(text string) (*connectors.Outcome, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no evaluation JSON in response")
	}
	var out connectors.Outcome
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode evaluation: %w", err)
	}
	return &out, nil
}
