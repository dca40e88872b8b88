package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/llm"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

// Client implements Collaborator with a provider from an llm registry.
type Client struct {
	registry llm.Source
	provider string
	prompter *Prompter
	logger   *slog.Logger

	generateTokens int
	gradeTokens    int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider pins the provider by name instead of the registry default.
func WithProvider(name string) ClientOption {
	return func(c *Client) { c.provider = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client over registry.
func NewClient(registry llm.Source, opts ...ClientOption) *Client {
	c := &Client{
		registry:       registry,
		prompter:       NewPrompter(),
		logger:         slog.Default(),
		generateTokens: 2048,
		gradeTokens:    2048,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Collaborator = (*Client)(nil)

// GenerateTemplate asks the model for a template of req.Level.
func (c *Client) GenerateTemplate(ctx context.Context, req GenerateRequest) (template.RawTemplate, error) {
	if err := domain.ValidateLevel(req.Level); err != nil {
		return template.RawTemplate{}, err
	}

	resp, err := c.call(ctx, "generate", &llm.Request{
		System: c.prompter.GenerateSystemPrompt(req.Level),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: c.prompter.BuildGeneratePrompt(req)},
		},
		Schema:      templateSchema,
		MaxTokens:   c.generateTokens,
		Temperature: generateTemperature(req.ForceRefresh),
	})
	if err != nil {
		return template.RawTemplate{}, fmt.Errorf("generate template: %w", err)
	}

	var raw template.RawTemplate
	if err := json.Unmarshal([]byte(resp.Content), &raw); err != nil {
		return template.RawTemplate{}, fmt.Errorf("decode template: %w", err)
	}
	return raw, nil
}

// GradeAnswers asks the model to grade req.Answers.
func (c *Client) GradeAnswers(ctx context.Context, req GradeRequest) (domain.Evaluation, error) {
	if err := domain.ValidateLevel(req.Level); err != nil {
		return domain.Evaluation{}, err
	}
	if req.Template == nil {
		return domain.Evaluation{}, domain.ErrTemplateUnavailable
	}

	resp, err := c.call(ctx, "grade", &llm.Request{
		System: c.prompter.GradeSystemPrompt(req.Level),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: c.prompter.BuildGradePrompt(req)},
		},
		Schema:    schemaForGrading(req.Level),
		MaxTokens: c.gradeTokens,
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("grade answers: %w", err)
	}

	var eval domain.Evaluation
	if err := json.Unmarshal([]byte(resp.Content), &eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}
	return eval, nil
}

func (c *Client) call(ctx context.Context, op string, req *llm.Request) (*llm.Response, error) {
	provider, err := c.resolve()
	if err != nil {
		return nil, err
	}
	resp, err := provider.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("assistant call",
		"op", op,
		"provider", provider.Name(),
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (c *Client) resolve() (llm.Provider, error) {
	if c.provider != "" && c.provider != "auto" {
		p, err := c.registry.Get(c.provider)
		if err != nil {
			return nil, fmt.Errorf("get LLM provider: %w", err)
		}
		return p, nil
	}
	p, err := c.registry.Default()
	if err != nil {
		return nil, fmt.Errorf("get LLM provider: %w", err)
	}
	return p, nil
}

// A forced refresh asks for a different template, so it samples warmer.
func generateTemperature(forceRefresh bool) float64 {
	if forceRefresh {
		return 0.8
	}
	return 0.3
}
