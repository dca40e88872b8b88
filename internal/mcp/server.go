package mcp

import (
	"context"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/draft"
	"github.com/felixgeelhaar/filldrill/internal/drill"
	"github.com/felixgeelhaar/filldrill/internal/identity"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

// Server wraps the MCP server with fill-drill functionality
type Server struct {
	mcpServer *server.Server
	drill     *drill.Service
	resolver  *identity.Resolver
}

// Config contains configuration for the MCP server
type Config struct {
	Drill    *drill.Service
	Resolver *identity.Resolver
	Version  string
}

// NewServer creates a new MCP server
func NewServer(cfg Config) *Server {
	s := &Server{
		drill:    cfg.Drill,
		resolver: cfg.Resolver,
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "filldrill",
		Version: version,
	}, server.WithInstructions(`
Fill-drill turns model answers into fill-in-the-blank exercises and grades them.

Available tools:
- filldrill_generate: Get (or regenerate) the exercise for a question at a level
- filldrill_grade: Submit answers for grading
- filldrill_draft: Save, read or clear in-progress answers
- filldrill_progress: Show cleared levels and last scores of a collection

Levels:
- 1: single words and short phrases
- 2: clauses and short sentences
- 3: paragraph-length answers, graded holistically
A level is cleared at 80% or more.
`))

	s.registerTools()
	return s
}

// registerTools registers all fill-drill MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("filldrill_generate").
		Description("Get the fill-in-the-blank exercise for a question. Set force_refresh to replace the stored one.").
		Handler(s.handleGenerate)

	s.mcpServer.Tool("filldrill_grade").
		Description("Grade answers for a question's exercise. Omit answers to submit the saved draft.").
		Handler(s.handleGrade)

	s.mcpServer.Tool("filldrill_draft").
		Description("Save one blank's text, read the draft, or clear it.").
		Handler(s.handleDraft)

	s.mcpServer.Tool("filldrill_progress").
		Description("Show progress for every question of a collection.").
		Handler(s.handleProgress)
}

// Input/Output types for tools

// questionRef addresses one (question, level).
type questionRef struct {
	CollectionID string
	QuestionID   string
	Level        int
}

type GenerateInput struct {
	CollectionID string `json:"collection_id" jsonschema:"description=Collection containing the question"`
	QuestionID   string `json:"question_id" jsonschema:"description=Question ID within the collection"`
	Level        int    `json:"level,omitempty" jsonschema:"description=Level 1-3 (default 1)"`
	ForceRefresh bool   `json:"force_refresh,omitempty" jsonschema:"description=Discard the stored exercise and attempt and generate a new one"`
}

type BlankOutput struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	Expected string `json:"expected,omitempty"`
}

type GenerateOutput struct {
	CollectionID string        `json:"collection_id"`
	QuestionID   string        `json:"question_id"`
	Level        int           `json:"level"`
	Cached       bool          `json:"cached"`
	Exercise     string        `json:"exercise"`
	Focus        string        `json:"focus,omitempty"`
	Blanks       []BlankOutput `json:"blanks"`
}

type GradeInput struct {
	CollectionID string            `json:"collection_id" jsonschema:"description=Collection containing the question"`
	QuestionID   string            `json:"question_id" jsonschema:"description=Question ID within the collection"`
	Level        int               `json:"level,omitempty" jsonschema:"description=Level 1-3 (default 1)"`
	Answers      map[string]string `json:"answers,omitempty" jsonschema:"description=Blank ID -> answer text"`
}

type GradeOutput struct {
	Percentage int           `json:"percentage"`
	Passed     bool          `json:"passed"`
	Verdict    string        `json:"verdict"`
	FirstClear bool          `json:"first_clear"`
	Summary    string        `json:"summary,omitempty"`
	Blanks     []BlankOutput `json:"blanks"`
}

type DraftInput struct {
	CollectionID string `json:"collection_id" jsonschema:"description=Collection containing the question"`
	QuestionID   string `json:"question_id" jsonschema:"description=Question ID within the collection"`
	Level        int    `json:"level,omitempty" jsonschema:"description=Level 1-3 (default 1)"`
	BlankID      string `json:"blank_id,omitempty" jsonschema:"description=Blank to write; omit to read the draft"`
	Text         string `json:"text,omitempty" jsonschema:"description=Text for blank_id"`
	Clear        bool   `json:"clear,omitempty" jsonschema:"description=Delete the draft"`
}

type DraftOutput struct {
	Level int               `json:"level"`
	Draft map[string]string `json:"draft"`
}

type ProgressInput struct {
	CollectionID string `json:"collection_id" jsonschema:"description=Collection to summarize"`
}

type ProgressOutput struct {
	CollectionID string                  `json:"collection_id"`
	Questions    []drill.QuestionSummary `json:"questions"`
}

// Tool handlers

func (s *Server) handleGenerate(ctx context.Context, input GenerateInput) (GenerateOutput, error) {
	sub, level, err := s.subject(ctx, questionRef{input.CollectionID, input.QuestionID, input.Level})
	if err != nil {
		return GenerateOutput{}, err
	}
	res, err := s.drill.Generate(ctx, sub, level, input.ForceRefresh)
	if err != nil {
		return GenerateOutput{}, fmt.Errorf("generate exercise: %w", err)
	}

	blanks := make([]BlankOutput, 0, len(res.Template.Blanks))
	for _, b := range res.Template.Blanks {
		blanks = append(blanks, BlankOutput{ID: b.ID, Prompt: b.Prompt})
	}
	return GenerateOutput{
		CollectionID: sub.Key.CollectionID,
		QuestionID:   sub.Key.QuestionID,
		Level:        int(level),
		Cached:       res.Cached,
		Exercise:     template.Render(res.Template),
		Focus:        res.Template.Focus,
		Blanks:       blanks,
	}, nil
}

func (s *Server) handleGrade(ctx context.Context, input GradeInput) (GradeOutput, error) {
	sub, level, err := s.subject(ctx, questionRef{input.CollectionID, input.QuestionID, input.Level})
	if err != nil {
		return GradeOutput{}, err
	}
	res, err := s.drill.Grade(ctx, sub, level, drill.GradeInput{Answers: input.Answers})
	if err != nil {
		return GradeOutput{}, fmt.Errorf("grade answers: %w", err)
	}

	feedback := make(map[string]domain.BlankEvaluation, len(res.Attempt.Evaluation.Blanks))
	for _, b := range res.Attempt.Evaluation.Blanks {
		feedback[b.ID] = b
	}
	blanks := make([]BlankOutput, 0, len(res.Score.PerBlank))
	for _, b := range res.Score.PerBlank {
		fb := feedback[b.ID]
		blanks = append(blanks, BlankOutput{
			ID:       b.ID,
			Verdict:  string(b.Verdict),
			Feedback: fb.Feedback,
			Expected: fb.Expected,
		})
	}
	return GradeOutput{
		Percentage: res.Score.Percentage,
		Passed:     res.Score.Passed,
		Verdict:    string(res.Score.Verdict),
		FirstClear: res.FirstClear,
		Summary:    res.Attempt.Evaluation.Summary,
		Blanks:     blanks,
	}, nil
}

func (s *Server) handleDraft(ctx context.Context, input DraftInput) (DraftOutput, error) {
	sub, level, err := s.subject(ctx, questionRef{input.CollectionID, input.QuestionID, input.Level})
	if err != nil {
		return DraftOutput{}, err
	}
	slot := domain.SlotKey{RecordKey: sub.Key, Level: level}

	var d draft.Draft
	switch {
	case input.Clear:
		err = s.drill.ClearDraft(slot)
	case input.BlankID != "":
		d, err = s.drill.Input(slot, input.BlankID, input.Text)
	default:
		d, err = s.drill.Draft(slot)
	}
	if err != nil {
		return DraftOutput{}, fmt.Errorf("draft: %w", err)
	}
	if d == nil {
		d = draft.Draft{}
	}
	return DraftOutput{Level: int(level), Draft: d}, nil
}

func (s *Server) handleProgress(ctx context.Context, input ProgressInput) (ProgressOutput, error) {
	if input.CollectionID == "" {
		return ProgressOutput{}, fmt.Errorf("collection_id is required")
	}
	summaries, err := s.drill.CollectionProgress(ctx, input.CollectionID)
	if err != nil {
		return ProgressOutput{}, fmt.Errorf("collection progress: %w", err)
	}
	return ProgressOutput{CollectionID: input.CollectionID, Questions: summaries}, nil
}

// subject resolves a tool's question and level.
func (s *Server) subject(ctx context.Context, in questionRef) (identity.Subject, domain.Level, error) {
	if s.drill == nil || s.resolver == nil {
		return identity.Subject{}, 0, fmt.Errorf("fill-drill services not configured")
	}
	level := domain.Level(in.Level)
	if in.Level == 0 {
		level = domain.LevelWord
	}
	if err := domain.ValidateLevel(level); err != nil {
		return identity.Subject{}, 0, err
	}
	sub, err := s.resolver.Resolve(ctx, identity.MountDescriptor{
		CollectionID: in.CollectionID,
		QuestionID:   in.QuestionID,
	}, nil)
	if err != nil {
		return identity.Subject{}, 0, err
	}
	return sub, level, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
