// Package drill orchestrates template generation and grading for each
// (question, level) slot on top of the progress coordinator.
package drill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/filldrill/internal/assistant"
	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/draft"
	"github.com/felixgeelhaar/filldrill/internal/identity"
	"github.com/felixgeelhaar/filldrill/internal/metrics"
	"github.com/felixgeelhaar/filldrill/internal/progress"
	"github.com/felixgeelhaar/filldrill/internal/score"
	"github.com/felixgeelhaar/filldrill/internal/studylog"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

const studyLogTimeout = 10 * time.Second

// Options configures a Service. Only Coordinator, Drafts and Assistant are
// required.
type Options struct {
	Coordinator *progress.Coordinator
	Drafts      *draft.Autosaver
	Assistant   assistant.Collaborator
	Resolver    *identity.Resolver
	StudyLog    studylog.Sink
	Clock       studylog.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Service runs the generation and grading state machines.
type Service struct {
	coord    *progress.Coordinator
	drafts   *draft.Autosaver
	ai       assistant.Collaborator
	resolver *identity.Resolver
	studyLog studylog.Sink
	clock    studylog.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	slots *slotTable
	views *viewTable
	emits sync.WaitGroup
}

// NewService creates a drill service.
func NewService(opts Options) *Service {
	s := &Service{
		coord:    opts.Coordinator,
		drafts:   opts.Drafts,
		ai:       opts.Assistant,
		resolver: opts.Resolver,
		studyLog: opts.StudyLog,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		slots:    newSlotTable(),
		views:    newViewTable(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.studyLog == nil {
		s.studyLog = studylog.Discard{}
	}
	if s.clock.Location == nil {
		s.clock = studylog.DefaultClock()
	}
	return s
}

// GenerateResult is the outcome of Generate.
type GenerateResult struct {
	Template *domain.Template
	// Cached is set when the stored template was returned without a request.
	Cached bool
	Record *domain.ProgressRecord
}

// GradeInput carries a submission. Nil Answers means "use the draft"; nil
// ContextHints means "hint the blanks the previous attempt missed".
type GradeInput struct {
	Answers      map[string]string
	ContextHints []string
}

// GradeResult is the outcome of Grade.
type GradeResult struct {
	Attempt    *domain.Attempt
	Score      score.Result
	FirstClear bool
	Record     *domain.ProgressRecord
}

// Record returns the canonical record of sub, hydrating it on first access.
func (s *Service) Record(ctx context.Context, sub identity.Subject) (*domain.ProgressRecord, error) {
	if rec, ok := s.coord.Arena().Get(sub.Key); ok {
		return rec, nil
	}
	return s.coord.Hydrate(ctx, sub.Key, sub.Question.Answer, sub.Seed)
}

// Generate returns the template for (sub, level). Without force a stored
// template is returned as is. Otherwise the assistant is asked for a new one,
// which replaces the stored template, deletes the level's attempt when force
// is set and clears the level's draft.
func (s *Service) Generate(ctx context.Context, sub identity.Subject, level domain.Level, force bool) (*GenerateResult, error) {
	if err := domain.ValidateLevel(level); err != nil {
		return nil, err
	}
	rec, err := s.Record(ctx, sub)
	if err != nil {
		return nil, err
	}
	if t := rec.Template(level); t != nil && !force {
		s.metrics.Generation(level, metrics.OutcomeCached)
		return &GenerateResult{Template: t, Cached: true, Record: rec}, nil
	}

	slot := domain.SlotKey{RecordKey: sub.Key, Level: level}
	epoch, ok := s.slots.begin(slot, opGenerate)
	if !ok {
		s.metrics.Generation(level, metrics.OutcomeRejected)
		return nil, fmt.Errorf("generate level %d: %w", int(level), domain.ErrInFlight)
	}
	defer s.slots.end(slot, opGenerate)

	// latency is wall-clock; s.now stamps records and may be frozen
	start := time.Now()
	raw, err := s.ai.GenerateTemplate(ctx, assistant.GenerateRequest{
		CollectionID: sub.Key.CollectionID,
		QuestionID:   sub.Key.QuestionID,
		Level:        level,
		ForceRefresh: force,
		History:      assistant.HistoryOf(rec),
		Question:     sub.Question,
		Reference:    sub.Question.Reference,
	})
	s.metrics.AIRequest("generate", time.Since(start))
	if err != nil {
		s.metrics.Generation(level, metrics.OutcomeError)
		return nil, s.networkFailure("generate template", err)
	}

	tpl := template.Normalize(raw, sub.Question.Answer)
	if len(tpl.Blanks) == 0 {
		s.metrics.Generation(level, metrics.OutcomeError)
		return nil, fmt.Errorf("%w: generated template has no blanks", domain.ErrTemplateUnavailable)
	}
	tpl.GeneratedAt = s.now()

	committed, err := s.coord.Mutate(context.WithoutCancel(ctx), sub.Key, func(r *domain.ProgressRecord) error {
		if !s.slots.current(slot, epoch) {
			return domain.ErrStaleResponse
		}
		if force && r.Attempt(level) != nil {
			s.logger.Info("discarding attempt of regenerated template",
				"collection_id", sub.Key.CollectionID,
				"question_id", sub.Key.QuestionID,
				"level", int(level),
				"attempt_id", r.Attempt(level).ID)
			delete(r.Attempts, level)
		}
		r.Templates[level] = tpl
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleResponse) {
			s.metrics.Generation(level, metrics.OutcomeStale)
		}
		return nil, fmt.Errorf("store template: %w", err)
	}

	s.clearDraft(slot)
	s.metrics.Generation(level, metrics.OutcomeOK)
	return &GenerateResult{Template: tpl, Record: committed}, nil
}

// Grade submits answers for (sub, level), stores the attempt and, on a pass,
// clears the level and its draft. The first clear of a level also emits a
// study-log entry in the background.
func (s *Service) Grade(ctx context.Context, sub identity.Subject, level domain.Level, in GradeInput) (*GradeResult, error) {
	if err := domain.ValidateLevel(level); err != nil {
		return nil, err
	}
	rec, err := s.Record(ctx, sub)
	if err != nil {
		return nil, err
	}
	tpl := rec.Template(level)
	if tpl == nil {
		s.metrics.Grading(level, metrics.OutcomeRejected)
		return nil, fmt.Errorf("grade level %d: %w", int(level), domain.ErrTemplateUnavailable)
	}

	slot := domain.SlotKey{RecordKey: sub.Key, Level: level}
	answers := in.Answers
	if answers == nil {
		d, err := s.drafts.Get(slot)
		if err != nil {
			return nil, fmt.Errorf("load answers: %w", err)
		}
		answers = d
	}
	submitted, err := collectAnswers(tpl, answers)
	if err != nil {
		s.metrics.Grading(level, metrics.OutcomeRejected)
		return nil, err
	}

	epoch, ok := s.slots.begin(slot, opGrade)
	if !ok {
		s.metrics.Grading(level, metrics.OutcomeRejected)
		return nil, fmt.Errorf("grade level %d: %w", int(level), domain.ErrInFlight)
	}
	defer s.slots.end(slot, opGrade)

	hints := in.ContextHints
	if hints == nil {
		hints = missedBlanks(level, tpl, rec.Attempt(level))
	}

	start := time.Now() // wall-clock, as in Generate
	eval, err := s.ai.GradeAnswers(ctx, assistant.GradeRequest{
		CollectionID: sub.Key.CollectionID,
		QuestionID:   sub.Key.QuestionID,
		Level:        level,
		Template:     tpl,
		Answers:      submitted,
		Question:     sub.Question,
		ContextHints: hints,
		Reference:    sub.Question.Reference,
	})
	s.metrics.AIRequest("grade", time.Since(start))
	if err != nil {
		s.metrics.Grading(level, metrics.OutcomeError)
		return nil, s.networkFailure("grade answers", err)
	}

	result := score.Evaluate(level, eval, tpl.BlankIDs())
	now := s.now()
	attempt := &domain.Attempt{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Evaluation: eval,
		Answers:    answerMap(submitted),
		Percentage: result.Percentage,
		Passed:     result.Passed,
	}

	var firstClear bool
	committed, err := s.coord.Mutate(context.WithoutCancel(ctx), sub.Key, func(r *domain.ProgressRecord) error {
		if !s.slots.current(slot, epoch) || !r.Template(level).Same(tpl) {
			return domain.ErrStaleResponse
		}
		r.Attempts[level] = attempt
		if result.Passed {
			firstClear = r.MarkCleared(level, now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleResponse) {
			s.metrics.Grading(level, metrics.OutcomeStale)
		}
		return nil, fmt.Errorf("store attempt: %w", err)
	}

	if result.Passed {
		s.clearDraft(slot)
	}
	s.metrics.Grading(level, metrics.OutcomeOK)
	s.metrics.Graded(level, result.Percentage, firstClear)
	if firstClear {
		s.emitStudyLog(ctx, s.clock.NewEntry(now, sub.Key, level, sub.Question, result.Percentage))
	}

	return &GradeResult{Attempt: attempt, Score: result, FirstClear: firstClear, Record: committed}, nil
}

// collectAnswers orders the submission by template blank and rejects one in
// which every blank is empty.
func collectAnswers(tpl *domain.Template, answers map[string]string) ([]assistant.Answer, error) {
	out := make([]assistant.Answer, 0, len(tpl.Blanks))
	filled := 0
	for _, id := range tpl.BlankIDs() {
		text := answers[id]
		if strings.TrimSpace(text) != "" {
			filled++
		}
		out = append(out, assistant.Answer{ID: id, Text: text})
	}
	if filled == 0 {
		return nil, &domain.ValidationError{Field: "answers", Message: "at least one blank must be answered"}
	}
	return out, nil
}

func answerMap(answers []assistant.Answer) map[string]string {
	m := make(map[string]string, len(answers))
	for _, a := range answers {
		m[a.ID] = a.Text
	}
	return m
}

// missedBlanks lists the blanks the previous attempt did not get fully right.
func missedBlanks(level domain.Level, tpl *domain.Template, prev *domain.Attempt) []string {
	if prev == nil {
		return []string{}
	}
	missed := []string{}
	for _, b := range score.Evaluate(level, prev.Evaluation, tpl.BlankIDs()).PerBlank {
		if b.Verdict != domain.VerdictCircle {
			missed = append(missed, b.ID)
		}
	}
	return missed
}

func (s *Service) networkFailure(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var nf *domain.NetworkFailure
	if errors.As(err, &nf) {
		return err
	}
	return &domain.NetworkFailure{Op: op, Err: err}
}

func (s *Service) clearDraft(slot domain.SlotKey) {
	if err := s.drafts.Clear(slot); err != nil {
		s.logger.Warn("draft clear failed",
			"collection_id", slot.CollectionID,
			"question_id", slot.QuestionID,
			"level", int(slot.Level),
			"error", err)
	}
}

func (s *Service) emitStudyLog(ctx context.Context, e studylog.Entry) {
	s.emits.Add(1)
	go func() {
		defer s.emits.Done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), studyLogTimeout)
		defer cancel()

		err := s.studyLog.Emit(emitCtx, e)
		s.metrics.StudyLogEmit(err)
		if err != nil {
			s.logger.Warn("study log emit failed",
				"collection_id", e.CollectionID,
				"question_id", e.QuestionID,
				"level", int(e.Level),
				"error", err)
		}
	}()
}

// Input records draft text for one blank.
func (s *Service) Input(slot domain.SlotKey, blankID, text string) (draft.Draft, error) {
	if err := domain.ValidateLevel(slot.Level); err != nil {
		return nil, err
	}
	return s.drafts.Input(slot, blankID, text), nil
}

// Draft returns the draft of a slot.
func (s *Service) Draft(slot domain.SlotKey) (draft.Draft, error) {
	if err := domain.ValidateLevel(slot.Level); err != nil {
		return nil, err
	}
	return s.drafts.Get(slot)
}

// ClearDraft deletes a slot's draft ("clear input").
func (s *Service) ClearDraft(slot domain.SlotKey) error {
	if err := domain.ValidateLevel(slot.Level); err != nil {
		return err
	}
	return s.drafts.Clear(slot)
}

// Busy reports whether generation or grading is in flight for slot.
func (s *Service) Busy(slot domain.SlotKey) (generating, grading bool) {
	return s.slots.inFlight(slot, opGenerate), s.slots.inFlight(slot, opGrade)
}

// Wait blocks until background study-log emits and remote writes finish.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.emits.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.coord.Wait(ctx)
}

// Close flushes pending drafts and waits for background work.
func (s *Service) Close(ctx context.Context) error {
	if err := s.drafts.Close(); err != nil {
		s.logger.Warn("draft flush failed", "error", err)
	}
	return s.Wait(ctx)
}
