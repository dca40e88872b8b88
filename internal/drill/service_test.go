package drill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/assistant"
	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/draft"
	"github.com/felixgeelhaar/filldrill/internal/identity"
	"github.com/felixgeelhaar/filldrill/internal/metrics"
	"github.com/felixgeelhaar/filldrill/internal/progress"
	"github.com/felixgeelhaar/filldrill/internal/storage"
	"github.com/felixgeelhaar/filldrill/internal/studylog"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

// fakeAI is a scriptable assistant.Collaborator.
type fakeAI struct {
	mu         sync.Mutex
	genCalls   int
	gradeCalls int
	lastGen    assistant.GenerateRequest
	lastGrade  assistant.GradeRequest

	gen   func(assistant.GenerateRequest) (template.RawTemplate, error)
	grade func(assistant.GradeRequest) (domain.Evaluation, error)
}

func (f *fakeAI) GenerateTemplate(_ context.Context, req assistant.GenerateRequest) (template.RawTemplate, error) {
	f.mu.Lock()
	f.genCalls++
	f.lastGen = req
	gen := f.gen
	f.mu.Unlock()
	if gen == nil {
		return template.RawTemplate{Text: "It is {{foo}}."}, nil
	}
	return gen(req)
}

func (f *fakeAI) GradeAnswers(_ context.Context, req assistant.GradeRequest) (domain.Evaluation, error) {
	f.mu.Lock()
	f.gradeCalls++
	f.lastGrade = req
	grade := f.grade
	f.mu.Unlock()
	if grade == nil {
		return allCircles(req), nil
	}
	return grade(req)
}

func (f *fakeAI) calls() (gen, grade int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls, f.gradeCalls
}

func allCircles(req assistant.GradeRequest) domain.Evaluation {
	var e domain.Evaluation
	for _, a := range req.Answers {
		e.Blanks = append(e.Blanks, domain.BlankEvaluation{ID: a.ID, Result: "○"})
	}
	return e
}

func marks(marks ...string) func(assistant.GradeRequest) (domain.Evaluation, error) {
	return func(req assistant.GradeRequest) (domain.Evaluation, error) {
		var e domain.Evaluation
		for i, a := range req.Answers {
			e.Blanks = append(e.Blanks, domain.BlankEvaluation{ID: a.ID, Result: marks[i]})
		}
		return e, nil
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []studylog.Entry
	err     error
}

func (s *recordingSink) Emit(_ context.Context, e studylog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type harness struct {
	svc  *Service
	kv   *storage.Memory
	ai   *fakeAI
	sink *recordingSink
}

func collection() *domain.Collection {
	return &domain.Collection{ID: "c1", Questions: []domain.Question{
		{ID: "Q1", Text: "What is it?", Answer: "It is {{foo}}."},
		{ID: "Q2", Text: "Name both.", Answer: "{{alpha}} and {{beta}}."},
	}}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOver(t, storage.NewMemory())
}

// newHarnessOver builds a fresh service over kv, as after a restart.
func newHarnessOver(t *testing.T, kv *storage.Memory) *harness {
	t.Helper()
	repo := identity.NewRepository(nil)
	repo.Put(collection())
	h := &harness{kv: kv, ai: &fakeAI{}, sink: &recordingSink{}}
	h.svc = NewService(Options{
		Coordinator: progress.NewCoordinator(kv, progress.Options{}),
		Drafts:      draft.NewAutosaver(kv, draft.WithWindow(time.Hour)),
		Assistant:   h.ai,
		Resolver:    identity.NewResolver(repo),
		StudyLog:    h.sink,
		Clock:       studylog.Clock{BoundaryHour: 3, Location: time.UTC},
		Now:         func() time.Time { return testNow },
	})
	return h
}

func (h *harness) subject(t *testing.T, questionID string) identity.Subject {
	t.Helper()
	sub, err := h.svc.resolver.Resolve(context.Background(), identity.MountDescriptor{CollectionID: "c1", QuestionID: questionID}, nil)
	require.NoError(t, err)
	return sub
}

func slotOf(sub identity.Subject, l domain.Level) domain.SlotKey {
	return domain.SlotKey{RecordKey: sub.Key, Level: l}
}

func TestScenario_FirstClearOfLevelOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	slot := slotOf(sub, domain.LevelWord)

	gen, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)
	assert.Equal(t, []domain.CanonicalBlank{{ID: "B1", Answer: "foo"}}, gen.Template.CanonicalBlanks)

	_, err = h.svc.Input(slot, "B1", "foo")
	require.NoError(t, err)
	h.svc.drafts.Flush(slot)
	_, err = h.kv.Get(storage.DraftKey(slot))
	require.NoError(t, err, "draft persisted before grading")

	res, err := h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{})
	require.NoError(t, err)
	require.NoError(t, h.svc.Wait(ctx))

	assert.Equal(t, 100, res.Score.Percentage)
	assert.True(t, res.Score.Passed)
	assert.True(t, res.FirstClear)
	assert.Equal(t, []domain.Level{domain.LevelWord}, res.Record.ClearedLevels)
	assert.Equal(t, testNow, res.Record.CompletedAt[domain.LevelWord])
	assert.Equal(t, map[string]string{"B1": "foo"}, res.Attempt.Answers)

	_, err = h.kv.Get(storage.DraftKey(slot))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	d, err := h.svc.Draft(slot)
	require.NoError(t, err)
	assert.Empty(t, d)

	require.Equal(t, 1, h.sink.count())
	e := h.sink.entries[0]
	assert.Equal(t, "Q1", e.QuestionID)
	assert.Equal(t, "c1", e.CollectionID)
	assert.Equal(t, domain.LevelWord, e.Level)
	assert.Equal(t, "2026-03-15", e.Date)

	// the record reached the device-local store
	data, err := h.kv.Get(storage.ProgressKey(sub.Key))
	require.NoError(t, err)
	stored, err := progress.DecodeRecord(data, "")
	require.NoError(t, err)
	assert.True(t, stored.IsCleared(domain.LevelWord))
}

func TestGenerate_ReturnsCachedTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")

	first, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)
	second, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Same(t, first.Template, second.Template)
	gen, _ := h.ai.calls()
	assert.Equal(t, 1, gen)
}

func TestGenerate_RejectsConcurrentRequestForSameSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q2")

	release := make(chan struct{})
	started := make(chan domain.Level, 2)
	h.ai.gen = func(req assistant.GenerateRequest) (template.RawTemplate, error) {
		started <- req.Level
		if req.Level == domain.LevelShortAnswer {
			<-release
		}
		return template.RawTemplate{Text: "{{alpha}} and {{beta}}."}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Generate(ctx, sub, domain.LevelShortAnswer, false)
		done <- err
	}()
	require.Equal(t, domain.LevelShortAnswer, <-started)

	_, err := h.svc.Generate(ctx, sub, domain.LevelShortAnswer, false)
	assert.ErrorIs(t, err, domain.ErrInFlight)
	generating, _ := h.svc.Busy(slotOf(sub, domain.LevelShortAnswer))
	assert.True(t, generating)

	// another level of the same question is independent
	l3, err := h.svc.Generate(ctx, sub, domain.LevelLongForm, false)
	require.NoError(t, err)
	assert.NotNil(t, l3.Template)

	close(release)
	require.NoError(t, <-done)

	gen, _ := h.ai.calls()
	assert.Equal(t, 2, gen, "the rejected call made no request")
}

func TestGenerate_ForceRefreshDeletesAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")

	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)
	_, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
	require.NoError(t, err)

	h.ai.gen = func(assistant.GenerateRequest) (template.RawTemplate, error) {
		return template.RawTemplate{}, errors.New("upstream 500")
	}
	_, err = h.svc.Generate(ctx, sub, domain.LevelWord, true)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)

	rec, err := h.svc.Record(ctx, sub)
	require.NoError(t, err)
	assert.NotNil(t, rec.Attempt(domain.LevelWord), "failed regeneration leaves the record unchanged")

	h.ai.gen = nil
	res, err := h.svc.Generate(ctx, sub, domain.LevelWord, true)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Nil(t, res.Record.Attempt(domain.LevelWord))
	assert.True(t, res.Record.IsCleared(domain.LevelWord), "cleared levels survive regeneration")
	assert.True(t, h.ai.lastGen.ForceRefresh)
	assert.Equal(t, []domain.Level{domain.LevelWord}, h.ai.lastGen.History.ClearedLevels)
}

func TestGenerate_ClearsDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	slot := slotOf(sub, domain.LevelWord)

	_, _ = h.svc.Input(slot, "B1", "old input")
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	d, err := h.svc.Draft(slot)
	require.NoError(t, err)
	assert.Empty(t, d)
}

func TestGrade_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")

	_, err := h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
	assert.ErrorIs(t, err, domain.ErrTemplateUnavailable)

	_, err = h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	_, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "  "}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{})
	assert.ErrorIs(t, err, domain.ErrValidation, "an empty draft is an empty submission")

	_, grade := h.ai.calls()
	assert.Zero(t, grade, "no request before preconditions hold")

	_, err = h.svc.Grade(ctx, sub, domain.Level(4), GradeInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidLevel)
}

func TestGrade_NetworkFailureLeavesRecordUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)
	before, _ := h.svc.Record(ctx, sub)
	stored, _ := h.kv.Get(storage.ProgressKey(sub.Key))

	h.ai.grade = func(assistant.GradeRequest) (domain.Evaluation, error) {
		return domain.Evaluation{}, errors.New("connection reset")
	}
	_, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
	var nf *domain.NetworkFailure
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "grade answers", nf.Op)

	after, _ := h.svc.Record(ctx, sub)
	assert.Equal(t, before, after)
	storedAfter, _ := h.kv.Get(storage.ProgressKey(sub.Key))
	assert.Equal(t, stored, storedAfter)

	_, grading := h.svc.Busy(slotOf(sub, domain.LevelWord))
	assert.False(t, grading, "slot returns to idle")
}

func TestGrade_DraftLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q2")
	slot := slotOf(sub, domain.LevelWord)
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	_, _ = h.svc.Input(slot, "B1", "alpha")
	_, _ = h.svc.Input(slot, "B2", "gamma")

	h.ai.grade = marks("○", "△")
	res, err := h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{})
	require.NoError(t, err)
	assert.Equal(t, 75, res.Score.Percentage)
	assert.False(t, res.Score.Passed)
	assert.Empty(t, res.Record.ClearedLevels)
	require.NotNil(t, res.Record.Attempt(domain.LevelWord), "failing attempts are kept")

	d, _ := h.svc.Draft(slot)
	assert.Equal(t, draft.Draft{"B1": "alpha", "B2": "gamma"}, d, "a failing grade keeps the draft")
	assert.Equal(t, []string{"B2"}, missedBlanks(domain.LevelWord, res.Record.Template(domain.LevelWord), res.Attempt))

	_, _ = h.svc.Input(slot, "B2", "beta")
	h.ai.grade = marks("○", "○")
	res, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score.Percentage)
	assert.Equal(t, []string{"B2"}, h.ai.lastGrade.ContextHints, "hints default to the previously missed blanks")

	d, _ = h.svc.Draft(slot)
	assert.Empty(t, d, "a passing grade deletes the draft")
}

func TestGrade_ClearedLevelsAreMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	results := []string{"○", "×", "△", "○", "×"}
	for i, mark := range results {
		h.ai.grade = marks(mark)
		res, err := h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "x"}})
		require.NoError(t, err)
		assert.True(t, res.Record.IsCleared(domain.LevelWord), "grade %d lost the level", i)
		assert.Equal(t, i == 0, res.FirstClear)
	}
	require.NoError(t, h.svc.Wait(ctx))
	assert.Equal(t, 1, h.sink.count(), "only the first clear is logged")
}

func TestGrade_StudyLogFailureDoesNotFailGrade(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("queue down")
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	res, err := h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
	require.NoError(t, err)
	assert.True(t, res.FirstClear)
	require.NoError(t, h.svc.Wait(ctx))
	assert.Equal(t, 1, h.sink.count())
}

func TestGrade_DiscardsResponseOvertakenByRegeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)

	release := make(chan struct{})
	grading := make(chan struct{})
	h.ai.grade = func(req assistant.GradeRequest) (domain.Evaluation, error) {
		close(grading)
		<-release
		return allCircles(req), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
		done <- err
	}()
	<-grading

	_, err = h.svc.Generate(ctx, sub, domain.LevelWord, true)
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-done, domain.ErrStaleResponse)
	rec, _ := h.svc.Record(ctx, sub)
	assert.Nil(t, rec.Attempt(domain.LevelWord))
	assert.Empty(t, rec.ClearedLevels)
}

func TestGrade_SurvivesSecondPanelOpeningAfterRestart(t *testing.T) {
	ctx := context.Background()
	first := newHarness(t)
	_, err := first.svc.Generate(ctx, first.subject(t, "Q1"), domain.LevelWord, false)
	require.NoError(t, err)
	require.NoError(t, first.svc.Wait(ctx))

	h := newHarnessOver(t, first.kv)
	mount := identity.MountDescriptor{CollectionID: "c1", QuestionID: "Q1"}
	a, _, err := h.svc.OpenView(ctx, mount, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	grading := make(chan struct{})
	h.ai.grade = func(req assistant.GradeRequest) (domain.Evaluation, error) {
		close(grading)
		<-release
		return allCircles(req), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Grade(ctx, a.Subject, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
		done <- err
	}()
	<-grading

	// the second panel re-reads the stored copy of the record
	_, _, err = h.svc.OpenView(ctx, mount, nil)
	require.NoError(t, err)
	close(release)

	require.NoError(t, <-done)
	rec, err := h.svc.Record(ctx, a.Subject)
	require.NoError(t, err)
	assert.NotNil(t, rec.Attempt(domain.LevelWord))
	assert.Equal(t, []domain.Level{domain.LevelWord}, rec.ClearedLevels)
}

func TestGrade_HolisticLevelThree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	_, err := h.svc.Generate(ctx, sub, domain.LevelLongForm, false)
	require.NoError(t, err)

	for _, tt := range []struct {
		score  float64
		passed bool
		v      domain.Verdict
	}{
		{79, false, domain.VerdictTriangle},
		{80, true, domain.VerdictCircle},
	} {
		sc := tt.score
		h.ai.grade = func(assistant.GradeRequest) (domain.Evaluation, error) {
			return domain.Evaluation{
				Blanks:   []domain.BlankEvaluation{{ID: "B1", Result: "×"}},
				Holistic: &domain.HolisticScore{Score: &sc},
			}, nil
		}
		res, err := h.svc.Grade(ctx, sub, domain.LevelLongForm, GradeInput{Answers: map[string]string{"B1": "essay"}})
		require.NoError(t, err)
		assert.Equal(t, int(tt.score), res.Score.Percentage)
		assert.Equal(t, tt.passed, res.Score.Passed)
		assert.Equal(t, tt.v, res.Score.Verdict)
	}
}

func TestCollectionProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.subject(t, "Q1")
	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)
	_, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
	require.NoError(t, err)

	got, err := h.svc.CollectionProgress(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Q1", got[0].QuestionID)
	assert.Equal(t, []domain.Level{domain.LevelWord}, got[0].ClearedLevels)
	require.NotNil(t, got[0].Levels[domain.LevelWord].LastPercentage)
	assert.Equal(t, 100, *got[0].Levels[domain.LevelWord].LastPercentage)
	assert.Empty(t, got[1].ClearedLevels)

	// without a loader the stored records are summarized
	stored, err := h.svc.CollectionProgress(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestGenerateAndGrade_LatencyIsWallClock(t *testing.T) {
	h := newHarness(t)
	h.svc.metrics = metrics.New()
	slow := func() { time.Sleep(20 * time.Millisecond) }
	h.ai.gen = func(assistant.GenerateRequest) (template.RawTemplate, error) {
		slow()
		return template.RawTemplate{Text: "It is {{foo}}."}, nil
	}
	h.ai.grade = func(req assistant.GradeRequest) (domain.Evaluation, error) {
		slow()
		return allCircles(req), nil
	}
	ctx := context.Background()
	sub := h.subject(t, "Q1")

	_, err := h.svc.Generate(ctx, sub, domain.LevelWord, false)
	require.NoError(t, err)
	_, err = h.svc.Grade(ctx, sub, domain.LevelWord, GradeInput{Answers: map[string]string{"B1": "foo"}})
	require.NoError(t, err)

	for _, op := range []string{"generate", "grade"} {
		var pb dto.Metric
		require.NoError(t, h.svc.metrics.AIDuration.WithLabelValues(op).(prometheus.Metric).Write(&pb))
		assert.EqualValues(t, 1, pb.GetHistogram().GetSampleCount(), op)
		assert.GreaterOrEqual(t, pb.GetHistogram().GetSampleSum(), 0.02, "%s latency with a frozen clock", op)
	}
}
