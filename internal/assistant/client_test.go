package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/llm"
	"github.com/felixgeelhaar/filldrill/internal/score"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

var cell = domain.Question{
	ID:      "q1",
	Text:    "What do mitochondria do?",
	Answer:  "The {{mitochondria}} produce {{ATP}} for the cell.",
	Rank:    "A",
	Subject: "biology",
}

func newTestClient(responses ...llm.MockResponse) (*Client, *llm.MockProvider) {
	mock := llm.NewMockProvider(responses...)
	reg := llm.NewRegistry()
	reg.Register("mock", mock)
	return NewClient(reg), mock
}

func TestClient_GenerateTemplate(t *testing.T) {
	c, mock := newTestClient(llm.MockResponse{
		Content: `{"text":"The {{B1: mitochondria}} produce {{B2: ATP}} for the cell.",
			"blanks":[{"id":"B1","answer":"mitochondria","prompt":"organelle"},{"id":"B2","answer":"ATP"}],
			"focus":"energy"}`,
	})
	pct := 50
	raw, err := c.GenerateTemplate(context.Background(), GenerateRequest{
		CollectionID: "bio",
		QuestionID:   "q1",
		Level:        domain.LevelWord,
		Question:     cell,
		Reference:    "Campbell ch. 9",
		History: History{
			ClearedLevels: []domain.Level{},
			Levels:        map[domain.Level]LevelHistory{domain.LevelWord: {BlankIDs: []string{"B1"}, LastPercentage: &pct}},
		},
	})
	require.NoError(t, err)

	tpl := template.Normalize(raw, cell.Answer)
	require.Len(t, tpl.Blanks, 2)
	assert.Equal(t, "mitochondria", tpl.Blanks[0].Answer)
	assert.Equal(t, "energy", tpl.Focus)

	require.Equal(t, 1, mock.CallCount())
	call := mock.Calls()[0]
	assert.Equal(t, "fill-drill-template", call.Schema.Name)
	assert.Contains(t, call.System, "single words")
	prompt := call.Messages[0].Content
	assert.Contains(t, prompt, "What do mitochondria do?")
	assert.Contains(t, prompt, "biology, rank A")
	assert.Contains(t, prompt, "Level: L1 (word)")
	assert.Contains(t, prompt, "Last score on this level: 50%")
	assert.Contains(t, prompt, "Campbell ch. 9")
	assert.InDelta(t, 0.3, call.Temperature, 0.001)
}

func TestClient_GenerateTemplate_ForceRefreshAsksForNewBlanks(t *testing.T) {
	c, mock := newTestClient(llm.MockResponse{Content: `{"text":"{{x}}","blanks":[{"id":"B1","answer":"x"}]}`})
	_, err := c.GenerateTemplate(context.Background(), GenerateRequest{
		Level:        domain.LevelShortAnswer,
		ForceRefresh: true,
		Question:     cell,
	})
	require.NoError(t, err)

	call := mock.Calls()[0]
	assert.Contains(t, call.Messages[0].Content, "NEW template")
	assert.Contains(t, call.System, "clauses")
	assert.Greater(t, call.Temperature, 0.5)
}

func TestClient_GenerateTemplate_RejectsNonConformingOutput(t *testing.T) {
	c, _ := newTestClient(llm.MockResponse{Content: `{"text":"no blanks list"}`})
	_, err := c.GenerateTemplate(context.Background(), GenerateRequest{Level: domain.LevelWord, Question: cell})

	var invalid *llm.ErrInvalidResponse
	require.ErrorAs(t, err, &invalid)
}

func TestClient_GenerateTemplate_InvalidLevel(t *testing.T) {
	c, mock := newTestClient()
	_, err := c.GenerateTemplate(context.Background(), GenerateRequest{Level: 7})
	assert.ErrorIs(t, err, domain.ErrInvalidLevel)
	assert.Zero(t, mock.CallCount())
}

func TestClient_GradeAnswers(t *testing.T) {
	c, mock := newTestClient(llm.MockResponse{
		Content: `{"blanks":[{"id":"B1","result":"○"},{"id":"B2","result":"△","feedback":"close","expected":"ATP"}]}`,
	})
	tpl := template.Normalize(template.RawTemplate{Text: "The {{B1: mitochondria}} produce {{B2: ATP}}."}, cell.Answer)

	eval, err := c.GradeAnswers(context.Background(), GradeRequest{
		Level:        domain.LevelWord,
		Template:     tpl,
		Answers:      []Answer{{ID: "B1", Text: "mitochondria"}, {ID: "B2", Text: "ADP"}},
		Question:     cell,
		ContextHints: []string{"B2"},
	})
	require.NoError(t, err)
	require.Len(t, eval.Blanks, 2)

	res := score.Evaluate(domain.LevelWord, eval, tpl.BlankIDs())
	assert.Equal(t, 75, res.Percentage)
	assert.False(t, res.Passed)

	call := mock.Calls()[0]
	assert.Equal(t, "fill-drill-evaluation", call.Schema.Name)
	prompt := call.Messages[0].Content
	assert.Contains(t, prompt, "[B1]")
	assert.Contains(t, prompt, "- Expected: ATP")
	assert.Contains(t, prompt, "- Learner: ADP")
	assert.Contains(t, prompt, "missed B2 last time")
	assert.NotContains(t, call.System, "holistic")
}

func TestClient_GradeAnswers_LongFormRequiresHolistic(t *testing.T) {
	c, mock := newTestClient(
		llm.MockResponse{Content: `{"blanks":[{"id":"B1","result":"△"}]}`},
		llm.MockResponse{Content: `{"blanks":[{"id":"B1","result":"△"}],"holistic":{"score":80,"breakdown":{"structure":40,"keyTerms":40}}}`},
	)
	tpl := template.Normalize(template.RawTemplate{Text: "{{B1: everything}}"}, "{{everything}}")
	req := GradeRequest{Level: domain.LevelLongForm, Template: tpl, Answers: []Answer{{ID: "B1", Text: "most things"}}, Question: cell}

	_, err := c.GradeAnswers(context.Background(), req)
	var invalid *llm.ErrInvalidResponse
	require.ErrorAs(t, err, &invalid)

	eval, err := c.GradeAnswers(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, eval.Holistic)
	assert.True(t, score.Evaluate(domain.LevelLongForm, eval, tpl.BlankIDs()).Passed)
	assert.Contains(t, mock.Calls()[1].System, "holistic score")
}

func TestClient_GradeAnswers_NeedsTemplate(t *testing.T) {
	c, mock := newTestClient()
	_, err := c.GradeAnswers(context.Background(), GradeRequest{Level: domain.LevelWord})
	assert.ErrorIs(t, err, domain.ErrTemplateUnavailable)
	assert.Zero(t, mock.CallCount())
}

func TestClient_ProviderSelection(t *testing.T) {
	reg := llm.NewRegistry()
	c := NewClient(reg, WithProvider("claude"))
	_, err := c.GenerateTemplate(context.Background(), GenerateRequest{Level: domain.LevelWord})
	assert.ErrorIs(t, err, llm.ErrProviderNotFound)

	_, err = NewClient(reg).GenerateTemplate(context.Background(), GenerateRequest{Level: domain.LevelWord})
	assert.ErrorIs(t, err, llm.ErrNoDefaultProvider)
}

func TestClient_ProviderErrorPassesThrough(t *testing.T) {
	boom := &llm.ErrProviderUnavailable{StatusCode: 503, Err: errors.New("overloaded")}
	c, _ := newTestClient(llm.MockResponse{Err: boom})
	_, err := c.GenerateTemplate(context.Background(), GenerateRequest{Level: domain.LevelWord, Question: cell})
	assert.ErrorIs(t, err, boom)
}

func TestHistoryOf(t *testing.T) {
	h := HistoryOf(nil)
	assert.NotNil(t, h.ClearedLevels)
	assert.Empty(t, h.Levels)

	tpl := template.Normalize(template.RawTemplate{Text: "{{B1: x}}"}, "{{x}}")
	r := domain.NewProgressRecord()
	r.Templates[domain.LevelWord] = tpl
	r.Attempts[domain.LevelWord] = &domain.Attempt{Percentage: 100, Passed: true}
	r.MarkCleared(domain.LevelWord, time.Now())

	h = HistoryOf(r)
	assert.Equal(t, []domain.Level{domain.LevelWord}, h.ClearedLevels)
	require.Contains(t, h.Levels, domain.LevelWord)
	assert.Equal(t, []string{"B1"}, h.Levels[domain.LevelWord].BlankIDs)
	assert.Equal(t, 100, *h.Levels[domain.LevelWord].LastPercentage)
}
