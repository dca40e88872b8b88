package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Generation(domain.LevelShortAnswer, OutcomeOK)
	m.Generation(domain.LevelShortAnswer, OutcomeOK)
	m.Grading(domain.LevelWord, OutcomeRejected)
	m.Graded(domain.LevelWord, 100, true)
	m.Graded(domain.LevelWord, 40, false)
	m.PersistWrite("local", nil)
	m.PersistWrite("remote", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Generations.WithLabelValues("2", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Gradings.WithLabelValues("1", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LevelsCleared.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistWrites.WithLabelValues("remote", OutcomeError)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Generation(domain.LevelWord, OutcomeOK)
	m.Graded(domain.LevelWord, 10, true)
	m.AIRequest("grade", time.Second)
	m.HTTPRequest("GET", "/health", 200, time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RemoteFill()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "filldrill_remote_fills_total 1"))
}
