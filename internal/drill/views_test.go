package drill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/identity"
	"github.com/felixgeelhaar/filldrill/internal/storage"
)

func TestViews_ShareTheRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mount := identity.MountDescriptor{CollectionID: "c1", QuestionID: "Q1"}

	a, _, err := h.svc.OpenView(ctx, mount, nil)
	require.NoError(t, err)
	b, _, err := h.svc.OpenView(ctx, mount, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, h.svc.OpenViews(a.Subject.Key))

	_, err = h.svc.Generate(ctx, a.Subject, a.Level, false)
	require.NoError(t, err)

	rec, err := h.svc.Record(ctx, b.Subject)
	require.NoError(t, err)
	assert.NotNil(t, rec.Template(domain.LevelWord), "the second view sees the first view's write")

	// reopening re-hydrates without losing the fresh write
	_, rec, err = h.svc.OpenView(ctx, mount, nil)
	require.NoError(t, err)
	assert.NotNil(t, rec.Template(domain.LevelWord))
}

func TestViews_LevelAndClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, _, err := h.svc.OpenView(ctx, identity.MountDescriptor{CollectionID: "c1", QuestionID: "Q1", Level: domain.LevelShortAnswer}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.LevelShortAnswer, v.Level)

	v, err = h.svc.SetLevel(v.ID, domain.LevelLongForm)
	require.NoError(t, err)
	assert.Equal(t, domain.LevelLongForm, v.Level)
	_, err = h.svc.SetLevel(v.ID, domain.Level(0))
	assert.ErrorIs(t, err, domain.ErrInvalidLevel)

	_, err = h.svc.Input(v.Slot(), "B1", "pending")
	require.NoError(t, err)
	require.NoError(t, h.svc.CloseView(v.ID))

	_, err = h.kv.Get(storage.DraftKey(v.Slot()))
	assert.NoError(t, err, "closing a view flushes its draft")

	_, err = h.svc.View(v.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.CloseView(v.ID), domain.ErrNotFound)
}

func TestViews_EmbeddedPayloadAndResolutionFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seed := domain.NewProgressRecord()
	seed.MarkCleared(domain.LevelWord, testNow)
	v, rec, err := h.svc.OpenView(ctx, identity.MountDescriptor{
		Payload: &domain.Question{ID: "solo", Answer: "{{x}}", Progress: seed},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StandaloneCollection, v.Subject.Key.CollectionID)
	assert.True(t, rec.IsCleared(domain.LevelWord))

	_, _, err = h.svc.OpenView(ctx, identity.MountDescriptor{CollectionID: "c1", QuestionID: "missing"}, nil)
	assert.ErrorIs(t, err, domain.ErrIdentityResolution)
}
