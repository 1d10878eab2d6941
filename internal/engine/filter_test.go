package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/domain/mocks"
)

func pairFixture() domain.Pair {
	return domain.Pair{
		ID:           "p1",
		UserID:       "u1",
		SessionID:    "s1",
		TypeFilter:   domain.FilterAll,
		ForwardEdits: true,
	}
}

func noRules(filters *mocks.MockFilterRepository) {
	filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil).Maybe()
	filters.On("ImagesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedImage{}, nil).Maybe()
}

func TestFilter_TypeFilter(t *testing.T) {
	t.Parallel()
	filters := &mocks.MockFilterRepository{}
	noRules(filters)
	f := NewFilterPipeline(filters)

	textOnly := pairFixture()
	textOnly.TypeFilter = domain.FilterText
	v, err := f.Evaluate(context.Background(), textOnly, domain.UpdateEvent{
		Kind:     domain.EventNew,
		Snapshot: domain.MessageSnapshot{Media: domain.MediaPhoto},
	}, false)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, DropTypeFilter, v.Reason)

	mediaOnly := pairFixture()
	mediaOnly.TypeFilter = domain.FilterMedia
	v, err = f.Evaluate(context.Background(), mediaOnly, domain.UpdateEvent{
		Kind:     domain.EventNew,
		Snapshot: domain.MessageSnapshot{Text: "plain"},
	}, false)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestFilter_PhraseBlock_CaseInsensitive(t *testing.T) {
	t.Parallel()
	filters := &mocks.MockFilterRepository{}
	pairID := "p1"
	filters.On("PhrasesFor", mock.Anything, "u1", "p1").
		Return([]domain.BlockedPhrase{{ID: "bp1", UserID: "u1", PairID: &pairID, Text: "promo", Active: true}}, nil)
	f := NewFilterPipeline(filters)

	v, err := f.Evaluate(context.Background(), pairFixture(), domain.UpdateEvent{
		Kind:     domain.EventNew,
		Snapshot: domain.MessageSnapshot{Text: "PROMO code"},
	}, false)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, DropPhraseBlock, v.Reason)
}

func TestFilter_ImageBlock(t *testing.T) {
	t.Parallel()
	filters := &mocks.MockFilterRepository{}
	filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil).Maybe()
	filters.On("ImagesFor", mock.Anything, "u1", "p1").
		Return([]domain.BlockedImage{{ID: "bi1", UserID: "u1", ImageHash: "p:ffaa00", Active: true}}, nil)
	f := NewFilterPipeline(filters)

	v, err := f.Evaluate(context.Background(), pairFixture(), domain.UpdateEvent{
		Kind:     domain.EventNew,
		Snapshot: domain.MessageSnapshot{Media: domain.MediaPhoto, ImageHash: "p:ffaa00"},
	}, false)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, DropImageBlock, v.Reason)

	// A different hash passes.
	v, err = f.Evaluate(context.Background(), pairFixture(), domain.UpdateEvent{
		Kind:     domain.EventNew,
		Snapshot: domain.MessageSnapshot{Media: domain.MediaPhoto, ImageHash: "p:123456"},
	}, false)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestFilter_TransformsRequireAdvancedPlan(t *testing.T) {
	t.Parallel()
	filters := &mocks.MockFilterRepository{}
	noRules(filters)
	f := NewFilterPipeline(filters)

	pair := pairFixture()
	pair.Substitutions = map[string]string{"join there": "join here"}
	pair.Watermark = "via relay"
	ev := domain.UpdateEvent{Kind: domain.EventNew, Snapshot: domain.MessageSnapshot{Text: "Join THERE now"}}

	// Free plan: text untouched.
	v, err := f.Evaluate(context.Background(), pair, ev, false)
	require.NoError(t, err)
	assert.Equal(t, "Join THERE now", v.Snapshot.Text)

	// Advanced plan: substitution and watermark applied.
	v, err = f.Evaluate(context.Background(), pair, ev, true)
	require.NoError(t, err)
	assert.Equal(t, "join here now\nvia relay", v.Snapshot.Text)
}

func TestFilter_EventKindGating(t *testing.T) {
	t.Parallel()
	filters := &mocks.MockFilterRepository{}
	noRules(filters)
	f := NewFilterPipeline(filters)

	pair := pairFixture()
	pair.ForwardEdits = false
	pair.ForwardDeletes = false

	v, err := f.Evaluate(context.Background(), pair, domain.UpdateEvent{Kind: domain.EventEdit, Snapshot: domain.MessageSnapshot{Text: "x"}}, false)
	require.NoError(t, err)
	assert.Equal(t, DropEditGated, v.Reason)

	v, err = f.Evaluate(context.Background(), pair, domain.UpdateEvent{Kind: domain.EventDelete}, false)
	require.NoError(t, err)
	assert.Equal(t, DropDeleteGated, v.Reason)

	pair.ForwardDeletes = true
	v, err = f.Evaluate(context.Background(), pair, domain.UpdateEvent{Kind: domain.EventDelete}, false)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}
