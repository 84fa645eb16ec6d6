package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/embedder/mock"
	"github.com/becomeliminal/nim-graph/memory"
	"github.com/becomeliminal/nim-graph/vectorindex/chromem"
)

func newStore(t *testing.T) (*memory.VectorStore, *mock.MockEmbedder) {
	t.Helper()
	idx, err := chromem.New("", nil)
	require.NoError(t, err)
	emb := mock.NewWithDimensions(128)
	store := memory.NewVectorStore(idx, emb, nil)
	require.NoError(t, store.Init(context.Background()))
	return store, emb
}

func TestAppendThenSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	ns := memory.ForUser("u1")

	f, err := store.Append(ctx, ns, "Remember my favorite color is blue")
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, ns, f.Namespace)

	got, err := store.Search(ctx, ns, "Remember my favorite color is blue", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.ID, got[0].ID)
	assert.Equal(t, "Remember my favorite color is blue", got[0].Text)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestSearchEmptyNamespace(t *testing.T) {
	store, _ := newStore(t)
	got, err := store.Search(context.Background(), memory.ForUser("nobody"), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchNeverCrossesUsers(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	_, err := store.Append(ctx, memory.ForUser("alice"), "my dog is called Rex")
	require.NoError(t, err)

	got, err := store.Search(ctx, memory.ForUser("bob"), "my dog is called Rex", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendDoesNotDeduplicate(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	ns := memory.ForUser("u1")

	a, err := store.Append(ctx, ns, "same text")
	require.NoError(t, err)
	b, err := store.Append(ctx, ns, "same text")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	got, err := store.Search(ctx, ns, "same text", 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchEmbeddingFailure(t *testing.T) {
	store, emb := newStore(t)
	emb.Err = errors.New("offline")

	_, err := store.Search(context.Background(), memory.ForUser("u1"), "x", 5)
	require.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
}

func TestManagerRetrieveJoinsFragments(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	m := memory.NewSimpleManager(store, nil, nil)

	text, err := m.Retrieve(ctx, "u1", "color")
	require.NoError(t, err)
	assert.Equal(t, "", text)

	_, err = store.Append(ctx, memory.ForUser("u1"), "favorite color is blue")
	require.NoError(t, err)
	_, err = store.Append(ctx, memory.ForUser("u1"), "lives in Lisbon")
	require.NoError(t, err)

	text, err = m.Retrieve(ctx, "u1", "what is my favorite color")
	require.NoError(t, err)
	assert.Equal(t, "favorite color is blue\nlives in Lisbon", text)
}

func TestManagerRetrieveCapsResults(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	for i := 0; i < 8; i++ {
		_, err := store.Append(ctx, memory.ForUser("u1"), "note")
		require.NoError(t, err)
	}

	text, err := memory.NewSimpleManager(store, nil, nil).Retrieve(ctx, "u1", "note")
	require.NoError(t, err)
	assert.Equal(t, "note\nnote\nnote\nnote\nnote", text)
}

func TestManagerRemember(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	m := memory.NewSimpleManager(store, nil, nil)

	stored, err := m.Remember(ctx, "u1", "what's the weather")
	require.NoError(t, err)
	assert.False(t, stored)

	stored, err = m.Remember(ctx, "u1", "Please REMEMBER I am vegetarian")
	require.NoError(t, err)
	assert.True(t, stored)

	text, err := m.Retrieve(ctx, "u1", "vegetarian")
	require.NoError(t, err)
	assert.Equal(t, "Please REMEMBER I am vegetarian", text)
}

func TestManagerDisabled(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	m := memory.NewSimpleManager(store, &memory.Config{Enabled: false}, nil)

	stored, err := m.Remember(ctx, "u1", "remember this")
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestDetectRemember(t *testing.T) {
	assert.True(t, memory.DetectRemember("Remember my favorite color is blue"))
	assert.True(t, memory.DetectRemember("can you rEmEmBeR that"))
	assert.False(t, memory.DetectRemember("what did I tell you"))
}
