package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-graph/embedder"
	"github.com/becomeliminal/nim-graph/logger"
	"github.com/becomeliminal/nim-graph/vectorindex"
)

// Collection is the vector index collection holding all fragments.
const Collection = "memories"

const (
	keyUserID    = "user_id"
	keyNamespace = "namespace"
	keyCreatedAt = "created_at"
)

// VectorStore keeps fragments in a vectorindex.Index.
type VectorStore struct {
	index    vectorindex.Index
	embedder embedder.Embedder
	log      *logger.Logger
}

var _ Store = (*VectorStore)(nil)

func NewVectorStore(index vectorindex.Index, emb embedder.Embedder, log *logger.Logger) *VectorStore {
	return &VectorStore{
		index:    index,
		embedder: emb,
		log:      logger.OrNop(log).With("component", "memory.store"),
	}
}

// Init creates the fragment collection.
func (s *VectorStore) Init(ctx context.Context) error {
	return s.index.EnsureCollection(ctx, Collection, s.embedder.Dimensions())
}

func (s *VectorStore) Search(ctx context.Context, ns Namespace, query string, k int) ([]Fragment, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := embedder.Vector(ctx, s.embedder, "memory.search", query)
	if err != nil {
		return nil, err
	}
	matches, err := s.index.Search(ctx, Collection, vec, k, vectorindex.Payload{keyUserID: ns.UserID})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ns, err)
	}

	fragments := make([]Fragment, 0, len(matches))
	for _, m := range matches {
		createdAt, _ := time.Parse(time.RFC3339Nano, m.Payload[keyCreatedAt])
		fragments = append(fragments, Fragment{
			ID:        m.ID,
			Namespace: ns,
			Text:      m.Payload[vectorindex.TextKey],
			CreatedAt: createdAt,
			Score:     m.Score,
		})
	}
	return fragments, nil
}

func (s *VectorStore) Append(ctx context.Context, ns Namespace, text string) (Fragment, error) {
	vec, err := embedder.Vector(ctx, s.embedder, "memory.append", text)
	if err != nil {
		return Fragment{}, err
	}
	f := Fragment{
		ID:        uuid.NewString(),
		Namespace: ns,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	payload := vectorindex.Payload{
		vectorindex.TextKey: text,
		keyUserID:           ns.UserID,
		keyNamespace:        ns.String(),
		keyCreatedAt:        f.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.index.Upsert(ctx, Collection, f.ID, vec, payload); err != nil {
		return Fragment{}, fmt.Errorf("append to %s: %w", ns, err)
	}
	s.log.Debug("stored memory fragment", "namespace", ns.String(), "id", f.ID)
	return f, nil
}
