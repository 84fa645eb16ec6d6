package memory

import (
	"context"
	"time"
)

// NamespacePrefix is the first component of every memory namespace.
const NamespacePrefix = "memories"

// Namespace scopes memory to one user.
type Namespace struct {
	UserID string
}

// ForUser returns the namespace ("memories", userID).
func ForUser(userID string) Namespace {
	return Namespace{UserID: userID}
}

func (n Namespace) String() string {
	return NamespacePrefix + "/" + n.UserID
}

// Fragment is a unit of long-term memory.
type Fragment struct {
	ID        string
	Namespace Namespace
	Text      string
	CreatedAt time.Time
	// Score is the similarity to the query; zero for fragments not returned
	// by a search.
	Score float32
}

// Store is the fragment storage backend.
type Store interface {
	// Search returns up to k fragments of ns most similar to query, best
	// first. A namespace without fragments yields an empty result.
	Search(ctx context.Context, ns Namespace, query string, k int) ([]Fragment, error)

	// Append stores text as a new fragment with a fresh ID. Identical texts
	// are stored again.
	Append(ctx context.Context, ns Namespace, text string) (Fragment, error)
}

// Manager is what the engine uses.
//
// The engine decides WHEN memory is consulted (every model call) and written
// (explicit "remember" requests). The manager decides HOW.
type Manager interface {
	// Retrieve returns the memory text for userID relevant to query, ready
	// for prompt injection. Empty when nothing is stored.
	Retrieve(ctx context.Context, userID string, query string) (string, error)

	// Remember stores message when it carries a remember cue and reports
	// whether it did.
	Remember(ctx context.Context, userID string, message string) (bool, error)
}
