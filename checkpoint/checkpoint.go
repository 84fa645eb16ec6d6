// Package checkpoint persists per-thread conversation state between graph
// nodes so an interrupted turn can resume where it stopped.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/becomeliminal/nim-graph/core"
)

// Checkpoint is the durable record of one thread.
type Checkpoint struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`

	// Version increases by one on every save. Zero means never saved.
	Version int64 `json:"version"`

	// Next is the node the thread resumes at. NodeDone means no turn is in
	// progress.
	Next core.Node `json:"next"`

	// Hops counts call_model to execute_tools transitions in the current turn.
	Hops int `json:"hops"`

	// TurnStart is the index in State.Messages of the current turn's user
	// message.
	TurnStart int `json:"turn_start"`

	State     core.ConversationState `json:"state"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// New returns the empty checkpoint of a thread that has never been saved.
func New(threadID string) *Checkpoint {
	return &Checkpoint{ThreadID: threadID, Next: core.NodeDone}
}

// Pending reports whether a turn was interrupted before reaching done.
func (c *Checkpoint) Pending() bool {
	return c.Version > 0 && c.Next != core.NodeDone
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.State = c.State.Clone()
	return &out
}

// Store persists checkpoints.
//
// Save is a compare-and-set on Version: a checkpoint whose version equals the
// stored one is a replay and is ignored, an older version is a stale writer
// and fails with core.ErrCheckpointIO. All backend failures are reported as
// core.ErrCheckpointIO.
type Store interface {
	// Load returns the latest checkpoint of threadID, or New(threadID) when
	// the thread is unknown.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	Save(ctx context.Context, cp *Checkpoint) error

	Close() error
}

// Decision is the outcome of comparing an incoming version with the stored
// one.
type Decision int

const (
	Write Decision = iota
	Replay
	Stale
)

// Decide applies the versioning rule shared by all backends. stored is zero
// when nothing is stored.
func Decide(stored, incoming int64) Decision {
	switch {
	case incoming > stored:
		return Write
	case incoming == stored:
		return Replay
	default:
		return Stale
	}
}

// StaleError reports a save rejected because a newer version is stored.
func StaleError(threadID string, stored, incoming int64) error {
	return IOError("save", threadID, fmt.Errorf("stale version %d, stored %d", incoming, stored))
}

// IOError classifies a backend failure.
func IOError(op, threadID string, err error) error {
	return core.NewError(core.ErrCheckpointIO, op, threadID, err)
}

// Encode serializes cp for backends storing opaque blobs.
func Encode(cp *Checkpoint) ([]byte, error) {
	return json.Marshal(cp)
}

func Decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
