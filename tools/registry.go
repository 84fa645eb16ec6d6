// Package tools holds the tool catalog: registration, semantic selection,
// argument validation and execution, plus the builder and schema helpers
// used to define tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/embedder"
	"github.com/becomeliminal/nim-graph/logger"
	"github.com/becomeliminal/nim-graph/vectorindex"
)

const (
	// DefaultCollection is the vector index collection holding tool
	// descriptions.
	DefaultCollection = "tool_registry"
	// DefaultMaxSelect caps how many tools one selection may return.
	DefaultMaxSelect = 10

	payloadName = "name"
)

type entry struct {
	tool    core.Tool
	schema  *jsonschema.Schema
	indexID string
}

// Registry is the tool catalog. Tools are registered at startup, then the
// registry is frozen and only read.
type Registry struct {
	index      vectorindex.Index
	embedder   embedder.Embedder
	collection string
	maxSelect  int
	log        *logger.Logger

	mu      sync.RWMutex
	tools   map[string]*entry
	pending map[string]struct{}
	frozen  bool
}

type RegistryOption func(*Registry)

// WithCollection overrides the index collection used for tool descriptions.
func WithCollection(name string) RegistryOption {
	return func(r *Registry) { r.collection = name }
}

// WithMaxSelect overrides the upper bound applied to Select's k.
func WithMaxSelect(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSelect = n
		}
	}
}

func WithLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

func NewRegistry(index vectorindex.Index, emb embedder.Embedder, opts ...RegistryOption) *Registry {
	r := &Registry{
		index:      index,
		embedder:   emb,
		collection: DefaultCollection,
		maxSelect:  DefaultMaxSelect,
		tools:      make(map[string]*entry),
		pending:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrNop(r.log).With("component", "tools.registry")
	return r
}

// Register adds tool to the catalog and indexes its description.
//
// If the index already holds an entry for the tool's name, e.g. from a
// previous process, that entry's ID is reused so restarts do not accumulate
// duplicates.
func (r *Registry) Register(ctx context.Context, tool core.Tool) error {
	name := tool.Name()
	if name == "" {
		return errors.New("tool name is required")
	}

	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return core.NewError(core.ErrRegistryFrozen, "register", name, nil)
	}
	_, exists := r.tools[name]
	_, inFlight := r.pending[name]
	if exists || inFlight {
		r.mu.Unlock()
		return core.NewError(core.ErrDuplicateTool, "register", name, nil)
	}
	r.pending[name] = struct{}{}
	r.mu.Unlock()

	e, err := r.prepare(ctx, tool)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, name)
	if err != nil {
		return err
	}
	r.tools[name] = e
	r.log.Info("registered tool", "tool", name, "index_id", e.indexID)
	return nil
}

func (r *Registry) prepare(ctx context.Context, tool core.Tool) (*entry, error) {
	name := tool.Name()
	schema, err := compileSchema(tool.InputSchema())
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	if err := r.index.EnsureCollection(ctx, r.collection, r.embedder.Dimensions()); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	vec, err := embedder.Vector(ctx, r.embedder, "register", tool.Description())
	if err != nil {
		return nil, err
	}

	id, err := r.reconcile(ctx, name, vec)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	payload := vectorindex.Payload{
		payloadName:         name,
		vectorindex.TextKey: tool.Description(),
	}
	if err := r.index.Upsert(ctx, r.collection, id, vec, payload); err != nil {
		return nil, fmt.Errorf("tool %s: index description: %w", name, err)
	}
	return &entry{tool: tool, schema: schema, indexID: id}, nil
}

// reconcile returns the index ID already stored for name, or a fresh one.
func (r *Registry) reconcile(ctx context.Context, name string, vec []float32) (string, error) {
	matches, err := r.index.Search(ctx, r.collection, vec, 1, vectorindex.Payload{payloadName: name})
	if err != nil {
		return "", fmt.Errorf("look up existing entry: %w", err)
	}
	if len(matches) > 0 {
		r.log.Debug("reusing indexed tool entry", "tool", name, "index_id", matches[0].ID)
		return matches[0].ID, nil
	}
	return uuid.NewString(), nil
}

// Freeze makes the registry read-only. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Names returns the registered tool names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the names of the tools whose descriptions are most similar
// to query, best first. k is clamped to [1, max select]. Index entries that
// do not belong to a registered tool are skipped.
func (r *Registry) Select(ctx context.Context, query string, k int) ([]string, error) {
	k = max(1, min(k, r.maxSelect))

	r.mu.RLock()
	empty := len(r.tools) == 0
	r.mu.RUnlock()
	if empty {
		return nil, nil
	}

	vec, err := embedder.Vector(ctx, r.embedder, "select", query)
	if err != nil {
		return nil, err
	}
	// Over-fetch so stale entries left by earlier deployments do not crowd
	// out registered tools.
	matches, err := r.index.Search(ctx, r.collection, vec, 2*k, nil)
	if err != nil {
		return nil, fmt.Errorf("select tools: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, k)
	seen := make(map[string]struct{}, k)
	for _, m := range matches {
		name := m.Payload[payloadName]
		if _, ok := r.tools[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
		if len(names) == k {
			break
		}
	}
	return names, nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (core.Tool, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.tool, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewError(core.ErrUnknownTool, "resolve", name, nil)
	}
	return e, nil
}

// Specs returns the model-facing descriptions of the named tools, in order.
func (r *Registry) Specs(names []string) ([]core.ToolSpec, error) {
	specs := make([]core.ToolSpec, 0, len(names))
	for _, name := range names {
		e, err := r.lookup(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, core.ToolSpec{
			Name:        name,
			Description: e.tool.Description(),
			InputSchema: e.tool.InputSchema(),
		})
	}
	return specs, nil
}

// Execute validates params.Input against the tool's schema and runs it.
// Validation and handler failures are reported as core.ErrToolExecution.
func (r *Registry) Execute(ctx context.Context, name string, params *core.ToolParams) (out string, err error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	if err := validateInput(e.schema, params.Input); err != nil {
		return "", core.NewError(core.ErrToolExecution, "validate", name, err)
	}

	defer func() {
		if p := recover(); p != nil {
			err = core.NewError(core.ErrToolExecution, "execute", name, fmt.Errorf("panic: %v", p))
		}
	}()
	out, err = e.tool.Execute(ctx, params)
	if err != nil {
		return "", core.NewError(core.ErrToolExecution, "execute", name, err)
	}
	return out, nil
}
