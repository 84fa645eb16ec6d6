package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-graph/logger"
)

// SimpleManager is the default Manager: similarity search for retrieval and
// keyword detection for writes.
type SimpleManager struct {
	store  Store
	config *Config
	log    *logger.Logger
}

var _ Manager = (*SimpleManager)(nil)

// NewSimpleManager creates a new SimpleManager. A nil config selects
// DefaultConfig.
func NewSimpleManager(store Store, config *Config, log *logger.Logger) *SimpleManager {
	if config == nil {
		config = DefaultConfig
	}
	return &SimpleManager{
		store:  store,
		config: config,
		log:    logger.OrNop(log).With("component", "memory.manager"),
	}
}

// Retrieve joins the texts of the most relevant fragments with newlines.
func (m *SimpleManager) Retrieve(ctx context.Context, userID string, query string) (string, error) {
	if !m.config.Enabled {
		return "", nil
	}

	fragments, err := m.store.Search(ctx, ForUser(userID), query, m.config.MaxResults)
	if err != nil {
		return "", fmt.Errorf("retrieve memory: %w", err)
	}

	texts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if float64(f.Score) < m.config.MinSimilarity {
			continue
		}
		texts = append(texts, f.Text)
	}
	m.log.Debug("retrieved memories", "user_id", userID, "query", truncateLog(query, 50), "count", len(texts))
	return strings.Join(texts, "\n"), nil
}

// Remember appends message to the user's memory when it contains a remember
// cue. The write is not undone if the rest of the turn fails.
func (m *SimpleManager) Remember(ctx context.Context, userID string, message string) (bool, error) {
	if !m.config.Enabled || !DetectRemember(message) {
		return false, nil
	}
	f, err := m.store.Append(ctx, ForUser(userID), message)
	if err != nil {
		return false, fmt.Errorf("remember: %w", err)
	}
	m.log.Info("remembered", "user_id", userID, "fragment_id", f.ID)
	return true, nil
}

// DetectRemember reports whether text asks for something to be remembered.
func DetectRemember(text string) bool {
	return strings.Contains(strings.ToLower(text), "remember")
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Config holds SimpleManager configuration.
type Config struct {
	// Enabled toggles the memory system on/off.
	Enabled bool

	// MaxResults is how many fragments Retrieve injects.
	// Default: 5
	MaxResults int

	// MinSimilarity drops fragments scoring below it [0.0-1.0].
	// Default: 0, every hit is kept.
	MinSimilarity float64
}

// DefaultConfig is used when no Config is given.
var DefaultConfig = &Config{
	Enabled:       true,
	MaxResults:    5,
	MinSimilarity: 0,
}
