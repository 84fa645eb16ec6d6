package core

import (
	"github.com/google/uuid"
)

// Node names a step of the turn state machine.
type Node string

const (
	NodeSelectTools  Node = "select_tools"
	NodeCallModel    Node = "call_model"
	NodeExecuteTools Node = "execute_tools"
	NodeDone         Node = "done"
)

// ConversationState is the unit of graph execution.
type ConversationState struct {
	// Messages only grows; use MergeMessages to add to it.
	Messages []Message `json:"messages"`

	// SelectedTools is valid only for the turn that computed it.
	SelectedTools []string `json:"selected_tools,omitempty"`

	Documents []string `json:"documents,omitempty"`
}

// MergeMessages is the single place where history updates are defined.
//
// Updates are appended in order. An update whose ID is already present is a
// replay and is dropped, the stored message is never overwritten. Updates
// without an ID are assigned a fresh one. The input slice is not modified.
func MergeMessages(existing []Message, updates ...Message) []Message {
	if len(updates) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing)+len(updates))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}
	out := make([]Message, len(existing), len(existing)+len(updates))
	copy(out, existing)
	for _, m := range updates {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Append merges msgs into the state history.
func (s *ConversationState) Append(msgs ...Message) {
	s.Messages = MergeMessages(s.Messages, msgs...)
}

// Last returns the most recent message.
func (s *ConversationState) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LatestUser returns the most recent user message.
func (s *ConversationState) LatestUser() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Answered reports whether the history already holds the result for callID.
func (s *ConversationState) Answered(callID string) (Message, bool) {
	id := ToolMessageID(callID)
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == id {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Clone returns a copy that shares no slices with s.
func (s ConversationState) Clone() ConversationState {
	out := ConversationState{
		Messages:      make([]Message, len(s.Messages)),
		SelectedTools: append([]string(nil), s.SelectedTools...),
		Documents:     append([]string(nil), s.Documents...),
	}
	for i, m := range s.Messages {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		out.Messages[i] = m
	}
	return out
}
