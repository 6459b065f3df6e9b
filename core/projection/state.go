package projection

import (
	"encoding/json"
	"time"
)

// Kind selects which materialized state a stream projects into.
type Kind string

const (
	KindChain    Kind = "chain"
	KindDocument Kind = "document"
	KindAgent    Kind = "agent"
)

func (k Kind) Valid() bool {
	switch k {
	case KindChain, KindDocument, KindAgent:
		return true
	}
	return false
}

// newState returns a zero state for the kind, or nil for unknown kinds.
func (k Kind) newState() any {
	switch k {
	case KindChain:
		return &ChainState{}
	case KindDocument:
		return &DocumentState{}
	case KindAgent:
		return &AgentState{}
	}
	return nil
}

// ChainState is the current materialization of a chain canvas stream.
type ChainState struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Canvas      json.RawMessage      `json:"canvas,omitempty"`
	Edges       map[string]EdgeState `json:"edges,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// EdgeState is one edge of a chain canvas.
type EdgeState struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Label    string `json:"label,omitempty"`
}

// DocumentState is the current materialization of a document stream.
// Version counts document.updated folds; it is independent of both the
// stream's event versions and the version-history ordinals.
type DocumentState struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentState is the current materialization of an agent stream.
type AgentState struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Model          string          `json:"model,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	Executions     int             `json:"executions"`
	LastStatus     string          `json:"last_status,omitempty"`
	LastExecutedAt time.Time       `json:"last_executed_at,omitzero"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
