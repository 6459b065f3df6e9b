package schema

import "encoding/json"

// Event type names. The dotted names are the domain write path; the
// upper-case names are the audit events emitted by the version-history layer,
// kept byte-for-byte compatible with downstream consumers.
const (
	TypeChainCreated       = "chain.created"
	TypeChainUpdated       = "chain.updated"
	TypeChainCanvasUpdated = "chain.canvas_updated"

	TypeDocumentCreated = "document.created"
	TypeDocumentUpdated = "document.updated"
	TypeDocumentDeleted = "document.deleted"

	TypeAgentCreated  = "agent.created"
	TypeAgentUpdated  = "agent.updated"
	TypeAgentExecuted = "agent.executed"

	TypeEdgeCreated = "edge.created"
	TypeEdgeUpdated = "edge.updated"
	TypeEdgeDeleted = "edge.deleted"

	TypeVersionCreated  = "DOCUMENT_VERSION_CREATED"
	TypeVersionRestored = "DOCUMENT_VERSION_RESTORED"
	TypeVersionDeleted  = "DOCUMENT_VERSION_DELETED"
	TypeBranchCreated   = "DOCUMENT_BRANCH_CREATED"
	TypeBranchMerged    = "DOCUMENT_BRANCH_MERGED"
)

var builtins = map[string]func() Payload{
	TypeChainCreated:       func() Payload { return &ChainCreated{} },
	TypeChainUpdated:       func() Payload { return &ChainUpdated{} },
	TypeChainCanvasUpdated: func() Payload { return &ChainCanvasUpdated{} },

	TypeDocumentCreated: func() Payload { return &DocumentCreated{} },
	TypeDocumentUpdated: func() Payload { return &DocumentUpdated{} },
	TypeDocumentDeleted: func() Payload { return &DocumentDeleted{} },

	TypeAgentCreated:  func() Payload { return &AgentCreated{} },
	TypeAgentUpdated:  func() Payload { return &AgentUpdated{} },
	TypeAgentExecuted: func() Payload { return &AgentExecuted{} },

	TypeEdgeCreated: func() Payload { return &EdgeCreated{} },
	TypeEdgeUpdated: func() Payload { return &EdgeUpdated{} },
	TypeEdgeDeleted: func() Payload { return &EdgeDeleted{} },

	TypeVersionCreated:  func() Payload { return &VersionCreated{} },
	TypeVersionRestored: func() Payload { return &VersionRestored{} },
	TypeVersionDeleted:  func() Payload { return &VersionDeleted{} },
	TypeBranchCreated:   func() Payload { return &BranchCreated{} },
	TypeBranchMerged:    func() Payload { return &BranchMerged{} },
}

// GenericPayload accepts any JSON object. Used for permissive prefixes.
type GenericPayload map[string]any

func (GenericPayload) Validate() error { return nil }

// === chain ===

type ChainCreated struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Canvas      json.RawMessage `json:"canvas,omitempty"`
}

func (p *ChainCreated) Validate() error {
	if p.Name == "" {
		return invalid("", FieldError{Field: "name", Reason: "required"})
	}
	return nil
}

// ChainUpdated shallow-merges its set fields over the prior state.
// Nil pointers mean "leave unchanged".
type ChainUpdated struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (p *ChainUpdated) Validate() error {
	if p.Name == nil && p.Description == nil {
		return invalid("", FieldError{Field: "payload", Reason: "at least one field must be set"})
	}
	if p.Name != nil && *p.Name == "" {
		return invalid("", FieldError{Field: "name", Reason: "must not be empty"})
	}
	return nil
}

// ChainCanvasUpdated replaces the canvas sub-field only.
type ChainCanvasUpdated struct {
	Canvas json.RawMessage `json:"canvas"`
}

func (p *ChainCanvasUpdated) Validate() error {
	if len(p.Canvas) == 0 {
		return invalid("", FieldError{Field: "canvas", Reason: "required"})
	}
	if !json.Valid(p.Canvas) {
		return invalid("", FieldError{Field: "canvas", Reason: "must be valid JSON"})
	}
	return nil
}

// === document ===

type DocumentCreated struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (p *DocumentCreated) Validate() error {
	if p.Title == "" {
		return invalid("", FieldError{Field: "title", Reason: "required"})
	}
	return nil
}

type DocumentUpdated struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

func (p *DocumentUpdated) Validate() error {
	if p.Title == nil && p.Content == nil {
		return invalid("", FieldError{Field: "payload", Reason: "at least one field must be set"})
	}
	if p.Title != nil && *p.Title == "" {
		return invalid("", FieldError{Field: "title", Reason: "must not be empty"})
	}
	return nil
}

type DocumentDeleted struct {
	Reason string `json:"reason,omitempty"`
}

func (*DocumentDeleted) Validate() error { return nil }

// === agent ===

type AgentCreated struct {
	Name   string          `json:"name"`
	Model  string          `json:"model,omitempty"`
	Prompt string          `json:"prompt,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (p *AgentCreated) Validate() error {
	if p.Name == "" {
		return invalid("", FieldError{Field: "name", Reason: "required"})
	}
	return nil
}

type AgentUpdated struct {
	Name   *string         `json:"name,omitempty"`
	Model  *string         `json:"model,omitempty"`
	Prompt *string         `json:"prompt,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (p *AgentUpdated) Validate() error {
	if p.Name == nil && p.Model == nil && p.Prompt == nil && len(p.Config) == 0 {
		return invalid("", FieldError{Field: "payload", Reason: "at least one field must be set"})
	}
	return nil
}

type AgentExecuted struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

func (p *AgentExecuted) Validate() error {
	if p.Status == "" {
		return invalid("", FieldError{Field: "status", Reason: "required"})
	}
	return nil
}

// === edges ===

type EdgeCreated struct {
	EdgeID   string `json:"edge_id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Label    string `json:"label,omitempty"`
}

func (p *EdgeCreated) Validate() error {
	var fields []FieldError
	if p.EdgeID == "" {
		fields = append(fields, FieldError{Field: "edge_id", Reason: "required"})
	}
	if p.SourceID == "" {
		fields = append(fields, FieldError{Field: "source_id", Reason: "required"})
	}
	if p.TargetID == "" {
		fields = append(fields, FieldError{Field: "target_id", Reason: "required"})
	}
	if len(fields) > 0 {
		return invalid("", fields...)
	}
	return nil
}

type EdgeUpdated struct {
	EdgeID   string  `json:"edge_id"`
	SourceID *string `json:"source_id,omitempty"`
	TargetID *string `json:"target_id,omitempty"`
	Label    *string `json:"label,omitempty"`
}

func (p *EdgeUpdated) Validate() error {
	if p.EdgeID == "" {
		return invalid("", FieldError{Field: "edge_id", Reason: "required"})
	}
	return nil
}

type EdgeDeleted struct {
	EdgeID string `json:"edge_id"`
}

func (p *EdgeDeleted) Validate() error {
	if p.EdgeID == "" {
		return invalid("", FieldError{Field: "edge_id", Reason: "required"})
	}
	return nil
}

// === version-history audit events ===

type VersionCreated struct {
	VersionID     string `json:"version_id"`
	DocumentID    string `json:"document_id"`
	VersionNumber int    `json:"version_number"`
	Description   string `json:"description,omitempty"`
	IsAutoSaved   bool   `json:"is_auto_saved,omitempty"`
}

func (p *VersionCreated) Validate() error {
	var fields []FieldError
	if p.VersionID == "" {
		fields = append(fields, FieldError{Field: "version_id", Reason: "required"})
	}
	if p.DocumentID == "" {
		fields = append(fields, FieldError{Field: "document_id", Reason: "required"})
	}
	if p.VersionNumber < 1 {
		fields = append(fields, FieldError{Field: "version_number", Reason: "must be >= 1"})
	}
	if len(fields) > 0 {
		return invalid("", fields...)
	}
	return nil
}

type VersionRestored struct {
	DocumentID            string `json:"document_id"`
	RestoredFromVersionID string `json:"restored_from_version_id"`
	NewVersionID          string `json:"new_version_id"`
}

func (p *VersionRestored) Validate() error {
	var fields []FieldError
	if p.DocumentID == "" {
		fields = append(fields, FieldError{Field: "document_id", Reason: "required"})
	}
	if p.RestoredFromVersionID == "" {
		fields = append(fields, FieldError{Field: "restored_from_version_id", Reason: "required"})
	}
	if p.NewVersionID == "" {
		fields = append(fields, FieldError{Field: "new_version_id", Reason: "required"})
	}
	if len(fields) > 0 {
		return invalid("", fields...)
	}
	return nil
}

type VersionDeleted struct {
	DocumentID string `json:"document_id"`
	VersionID  string `json:"version_id"`
}

func (p *VersionDeleted) Validate() error {
	if p.VersionID == "" {
		return invalid("", FieldError{Field: "version_id", Reason: "required"})
	}
	return nil
}

type BranchCreated struct {
	SourceDocumentID string `json:"source_document_id"`
	BranchDocumentID string `json:"branch_document_id"`
	BaseVersionID    string `json:"base_version_id"`
	BranchName       string `json:"branch_name"`
}

func (p *BranchCreated) Validate() error {
	var fields []FieldError
	if p.SourceDocumentID == "" {
		fields = append(fields, FieldError{Field: "source_document_id", Reason: "required"})
	}
	if p.BranchDocumentID == "" {
		fields = append(fields, FieldError{Field: "branch_document_id", Reason: "required"})
	}
	if p.BaseVersionID == "" {
		fields = append(fields, FieldError{Field: "base_version_id", Reason: "required"})
	}
	if len(fields) > 0 {
		return invalid("", fields...)
	}
	return nil
}

type BranchMerged struct {
	MainDocumentID   string `json:"main_document_id"`
	BranchDocumentID string `json:"branch_document_id"`
	NewVersionID     string `json:"new_version_id"`
	Strategy         string `json:"strategy"`
}

func (p *BranchMerged) Validate() error {
	var fields []FieldError
	if p.MainDocumentID == "" {
		fields = append(fields, FieldError{Field: "main_document_id", Reason: "required"})
	}
	if p.BranchDocumentID == "" {
		fields = append(fields, FieldError{Field: "branch_document_id", Reason: "required"})
	}
	if len(fields) > 0 {
		return invalid("", fields...)
	}
	return nil
}
