package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/factlog-go/core/schema"
)

// Strategy selects how MergeBranch resolves content.
type Strategy string

const (
	// StrategyTheirs takes the branch's latest content.
	StrategyTheirs Strategy = "theirs"
	// StrategyOurs keeps the main document's latest content.
	StrategyOurs Strategy = "ours"
	// StrategyManual concatenates both sides between conflict markers for a
	// human to resolve. No line-level conflict resolution is attempted.
	StrategyManual Strategy = "manual"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyTheirs, StrategyOurs, StrategyManual:
		return true
	}
	return false
}

// Coordinator forks documents into branches and folds branches back in.
// A branch is not a stored type of its own: it is a new document whose first
// version points at the base version in the source document, with the origin
// pair persisted on that first version so the relationship is queryable.
type Coordinator struct {
	log *slog.Logger
	mgr *Manager
}

// NewCoordinator creates a Coordinator on top of mgr.
func NewCoordinator(mgr *Manager, opts ...ManagerOption) *Coordinator {
	options := managerOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Coordinator{
		log: options.log.With(slog.String("component", "branch")),
		mgr: mgr,
	}
}

// CreateBranch forks the document at baseVersionID into a new branch
// document seeded with the base version's content. Returns the branch
// document's first version. Appends DOCUMENT_BRANCH_CREATED to the source
// document's stream.
func (c *Coordinator) CreateBranch(
	ctx context.Context,
	documentID string,
	baseVersionID string,
	branchName string,
	userID string,
) (*Version, error) {
	base, err := c.mgr.store.Get(ctx, baseVersionID)
	if err != nil {
		return nil, fmt.Errorf("base version %s: %w", baseVersionID, err)
	}
	if base.DocumentID != documentID {
		return nil, fmt.Errorf("base version %s: %w", baseVersionID, ErrVersionNotFound)
	}

	branchDocID := c.mgr.newID()
	first, err := c.mgr.create(ctx, &Version{
		DocumentID:       branchDocID,
		Content:          base.Content,
		Description:      fmt.Sprintf("Branch %q from version %d", branchName, base.Number),
		CreatedBy:        userID,
		ParentVersionID:  base.ID,
		OriginDocumentID: documentID,
		BaseVersionID:    base.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := c.mgr.appendAudit(ctx, documentID, userID, schema.TypeBranchCreated, &schema.BranchCreated{
		SourceDocumentID: documentID,
		BranchDocumentID: branchDocID,
		BaseVersionID:    base.ID,
		BranchName:       branchName,
	}); err != nil {
		return nil, err
	}

	c.log.Info(
		"branch created",
		slog.String("source_document_id", documentID),
		slog.String("branch_document_id", branchDocID),
		slog.String("base_version_id", base.ID),
		slog.String("name", branchName),
	)
	return first, nil
}

// MergeBranch folds the branch document's latest content back into the main
// document using the given strategy (manual when empty). Exactly one new
// version is created on the main document, parented on main's current head.
// Fails with ErrMergeSourceMissing when either document has no versions.
// Appends DOCUMENT_BRANCH_MERGED to the main document's stream.
func (c *Coordinator) MergeBranch(
	ctx context.Context,
	mainDocumentID string,
	branchDocumentID string,
	userID string,
	strategy Strategy,
) (string, error) {
	if strategy == "" {
		strategy = StrategyManual
	}
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown merge strategy %q", strategy)
	}

	mainHead, err := c.mgr.store.Latest(ctx, mainDocumentID)
	if err != nil {
		return "", c.mergeSourceErr("main", mainDocumentID, err)
	}
	branchHead, err := c.mgr.store.Latest(ctx, branchDocumentID)
	if err != nil {
		return "", c.mergeSourceErr("branch", branchDocumentID, err)
	}

	var merged string
	switch strategy {
	case StrategyTheirs:
		merged = branchHead.Content
	case StrategyOurs:
		merged = mainHead.Content
	case StrategyManual:
		// conflict markers only; resolution is a human follow-up
		merged = fmt.Sprintf(
			"<<<<<<< main\n%s\n=======\n%s\n>>>>>>> branch\n",
			mainHead.Content,
			branchHead.Content,
		)
	}

	v, err := c.mgr.create(ctx, &Version{
		DocumentID:      mainDocumentID,
		Content:         merged,
		Description:     fmt.Sprintf("Merged branch %s (strategy: %s)", branchDocumentID, strategy),
		CreatedBy:       userID,
		ParentVersionID: mainHead.ID,
	})
	if err != nil {
		return "", err
	}

	if err := c.mgr.appendAudit(ctx, mainDocumentID, userID, schema.TypeBranchMerged, &schema.BranchMerged{
		MainDocumentID:   mainDocumentID,
		BranchDocumentID: branchDocumentID,
		NewVersionID:     v.ID,
		Strategy:         string(strategy),
	}); err != nil {
		return "", err
	}

	c.log.Info(
		"branch merged",
		slog.String("main_document_id", mainDocumentID),
		slog.String("branch_document_id", branchDocumentID),
		slog.String("new_version_id", v.ID),
		slog.String("strategy", string(strategy)),
	)
	return v.ID, nil
}

func (c *Coordinator) mergeSourceErr(side, documentID string, err error) error {
	if errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrVersionNotFound) {
		return fmt.Errorf("%s document %s: %w", side, documentID, ErrMergeSourceMissing)
	}
	return fmt.Errorf("%s document %s: %w", side, documentID, err)
}
