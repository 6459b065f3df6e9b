package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/factlog-go/core/eventlog"
	"github.com/codewandler/factlog-go/core/schema"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *Manager, *eventlog.Log) {
	t.Helper()
	m, audit := newTestManager(t)
	return NewCoordinator(m), m, audit
}

func TestCoordinator_CreateBranch(t *testing.T) {
	c, m, audit := newTestCoordinator(t)

	base, err := m.CreateVersion(t.Context(), "doc-1", "base content", "", "user-1", false, "")
	require.NoError(t, err)
	_, err = m.CreateVersion(t.Context(), "doc-1", "newer content", "", "user-1", false, base.ID)
	require.NoError(t, err)

	first, err := c.CreateBranch(t.Context(), "doc-1", base.ID, "experiment", "user-1")
	require.NoError(t, err)

	assert.NotEqual(t, "doc-1", first.DocumentID, "a branch is a new document")
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "base content", first.Content, "branch starts at the base version, not the head")
	assert.Equal(t, base.ID, first.ParentVersionID)
	assert.Equal(t, "doc-1", first.OriginDocumentID)
	assert.Equal(t, base.ID, first.BaseVersionID)
	assert.Contains(t, first.Description, "experiment")

	// the fork is recorded on the source document's stream
	assert.Contains(t, auditTypes(t, audit, "doc-1"), schema.TypeBranchCreated)

	// main document's history is untouched
	versions, err := m.Versions(t.Context(), "doc-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
}

func TestCoordinator_CreateBranchWrongDocument(t *testing.T) {
	c, m, _ := newTestCoordinator(t)

	other, err := m.CreateVersion(t.Context(), "doc-2", "elsewhere", "", "user-1", false, "")
	require.NoError(t, err)

	_, err = c.CreateBranch(t.Context(), "doc-1", other.ID, "experiment", "user-1")
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestCoordinator_MergeTheirs(t *testing.T) {
	c, m, audit := newTestCoordinator(t)

	base, err := m.CreateVersion(t.Context(), "main", "main content", "", "user-1", false, "")
	require.NoError(t, err)
	branch, err := c.CreateBranch(t.Context(), "main", base.ID, "feature", "user-1")
	require.NoError(t, err)
	_, err = m.CreateVersion(t.Context(), branch.DocumentID, "branch content", "", "user-1", false, branch.ID)
	require.NoError(t, err)

	mergedID, err := c.MergeBranch(t.Context(), "main", branch.DocumentID, "user-1", StrategyTheirs)
	require.NoError(t, err)

	merged, err := m.Version(t.Context(), mergedID)
	require.NoError(t, err)
	assert.Equal(t, "main", merged.DocumentID)
	assert.Equal(t, "branch content", merged.Content)
	assert.Equal(t, base.ID, merged.ParentVersionID, "merge version parents on main's head")
	assert.Equal(t, 2, merged.Number)

	assert.Contains(t, auditTypes(t, audit, "main"), schema.TypeBranchMerged)
}

func TestCoordinator_MergeOurs(t *testing.T) {
	c, m, _ := newTestCoordinator(t)

	base, err := m.CreateVersion(t.Context(), "main", "main content", "", "user-1", false, "")
	require.NoError(t, err)
	branch, err := c.CreateBranch(t.Context(), "main", base.ID, "feature", "user-1")
	require.NoError(t, err)
	_, err = m.CreateVersion(t.Context(), branch.DocumentID, "branch content", "", "user-1", false, branch.ID)
	require.NoError(t, err)

	mergedID, err := c.MergeBranch(t.Context(), "main", branch.DocumentID, "user-1", StrategyOurs)
	require.NoError(t, err)

	merged, err := m.Version(t.Context(), mergedID)
	require.NoError(t, err)
	assert.Equal(t, "main content", merged.Content)
}

func TestCoordinator_MergeManual(t *testing.T) {
	c, m, _ := newTestCoordinator(t)

	base, err := m.CreateVersion(t.Context(), "main", "main content", "", "user-1", false, "")
	require.NoError(t, err)
	branch, err := c.CreateBranch(t.Context(), "main", base.ID, "feature", "user-1")
	require.NoError(t, err)
	_, err = m.CreateVersion(t.Context(), branch.DocumentID, "branch content", "", "user-1", false, branch.ID)
	require.NoError(t, err)

	// empty strategy defaults to manual
	mergedID, err := c.MergeBranch(t.Context(), "main", branch.DocumentID, "user-1", "")
	require.NoError(t, err)

	merged, err := m.Version(t.Context(), mergedID)
	require.NoError(t, err)
	want := fmt.Sprintf(
		"<<<<<<< main\n%s\n=======\n%s\n>>>>>>> branch\n",
		"main content",
		"branch content",
	)
	assert.Equal(t, want, merged.Content)
}

func TestCoordinator_MergeMissingSource(t *testing.T) {
	c, m, _ := newTestCoordinator(t)

	_, err := m.CreateVersion(t.Context(), "main", "main content", "", "user-1", false, "")
	require.NoError(t, err)

	_, err = c.MergeBranch(t.Context(), "main", "missing-branch", "user-1", StrategyTheirs)
	require.ErrorIs(t, err, ErrMergeSourceMissing)

	_, err = c.MergeBranch(t.Context(), "missing-main", "main", "user-1", StrategyTheirs)
	require.ErrorIs(t, err, ErrMergeSourceMissing)
}

func TestCoordinator_MergeUnknownStrategy(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	_, err := c.MergeBranch(t.Context(), "main", "branch", "user-1", Strategy("rebase"))
	require.Error(t, err)
}
