// Package diff computes a human-readable segmentation of the difference
// between two version contents.
package diff

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff partitions the edit script between two texts into three buckets for
// display. The original segment order across buckets is intentionally
// discarded: this result is for side-by-side comparison only and cannot be
// used to reconstruct a patch.
type Diff struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

// Engine wraps a Myers-style text differ with a semantic-cleanup pass that
// merges small, noisy adjacent edits into more readable boundaries.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewEngine() *Engine {
	return &Engine{dmp: diffmatchpatch.New()}
}

// Diff compares a against b. Unchanged plus removed segments cover a;
// unchanged plus added segments cover b.
func (e *Engine) Diff(a, b string) Diff {
	diffs := e.dmp.DiffMain(a, b, true)
	diffs = e.dmp.DiffCleanupSemantic(diffs)

	out := Diff{
		Added:     []string{},
		Removed:   []string{},
		Unchanged: []string{},
	}
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			out.Added = append(out.Added, d.Text)
		case diffmatchpatch.DiffDelete:
			out.Removed = append(out.Removed, d.Text)
		case diffmatchpatch.DiffEqual:
			out.Unchanged = append(out.Unchanged, d.Text)
		}
	}
	return out
}
