package draft

import (
	"context"
	"fmt"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Saver persists a complete layout as one atomic replace.
type Saver interface {
	SaveLayout(ctx context.Context, layout domain.Layout) error
}

type SaverFunc func(ctx context.Context, layout domain.Layout) error

func (fn SaverFunc) SaveLayout(ctx context.Context, layout domain.Layout) error {
	return fn(ctx, layout)
}

// Operation is one editor action bound to its arguments.
type Operation func(e *Engine, layout domain.Layout) (domain.Layout, Outcome)

func Place(field domain.FieldDefinition, stepIndex int) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.PlaceField(l, field, stepIndex) }
}

func InsertStepAt(atIndex int) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.InsertStep(l, atIndex) }
}

func DropStep(stepID string) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.RemoveStep(l, stepID) }
}

func Reorder(from, to Position) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.ReorderField(l, from, to) }
}

func Move(fieldID uint, to Position) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.MoveField(l, fieldID, to) }
}

func ReorderSteps(fromIndex, toIndex int) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.ReorderStep(l, fromIndex, toIndex) }
}

func Unplace(fieldID uint) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.RemoveField(l, fieldID) }
}

func Patch(fieldID uint, patch FieldPatch) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.UpdateField(l, fieldID, patch) }
}

func Rename(stepID, title string) Operation {
	return func(e *Engine, l domain.Layout) (domain.Layout, Outcome) { return e.RenameStep(l, stepID, title) }
}

// Session is one admin's editing session over a single associate type. It is
// not safe for concurrent use.
type Session struct {
	engine *Engine
	draft  domain.Layout
	saved  domain.Layout
}

// NewSession starts editing from a freshly loaded layout.
func NewSession(engine *Engine, loaded domain.Layout) *Session {
	return &Session{engine: engine, draft: Clone(loaded), saved: Clone(loaded)}
}

func (s *Session) Draft() domain.Layout { return Clone(s.draft) }
func (s *Session) LastSaved() domain.Layout { return Clone(s.saved) }

func (s *Session) Apply(op Operation) Outcome {
	next, out := op(s.engine, s.draft)
	if out.Applied {
		s.draft = next
	}
	return out
}

func (s *Session) Dirty() bool {
	return IsDirty(s.draft, s.saved)
}

// Changes describes the pending edits as a structural diff.
func (s *Session) Changes() string {
	return cmp.Diff(s.saved, s.draft, cmpopts.EquateEmpty())
}

// Revert drops every edit since the last successful commit.
func (s *Session) Revert() {
	s.draft = Clone(s.saved)
}

// Commit hands the whole draft to saver. On failure the draft is kept as is,
// still dirty, so the caller can retry.
func (s *Session) Commit(ctx context.Context, saver Saver) error {
	if err := saver.SaveLayout(ctx, Clone(s.draft)); err != nil {
		return fmt.Errorf("commit layout %s: %w", s.draft.AssociateType, err)
	}
	s.saved = Clone(s.draft)
	return nil
}

// IsDirty reports whether draft differs structurally from lastSaved. Nil and
// empty slices compare equal.
func IsDirty(draft, lastSaved domain.Layout) bool {
	return !cmp.Equal(draft, lastSaved, cmpopts.EquateEmpty())
}
