package draft

import (
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// PlaceField appends a catalog field to the step at stepIndex. Base fields
// arrive required. A field already present anywhere in the layout is left
// where it is.
func (e *Engine) PlaceField(layout domain.Layout, field domain.FieldDefinition, stepIndex int) (domain.Layout, Outcome) {
	if !field.FieldType.Placeable() {
		return layout, refuse(RefusalNotPlaceable)
	}
	if si, _ := layout.Locate(field.ID); si >= 0 {
		return layout, refuse(RefusalAlreadyPlaced)
	}
	if stepIndex < 0 || stepIndex >= len(layout.Steps) {
		return layout, refuse(RefusalOutOfRange)
	}

	next := Clone(layout)
	step := &next.Steps[stepIndex]
	step.Fields = append(step.Fields, domain.LayoutField{
		FieldDefinition: field,
		DisplayOrder:    len(step.Fields),
		IsRequired:      field.IsBaseField,
	})
	return domain.Renumber(next), applied()
}

// InsertStep inserts an empty, default-titled step at atIndex.
func (e *Engine) InsertStep(layout domain.Layout, atIndex int) (domain.Layout, Outcome) {
	if atIndex < 0 || atIndex > len(layout.Steps) {
		return layout, refuse(RefusalOutOfRange)
	}

	next := Clone(layout)
	step := e.NewStep(e.nextStepTitle(layout))
	steps := make([]domain.FormStep, 0, len(next.Steps)+1)
	steps = append(steps, next.Steps[:atIndex]...)
	steps = append(steps, step)
	steps = append(steps, next.Steps[atIndex:]...)
	next.Steps = steps
	return domain.Renumber(next), applied()
}

// RemoveStep deletes a step according to the engine's removal policy. The
// last remaining step cannot be removed.
func (e *Engine) RemoveStep(layout domain.Layout, stepID string) (domain.Layout, Outcome) {
	index := layout.StepIndex(stepID)
	if index < 0 {
		return layout, refuse(RefusalUnknownStep)
	}
	if len(layout.Steps) == 1 {
		return layout, refuse(RefusalLastStep)
	}

	next := Clone(layout)
	removed := next.Steps[index]
	next.Steps = append(next.Steps[:index], next.Steps[index+1:]...)

	neighbour := index - 1
	if neighbour < 0 {
		neighbour = 0
	}

	out := applied()
	for _, field := range removed.Fields {
		if e.removal == RemoveMigrate || field.IsBaseField {
			next.Steps[neighbour].Fields = append(next.Steps[neighbour].Fields, field)
			continue
		}
		out.Released = append(out.Released, field.ID)
	}
	return domain.Renumber(next), out
}

// ReorderField moves a field to another position, possibly in another step.
// to.FieldIndex is the insertion index in the destination after the field
// has been taken out of its source.
func (e *Engine) ReorderField(layout domain.Layout, from, to Position) (domain.Layout, Outcome) {
	if from.StepIndex < 0 || from.StepIndex >= len(layout.Steps) {
		return layout, refuse(RefusalOutOfRange)
	}
	if from.FieldIndex < 0 || from.FieldIndex >= len(layout.Steps[from.StepIndex].Fields) {
		return layout, refuse(RefusalOutOfRange)
	}
	if to.StepIndex < 0 || to.StepIndex >= len(layout.Steps) {
		return layout, refuse(RefusalOutOfRange)
	}
	destLen := len(layout.Steps[to.StepIndex].Fields)
	if to.StepIndex == from.StepIndex {
		destLen--
	}
	if to.FieldIndex < 0 || to.FieldIndex > destLen {
		return layout, refuse(RefusalOutOfRange)
	}
	if from == to {
		return layout, unchanged()
	}

	next := Clone(layout)
	source := next.Steps[from.StepIndex].Fields
	field := source[from.FieldIndex]
	next.Steps[from.StepIndex].Fields = append(source[:from.FieldIndex], source[from.FieldIndex+1:]...)

	dest := next.Steps[to.StepIndex].Fields
	fields := make([]domain.LayoutField, 0, len(dest)+1)
	fields = append(fields, dest[:to.FieldIndex]...)
	fields = append(fields, field)
	fields = append(fields, dest[to.FieldIndex:]...)
	next.Steps[to.StepIndex].Fields = fields

	return domain.Renumber(next), applied()
}

// MoveField relocates fieldID to position to. It is ReorderField addressed
// by field id instead of source position.
func (e *Engine) MoveField(layout domain.Layout, fieldID uint, to Position) (domain.Layout, Outcome) {
	si, fi := layout.Locate(fieldID)
	if si < 0 {
		return layout, refuse(RefusalUnknownField)
	}
	return e.ReorderField(layout, Position{StepIndex: si, FieldIndex: fi}, to)
}

func (e *Engine) ReorderStep(layout domain.Layout, fromIndex, toIndex int) (domain.Layout, Outcome) {
	if fromIndex < 0 || fromIndex >= len(layout.Steps) || toIndex < 0 || toIndex >= len(layout.Steps) {
		return layout, refuse(RefusalOutOfRange)
	}
	if fromIndex == toIndex {
		return layout, unchanged()
	}

	next := Clone(layout)
	step := next.Steps[fromIndex]
	rest := append(next.Steps[:fromIndex:fromIndex], next.Steps[fromIndex+1:]...)
	steps := make([]domain.FormStep, 0, len(next.Steps))
	steps = append(steps, rest[:toIndex]...)
	steps = append(steps, step)
	steps = append(steps, rest[toIndex:]...)
	next.Steps = steps
	return domain.Renumber(next), applied()
}

// RemoveField takes a field off the canvas. Base fields stay.
func (e *Engine) RemoveField(layout domain.Layout, fieldID uint) (domain.Layout, Outcome) {
	si, fi := layout.Locate(fieldID)
	if si < 0 {
		return layout, refuse(RefusalUnknownField)
	}
	if layout.Steps[si].Fields[fi].IsBaseField {
		return layout, refuse(RefusalBaseField)
	}

	next := Clone(layout)
	fields := next.Steps[si].Fields
	next.Steps[si].Fields = append(fields[:fi], fields[fi+1:]...)
	out := applied()
	out.Released = []uint{fieldID}
	return domain.Renumber(next), out
}

// UpdateField merges a properties-panel patch. Un-requiring a base field is
// ignored without a refusal.
func (e *Engine) UpdateField(layout domain.Layout, fieldID uint, patch FieldPatch) (domain.Layout, Outcome) {
	si, fi := layout.Locate(fieldID)
	if si < 0 {
		return layout, refuse(RefusalUnknownField)
	}

	next := Clone(layout)
	field := &next.Steps[si].Fields[fi]
	changed := false

	if patch.IsRequired != nil && !(field.IsBaseField && !*patch.IsRequired) {
		if field.IsRequired != *patch.IsRequired {
			field.IsRequired = *patch.IsRequired
			changed = true
		}
	}
	if patch.ClearVisibility {
		if field.VisibilityConditions != nil {
			field.VisibilityConditions = nil
			changed = true
		}
	} else if patch.VisibilityConditions != nil {
		conditions := NormalizeConditions(deepcopyConditions(patch.VisibilityConditions))
		if !cmp.Equal(field.VisibilityConditions, conditions, cmpopts.EquateEmpty()) {
			field.VisibilityConditions = conditions
			changed = true
		}
	}

	if !changed {
		return layout, unchanged()
	}
	return domain.Renumber(next), applied()
}

func (e *Engine) RenameStep(layout domain.Layout, stepID, title string) (domain.Layout, Outcome) {
	index := layout.StepIndex(stepID)
	if index < 0 {
		return layout, refuse(RefusalUnknownStep)
	}
	title = strings.TrimSpace(title)
	if title == "" || title == layout.Steps[index].Title {
		return layout, unchanged()
	}

	next := Clone(layout)
	next.Steps[index].Title = title
	return next, applied()
}

// AvailableFields lists the placeable catalog fields not yet in the layout,
// in catalog order. This is the palette offered to the editor.
func AvailableFields(layout domain.Layout, catalog []domain.FieldDefinition) []domain.FieldDefinition {
	out := make([]domain.FieldDefinition, 0, len(catalog))
	for _, field := range catalog {
		if !field.FieldType.Placeable() {
			continue
		}
		if si, _ := layout.Locate(field.ID); si >= 0 {
			continue
		}
		out = append(out, field)
	}
	return out
}

// NormalizeConditions defaults the relation to AND and collapses a set with
// neither rules nor roles to nil, which means always visible.
func NormalizeConditions(c *domain.VisibilityConditions) *domain.VisibilityConditions {
	if c.Empty() {
		return nil
	}
	if c.Relation == "" {
		c.Relation = domain.RelationAnd
	}
	c.Relation = domain.Relation(strings.ToUpper(string(c.Relation)))
	return c
}

func deepcopyConditions(c *domain.VisibilityConditions) *domain.VisibilityConditions {
	out := *c
	out.Rules = append([]domain.ConditionRule(nil), c.Rules...)
	for i, rule := range out.Rules {
		if rule.Value != nil {
			v := *rule.Value
			out.Rules[i].Value = &v
		}
	}
	out.Roles = append([]string(nil), c.Roles...)
	return &out
}
