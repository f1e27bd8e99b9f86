// Package wizard is the runtime side of a layout: it decides which fields an
// intake wizard renders for the current answers and which of them block a
// step from advancing.
package wizard

import (
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/visibility"
)

type FieldView struct {
	ID        uint             `json:"id"`
	FieldName string           `json:"fieldName"`
	Label     string           `json:"label"`
	FieldType domain.FieldType `json:"fieldType"`
	Options   []string         `json:"options,omitempty"`
	Required  bool             `json:"required"`
}

type StepView struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Index  int         `json:"index"`
	Fields []FieldView `json:"fields"`
}

type MissingField struct {
	StepIndex int    `json:"stepIndex"`
	FieldName string `json:"fieldName"`
	Label     string `json:"label"`
}

// Plan walks the layout in stepOrder/displayOrder sequence and keeps only
// the fields the evaluator reports visible. Steps are kept even when all of
// their fields are hidden so step indexes stay stable.
func Plan(layout domain.Layout, data visibility.Snapshot, role string, eval visibility.Evaluator) []StepView {
	if eval == nil {
		eval = visibility.Default
	}
	ordered := domain.SortByOrder(cloneOrder(layout))

	out := make([]StepView, 0, len(ordered.Steps))
	for si, step := range ordered.Steps {
		view := StepView{ID: step.ID, Title: step.Title, Index: si, Fields: make([]FieldView, 0, len(step.Fields))}
		for _, field := range step.Fields {
			if !eval.Visible(field.VisibilityConditions, data, role) {
				continue
			}
			view.Fields = append(view.Fields, FieldView{
				ID:        field.ID,
				FieldName: field.FieldName,
				Label:     field.Label,
				FieldType: field.FieldType,
				Options:   field.Options,
				Required:  field.IsRequired,
			})
		}
		out = append(out, view)
	}
	return out
}

// ValidateStep lists the required fields of one step that are visible and
// still empty. Hidden fields are never enforced.
func ValidateStep(layout domain.Layout, stepIndex int, data visibility.Snapshot, role string, eval visibility.Evaluator) []MissingField {
	plan := Plan(layout, data, role, eval)
	if stepIndex < 0 || stepIndex >= len(plan) {
		return nil
	}
	return missingIn(plan[stepIndex], data)
}

// Validate checks every step, in order.
func Validate(layout domain.Layout, data visibility.Snapshot, role string, eval visibility.Evaluator) []MissingField {
	missing := make([]MissingField, 0)
	for _, step := range Plan(layout, data, role, eval) {
		missing = append(missing, missingIn(step, data)...)
	}
	return missing
}

func missingIn(step StepView, data visibility.Snapshot) []MissingField {
	var missing []MissingField
	for _, field := range step.Fields {
		if !field.Required || !visibility.IsEmpty(data[field.FieldName]) {
			continue
		}
		missing = append(missing, MissingField{StepIndex: step.Index, FieldName: field.FieldName, Label: field.Label})
	}
	return missing
}

// cloneOrder copies the step and field slices so sorting leaves the caller's
// layout alone.
func cloneOrder(layout domain.Layout) domain.Layout {
	steps := make([]domain.FormStep, len(layout.Steps))
	for i, step := range layout.Steps {
		step.Fields = append([]domain.LayoutField(nil), step.Fields...)
		steps[i] = step
	}
	layout.Steps = steps
	return layout
}
