package domain

import (
	"fmt"
	"sort"
)

// Renumber rewrites stepOrder and displayOrder as dense sequences following
// the current slice order, and pins base fields to required.
func Renumber(layout Layout) Layout {
	for si := range layout.Steps {
		layout.Steps[si].StepOrder = si
		for fi := range layout.Steps[si].Fields {
			field := &layout.Steps[si].Fields[fi]
			field.DisplayOrder = fi
			if field.IsBaseField {
				field.IsRequired = true
			}
		}
	}
	return layout
}

// SortByOrder orders steps by stepOrder and fields by displayOrder, keeping
// the existing slice order for ties.
func SortByOrder(layout Layout) Layout {
	sort.SliceStable(layout.Steps, func(i, j int) bool {
		return layout.Steps[i].StepOrder < layout.Steps[j].StepOrder
	})
	for si := range layout.Steps {
		fields := layout.Steps[si].Fields
		sort.SliceStable(fields, func(i, j int) bool {
			return fields[i].DisplayOrder < fields[j].DisplayOrder
		})
	}
	return layout
}

// HealBaseFields inserts every base field of the catalog that the layout
// lacks at the top of the first step, with displayOrder -1 and required.
// The result is sorted and renumbered. A layout without steps gets one,
// created by newStep.
func HealBaseFields(layout Layout, catalog []FieldDefinition, newStep func() FormStep) Layout {
	missing := make([]LayoutField, 0)
	for _, def := range catalog {
		if !def.IsBaseField || !def.FieldType.Placeable() {
			continue
		}
		if si, _ := layout.Locate(def.ID); si >= 0 {
			continue
		}
		missing = append(missing, LayoutField{FieldDefinition: def, DisplayOrder: -1, IsRequired: true})
	}
	if len(layout.Steps) == 0 {
		layout.Steps = append(layout.Steps, newStep())
	}
	layout = SortByOrder(layout)
	if len(missing) > 0 {
		first := layout.Steps[0].Fields
		layout.Steps[0].Fields = append(missing, first...)
	}
	return Renumber(layout)
}

// CheckInvariants reports the first structural problem in a layout: dense
// orders, one step per field, required base fields.
func CheckInvariants(layout Layout) error {
	seen := make(map[uint]int)
	for si, step := range layout.Steps {
		if step.StepOrder != si {
			return fmt.Errorf("step %q has stepOrder %d at position %d", step.ID, step.StepOrder, si)
		}
		for fi, field := range step.Fields {
			if field.DisplayOrder != fi {
				return fmt.Errorf("field %q has displayOrder %d at position %d", field.FieldName, field.DisplayOrder, fi)
			}
			if prev, ok := seen[field.ID]; ok {
				return fmt.Errorf("field %q appears in steps %d and %d", field.FieldName, prev, si)
			}
			seen[field.ID] = si
			if field.IsBaseField && !field.IsRequired {
				return fmt.Errorf("base field %q is not required", field.FieldName)
			}
		}
	}
	return nil
}

// Flatten renders a layout as one ordered list where each step opens with a
// step-separator entry: FieldName holds the step id, Label the title and
// DisplayOrder the stepOrder.
func Flatten(layout Layout) []LayoutField {
	out := make([]LayoutField, 0, layout.FieldCount()+len(layout.Steps))
	for _, step := range layout.Steps {
		out = append(out, LayoutField{
			FieldDefinition: FieldDefinition{
				FieldName: step.ID,
				Label:     step.Title,
				FieldType: FieldStepSeparator,
			},
			DisplayOrder: step.StepOrder,
		})
		out = append(out, step.Fields...)
	}
	return out
}

// Unflatten is the inverse of Flatten. Fields listed before the first
// separator open an implicit step built by newStep. List order wins over
// the carried order numbers.
func Unflatten(associateType AssociateType, items []LayoutField, newStep func() FormStep) Layout {
	layout := Layout{AssociateType: associateType, Steps: make([]FormStep, 0)}
	for _, item := range items {
		if item.FieldType == FieldStepSeparator {
			step := newStep()
			if item.FieldName != "" {
				step.ID = item.FieldName
			}
			if item.Label != "" {
				step.Title = item.Label
			}
			layout.Steps = append(layout.Steps, step)
			continue
		}
		if len(layout.Steps) == 0 {
			layout.Steps = append(layout.Steps, newStep())
		}
		last := len(layout.Steps) - 1
		layout.Steps[last].Fields = append(layout.Steps[last].Fields, item)
	}
	return Renumber(layout)
}
