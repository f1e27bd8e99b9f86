package wizard

import (
	"testing"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/visibility"
	"github.com/google/go-cmp/cmp"
)

func tutorLayout() domain.Layout {
	yes := "yes"
	return domain.Layout{
		AssociateType: "animal_tutor",
		Steps: []domain.FormStep{
			{ID: "b", Title: "Pet", StepOrder: 1, Fields: []domain.LayoutField{
				{FieldDefinition: domain.FieldDefinition{ID: 4, FieldName: "pet_name", Label: "Pet name"}, DisplayOrder: 0, IsRequired: true,
					VisibilityConditions: &domain.VisibilityConditions{Roles: []string{"animal_tutor"}}},
			}},
			{ID: "a", Title: "Identification", StepOrder: 0, Fields: []domain.LayoutField{
				{FieldDefinition: domain.FieldDefinition{ID: 3, FieldName: "prescription_number", Label: "Prescription #"}, DisplayOrder: 1, IsRequired: true,
					VisibilityConditions: &domain.VisibilityConditions{Relation: domain.RelationAnd, Rules: []domain.ConditionRule{
						{TargetFieldName: "has_prescription", Operator: domain.OpEquals, Value: &yes},
					}}},
				{FieldDefinition: domain.FieldDefinition{ID: 1, FieldName: "full_name", Label: "Full name", IsBaseField: true}, DisplayOrder: 0, IsRequired: true},
				{FieldDefinition: domain.FieldDefinition{ID: 2, FieldName: "has_prescription", Label: "Has prescription?"}, DisplayOrder: 2},
			}},
		},
	}
}

func names(step StepView) []string {
	out := make([]string, 0, len(step.Fields))
	for _, f := range step.Fields {
		out = append(out, f.FieldName)
	}
	return out
}

func TestPlanOrdersAndFilters(t *testing.T) {
	layout := tutorLayout()

	plan := Plan(layout, visibility.Snapshot{"has_prescription": "no"}, "patient", nil)
	if len(plan) != 2 || plan[0].ID != "a" {
		t.Fatalf("unexpected step order: %+v", plan)
	}
	if diff := cmp.Diff([]string{"full_name", "has_prescription"}, names(plan[0])); diff != "" {
		t.Fatalf("unexpected visible fields (-want +got):\n%s", diff)
	}
	if len(plan[1].Fields) != 0 {
		t.Fatalf("tutor-only field leaked to patient: %+v", plan[1])
	}

	plan = Plan(layout, visibility.Snapshot{"has_prescription": "yes"}, "animal_tutor", nil)
	if diff := cmp.Diff([]string{"full_name", "prescription_number", "has_prescription"}, names(plan[0])); diff != "" {
		t.Fatalf("unexpected visible fields (-want +got):\n%s", diff)
	}

	if layout.Steps[0].ID != "b" {
		t.Fatalf("Plan must not reorder the caller's layout")
	}
}

func TestValidateStepSkipsHiddenFields(t *testing.T) {
	layout := tutorLayout()

	missing := ValidateStep(layout, 0, visibility.Snapshot{"has_prescription": "no"}, "patient", nil)
	want := []MissingField{{StepIndex: 0, FieldName: "full_name", Label: "Full name"}}
	if diff := cmp.Diff(want, missing); diff != "" {
		t.Fatalf("unexpected missing fields (-want +got):\n%s", diff)
	}

	missing = ValidateStep(layout, 0, visibility.Snapshot{"has_prescription": "yes", "full_name": "Ana"}, "patient", nil)
	if len(missing) != 1 || missing[0].FieldName != "prescription_number" {
		t.Fatalf("visible required field not enforced: %+v", missing)
	}

	if got := ValidateStep(layout, 7, nil, "patient", nil); got != nil {
		t.Fatalf("out of range step must validate nothing, got %+v", got)
	}
}

func TestValidateWholeLayout(t *testing.T) {
	missing := Validate(tutorLayout(), visibility.Snapshot{"full_name": "Ana"}, "animal_tutor", nil)
	if len(missing) != 1 || missing[0].FieldName != "pet_name" || missing[0].StepIndex != 1 {
		t.Fatalf("unexpected result: %+v", missing)
	}
}

func TestPlanWithCustomEvaluator(t *testing.T) {
	hideAll := visibility.EvaluatorFunc(func(*domain.VisibilityConditions, visibility.Snapshot, string) bool { return false })
	for _, step := range Plan(tutorLayout(), nil, "", hideAll) {
		if len(step.Fields) != 0 {
			t.Fatalf("custom evaluator ignored")
		}
	}
}
