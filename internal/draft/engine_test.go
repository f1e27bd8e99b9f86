package draft

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/google/go-cmp/cmp"
)

var (
	fullName   = domain.FieldDefinition{ID: 1, FieldName: "full_name", Label: "Full name", FieldType: domain.FieldShortText, IsBaseField: true}
	cpf        = domain.FieldDefinition{ID: 2, FieldName: "cpf", Label: "CPF", FieldType: domain.FieldShortText, IsBaseField: true}
	nickname   = domain.FieldDefinition{ID: 3, FieldName: "nickname", Label: "Nickname", FieldType: domain.FieldShortText, IsDeletable: true}
	diagnosis  = domain.FieldDefinition{ID: 4, FieldName: "diagnosis", Label: "Diagnosis", FieldType: domain.FieldLongText, IsDeletable: true}
	petSpecies = domain.FieldDefinition{ID: 5, FieldName: "pet_species", Label: "Species", FieldType: domain.FieldSingleSelect, Options: []string{"dog", "cat"}, IsDeletable: true}
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("step-%d", n)
	}
}

func newEngine(opts ...Option) *Engine {
	return New(append([]Option{WithIDGenerator(sequentialIDs())}, opts...)...)
}

// twoSteps: step-a [full_name, nickname], step-b [cpf, diagnosis]
func twoSteps() domain.Layout {
	return domain.Renumber(domain.Layout{
		AssociateType: "patient",
		Steps: []domain.FormStep{
			{ID: "step-a", Title: "Step 1", Fields: []domain.LayoutField{
				{FieldDefinition: fullName, IsRequired: true},
				{FieldDefinition: nickname},
			}},
			{ID: "step-b", Title: "Step 2", Fields: []domain.LayoutField{
				{FieldDefinition: cpf, IsRequired: true},
				{FieldDefinition: diagnosis},
			}},
		},
	})
}

func fieldNames(step domain.FormStep) []string {
	out := make([]string, 0, len(step.Fields))
	for _, f := range step.Fields {
		out = append(out, f.FieldName)
	}
	return out
}

func mustHold(t *testing.T, layout domain.Layout) {
	t.Helper()
	if err := domain.CheckInvariants(layout); err != nil {
		t.Fatalf("invariant broken: %v", err)
	}
}

func TestPlaceFieldAppendsAtEnd(t *testing.T) {
	e := newEngine()
	before := twoSteps()

	after, out := e.PlaceField(before, petSpecies, 0)
	if !out.Applied {
		t.Fatalf("expected place to apply, got %+v", out)
	}
	mustHold(t, after)

	placed := after.Steps[0].Fields[2]
	if placed.ID != petSpecies.ID || placed.DisplayOrder != 2 || placed.IsRequired {
		t.Fatalf("unexpected placed field: %+v", placed)
	}
	if len(before.Steps[0].Fields) != 2 {
		t.Fatalf("input layout was mutated")
	}
}

func TestPlaceFieldKeepsOneStepPerField(t *testing.T) {
	e := newEngine()
	layout := twoSteps()

	same, out := e.PlaceField(layout, diagnosis, 0)
	if out.Refusal != RefusalAlreadyPlaced {
		t.Fatalf("expected already-placed refusal, got %+v", out)
	}
	if diff := cmp.Diff(layout, same); diff != "" {
		t.Fatalf("refused placement changed layout:\n%s", diff)
	}
}

func TestPlaceFieldBaseArrivesRequired(t *testing.T) {
	e := newEngine()
	layout := domain.Layout{Steps: []domain.FormStep{e.NewStep("")}}

	after, _ := e.PlaceField(layout, fullName, 0)
	if !after.Steps[0].Fields[0].IsRequired {
		t.Fatalf("base field must be required on placement")
	}
}

func TestPlaceFieldRefusals(t *testing.T) {
	e := newEngine()
	layout := twoSteps()

	if _, out := e.PlaceField(layout, petSpecies, 5); out.Refusal != RefusalOutOfRange {
		t.Fatalf("expected out-of-range, got %+v", out)
	}
	separator := domain.FieldDefinition{ID: 99, FieldType: domain.FieldStepSeparator}
	if _, out := e.PlaceField(layout, separator, 0); out.Refusal != RefusalNotPlaceable {
		t.Fatalf("expected not-placeable, got %+v", out)
	}
}

func TestInsertStepRenumbersAndNamesDefault(t *testing.T) {
	e := newEngine()

	after, out := e.InsertStep(twoSteps(), 1)
	if !out.Applied {
		t.Fatalf("insert refused: %+v", out)
	}
	mustHold(t, after)

	if len(after.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(after.Steps))
	}
	inserted := after.Steps[1]
	if inserted.Title != "Step 3" || inserted.ID != "step-1" || len(inserted.Fields) != 0 {
		t.Fatalf("unexpected inserted step: %+v", inserted)
	}
	if after.Steps[2].ID != "step-b" || after.Steps[2].StepOrder != 2 {
		t.Fatalf("steps after insertion point not renumbered: %+v", after.Steps[2])
	}

	again, _ := e.InsertStep(after, 3)
	if again.Steps[3].Title != "Step 4" {
		t.Fatalf("expected incrementing title, got %q", again.Steps[3].Title)
	}

	if _, out := e.InsertStep(after, 9); out.Refusal != RefusalOutOfRange {
		t.Fatalf("expected out-of-range, got %+v", out)
	}
}

func TestInsertStepUsesConfiguredPrefix(t *testing.T) {
	e := newEngine(WithStepTitlePrefix("Etapa"))
	after, _ := e.InsertStep(domain.Layout{}, 0)
	if after.Steps[0].Title != "Etapa 1" {
		t.Fatalf("unexpected title %q", after.Steps[0].Title)
	}
}

func TestRemoveStepDiscardsFields(t *testing.T) {
	e := newEngine()

	after, out := e.RemoveStep(twoSteps(), "step-a")
	if !out.Applied {
		t.Fatalf("remove refused: %+v", out)
	}
	mustHold(t, after)

	if len(after.Steps) != 1 || after.Steps[0].StepOrder != 0 {
		t.Fatalf("expected single renumbered step, got %+v", after.Steps)
	}
	if diff := cmp.Diff([]string{"cpf", "diagnosis", "full_name"}, fieldNames(after.Steps[0])); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint{nickname.ID}, out.Released); diff != "" {
		t.Fatalf("unexpected released ids (-want +got):\n%s", diff)
	}
}

func TestRemoveStepMigratePolicy(t *testing.T) {
	e := newEngine(WithStepRemoval(RemoveMigrate))

	after, out := e.RemoveStep(twoSteps(), "step-b")
	if !out.Applied || len(out.Released) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	mustHold(t, after)
	if diff := cmp.Diff([]string{"full_name", "nickname", "cpf", "diagnosis"}, fieldNames(after.Steps[0])); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}
}

func TestRemoveStepRefusesLastStep(t *testing.T) {
	e := newEngine()
	layout, _ := e.RemoveStep(twoSteps(), "step-b")

	same, out := e.RemoveStep(layout, layout.Steps[0].ID)
	if out.Refusal != RefusalLastStep || out.Message() == "" {
		t.Fatalf("expected last-step refusal, got %+v", out)
	}
	if len(same.Steps) != 1 {
		t.Fatalf("refusal must not change the layout")
	}
	if _, out := e.RemoveStep(layout, "nope"); out.Refusal != RefusalUnknownStep {
		t.Fatalf("expected unknown-step, got %+v", out)
	}
}

func TestReorderFieldWithinStep(t *testing.T) {
	e := newEngine()

	after, out := e.ReorderField(twoSteps(), Position{0, 1}, Position{0, 0})
	if !out.Applied {
		t.Fatalf("reorder refused: %+v", out)
	}
	mustHold(t, after)
	if diff := cmp.Diff([]string{"nickname", "full_name"}, fieldNames(after.Steps[0])); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestReorderFieldAcrossSteps(t *testing.T) {
	e := newEngine()

	after, out := e.ReorderField(twoSteps(), Position{1, 1}, Position{0, 1})
	if !out.Applied {
		t.Fatalf("reorder refused: %+v", out)
	}
	mustHold(t, after)
	if diff := cmp.Diff([]string{"full_name", "diagnosis", "nickname"}, fieldNames(after.Steps[0])); diff != "" {
		t.Fatalf("destination (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cpf"}, fieldNames(after.Steps[1])); diff != "" {
		t.Fatalf("source (-want +got):\n%s", diff)
	}

	end, _ := e.ReorderField(twoSteps(), Position{0, 0}, Position{1, 2})
	mustHold(t, end)
	if diff := cmp.Diff([]string{"cpf", "diagnosis", "full_name"}, fieldNames(end.Steps[1])); diff != "" {
		t.Fatalf("append to end (-want +got):\n%s", diff)
	}
}

func TestReorderFieldOutOfRange(t *testing.T) {
	e := newEngine()
	layout := twoSteps()

	cases := []struct{ from, to Position }{
		{Position{2, 0}, Position{0, 0}},
		{Position{0, 5}, Position{0, 0}},
		{Position{0, 0}, Position{3, 0}},
		{Position{0, 0}, Position{0, 2}},
		{Position{0, 0}, Position{1, 3}},
	}
	for _, tc := range cases {
		if _, out := e.ReorderField(layout, tc.from, tc.to); out.Refusal != RefusalOutOfRange {
			t.Fatalf("%+v -> %+v: expected out-of-range, got %+v", tc.from, tc.to, out)
		}
	}
}

func TestMoveFieldByID(t *testing.T) {
	e := newEngine()
	after, out := e.MoveField(twoSteps(), cpf.ID, Position{0, 0})
	if !out.Applied {
		t.Fatalf("move refused: %+v", out)
	}
	if after.Steps[0].Fields[0].ID != cpf.ID {
		t.Fatalf("cpf not moved: %+v", after.Steps[0])
	}
	if _, out := e.MoveField(twoSteps(), 77, Position{0, 0}); out.Refusal != RefusalUnknownField {
		t.Fatalf("expected unknown-field, got %+v", out)
	}
}

func TestReorderStep(t *testing.T) {
	e := newEngine()
	layout, _ := e.InsertStep(twoSteps(), 2)

	after, out := e.ReorderStep(layout, 0, 2)
	if !out.Applied {
		t.Fatalf("reorder refused: %+v", out)
	}
	mustHold(t, after)
	ids := []string{after.Steps[0].ID, after.Steps[1].ID, after.Steps[2].ID}
	if diff := cmp.Diff([]string{"step-b", "step-1", "step-a"}, ids); diff != "" {
		t.Fatalf("unexpected step order (-want +got):\n%s", diff)
	}

	if _, out := e.ReorderStep(layout, 0, 3); out.Refusal != RefusalOutOfRange {
		t.Fatalf("expected out-of-range, got %+v", out)
	}
}

func TestRemoveField(t *testing.T) {
	e := newEngine()

	after, out := e.RemoveField(twoSteps(), nickname.ID)
	if !out.Applied {
		t.Fatalf("remove refused: %+v", out)
	}
	mustHold(t, after)
	if si, _ := after.Locate(nickname.ID); si >= 0 {
		t.Fatalf("nickname still placed")
	}

	same, out := e.RemoveField(twoSteps(), fullName.ID)
	if out.Refusal != RefusalBaseField {
		t.Fatalf("expected base-field refusal, got %+v", out)
	}
	if si, _ := same.Locate(fullName.ID); si < 0 {
		t.Fatalf("base field removed")
	}
}

func TestUpdateFieldNeverUnrequiresBaseFields(t *testing.T) {
	e := newEngine()
	no := false
	yes := true
	layout := twoSteps()

	for i := 0; i < 3; i++ {
		var out Outcome
		layout, out = e.UpdateField(layout, fullName.ID, FieldPatch{IsRequired: &no})
		if out.Refused() {
			t.Fatalf("un-requiring a base field must be silent, got %+v", out)
		}
	}
	si, fi := layout.Locate(fullName.ID)
	if !layout.Steps[si].Fields[fi].IsRequired {
		t.Fatalf("base field lost required flag")
	}

	layout, out := e.UpdateField(layout, diagnosis.ID, FieldPatch{IsRequired: &yes})
	if !out.Applied {
		t.Fatalf("expected diagnosis update to apply")
	}
	si, fi = layout.Locate(diagnosis.ID)
	if !layout.Steps[si].Fields[fi].IsRequired {
		t.Fatalf("diagnosis not required")
	}
}

func TestUpdateFieldVisibility(t *testing.T) {
	e := newEngine()
	value := "dog"
	conditions := &domain.VisibilityConditions{
		Rules: []domain.ConditionRule{{TargetFieldName: "pet_species", Operator: domain.OpEquals, Value: &value}},
	}

	after, out := e.UpdateField(twoSteps(), diagnosis.ID, FieldPatch{VisibilityConditions: conditions})
	if !out.Applied {
		t.Fatalf("update refused: %+v", out)
	}
	si, fi := after.Locate(diagnosis.ID)
	got := after.Steps[si].Fields[fi].VisibilityConditions
	if got == nil || got.Relation != domain.RelationAnd {
		t.Fatalf("expected relation defaulted to AND, got %+v", got)
	}
	value = "cat"
	if *got.Rules[0].Value != "dog" {
		t.Fatalf("patch aliasing leaked into layout")
	}

	dog := "dog"
	same := &domain.VisibilityConditions{
		Relation: domain.RelationAnd,
		Rules:    []domain.ConditionRule{{TargetFieldName: "pet_species", Operator: domain.OpEquals, Value: &dog}},
	}
	if again, out := e.UpdateField(after, diagnosis.ID, FieldPatch{VisibilityConditions: same}); out.Applied || IsDirty(again, after) {
		t.Fatalf("identical conditions must not count as a change: %+v", out)
	}
	if _, out := e.UpdateField(twoSteps(), diagnosis.ID, FieldPatch{VisibilityConditions: &domain.VisibilityConditions{}}); out.Applied {
		t.Fatalf("empty conditions on an always-visible field must not apply")
	}

	cleared, out := e.UpdateField(after, diagnosis.ID, FieldPatch{ClearVisibility: true})
	if !out.Applied || cleared.Steps[si].Fields[fi].VisibilityConditions != nil {
		t.Fatalf("expected visibility cleared")
	}
}

func TestRenameStep(t *testing.T) {
	e := newEngine()
	after, out := e.RenameStep(twoSteps(), "step-b", "Clinical history")
	if !out.Applied || after.Steps[1].Title != "Clinical history" {
		t.Fatalf("rename failed: %+v", out)
	}
	if _, out := e.RenameStep(twoSteps(), "step-b", "  "); out.Applied {
		t.Fatalf("blank rename must be ignored")
	}
}

func TestAvailableFields(t *testing.T) {
	catalog := []domain.FieldDefinition{fullName, cpf, nickname, diagnosis, petSpecies}
	got := AvailableFields(twoSteps(), catalog)
	if len(got) != 1 || got[0].ID != petSpecies.ID {
		t.Fatalf("unexpected palette: %+v", got)
	}
}

type flakySaver struct {
	fail  bool
	calls []domain.Layout
}

func (s *flakySaver) SaveLayout(_ context.Context, layout domain.Layout) error {
	s.calls = append(s.calls, layout)
	if s.fail {
		return errors.New("storage unavailable")
	}
	return nil
}

func TestSessionDirtyCommitAndRetry(t *testing.T) {
	e := newEngine()
	session := NewSession(e, twoSteps())
	if session.Dirty() {
		t.Fatalf("fresh session must be clean")
	}

	if out := session.Apply(Place(petSpecies, 1)); !out.Applied {
		t.Fatalf("place refused: %+v", out)
	}
	if !session.Dirty() || session.Changes() == "" {
		t.Fatalf("expected dirty session after placement")
	}

	saver := &flakySaver{fail: true}
	if err := session.Commit(context.Background(), saver); err == nil {
		t.Fatalf("expected commit failure")
	}
	if !session.Dirty() {
		t.Fatalf("failed commit must leave the draft dirty")
	}
	pending := session.Draft()

	saver.fail = false
	if err := session.Commit(context.Background(), saver); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if session.Dirty() {
		t.Fatalf("session must be clean after commit")
	}
	if diff := cmp.Diff(saver.calls[0], saver.calls[1]); diff != "" {
		t.Fatalf("retry must resend the same layout:\n%s", diff)
	}
	if diff := cmp.Diff(pending, session.LastSaved()); diff != "" {
		t.Fatalf("last saved differs from committed draft:\n%s", diff)
	}
}

func TestSessionRefusedOperationKeepsDraft(t *testing.T) {
	session := NewSession(newEngine(), twoSteps())
	if out := session.Apply(Unplace(fullName.ID)); out.Refusal != RefusalBaseField {
		t.Fatalf("expected base-field refusal, got %+v", out)
	}
	if session.Dirty() {
		t.Fatalf("refusal must not dirty the session")
	}

	session.Apply(Unplace(nickname.ID))
	session.Revert()
	if session.Dirty() {
		t.Fatalf("revert must restore the saved layout")
	}
}

func TestParseStepRemovalPolicy(t *testing.T) {
	if p, err := ParseStepRemovalPolicy(""); err != nil || p != RemoveDiscard {
		t.Fatalf("empty policy should default to discard, got %q %v", p, err)
	}
	if p, err := ParseStepRemovalPolicy("MIGRATE"); err != nil || p != RemoveMigrate {
		t.Fatalf("expected migrate, got %q %v", p, err)
	}
	if _, err := ParseStepRemovalPolicy("keep"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
