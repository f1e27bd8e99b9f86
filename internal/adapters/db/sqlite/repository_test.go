package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func openTestRepo(t *testing.T) (context.Context, *FormRepository) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "formlayout_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return ctx, NewFormRepository(db)
}

func baseFields(t *testing.T, ctx context.Context, repo *FormRepository) map[string]domain.FieldDefinition {
	t.Helper()
	fields, err := repo.ListFields(ctx)
	if err != nil {
		t.Fatalf("list fields: %v", err)
	}
	out := make(map[string]domain.FieldDefinition)
	for _, f := range fields {
		if f.IsBaseField {
			out[f.FieldName] = f
		}
	}
	return out
}

var ignoreTimestamps = cmpopts.IgnoreFields(domain.FieldDefinition{}, "CreatedAt")

func TestMigrationsSeedBaseFields(t *testing.T) {
	ctx, repo := openTestRepo(t)

	base := baseFields(t, ctx, repo)
	for _, name := range []string{"full_name", "cpf", "phone"} {
		f, ok := base[name]
		if !ok {
			t.Fatalf("base field %s not seeded", name)
		}
		if f.IsDeletable || f.FieldType != domain.FieldShortText {
			t.Fatalf("unexpected seeded field: %+v", f)
		}
	}
}

func TestSaveAndGetLayoutRoundTrip(t *testing.T) {
	ctx, repo := openTestRepo(t)
	base := baseFields(t, ctx, repo)

	condition, err := repo.CreateField(ctx, domain.FieldDefinition{
		FieldName:   "condition_1",
		Label:       "Condition",
		FieldType:   domain.FieldSingleSelect,
		IsDeletable: true,
		Options:     []string{"Epilepsy", "Chronic pain"},
	})
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	notes, err := repo.CreateField(ctx, domain.FieldDefinition{FieldName: "notes_1", Label: "Notes", FieldType: domain.FieldLongText, IsDeletable: true})
	if err != nil {
		t.Fatalf("create field: %v", err)
	}

	value := "Epilepsy"
	layout := domain.Layout{
		AssociateType: "patient",
		Steps: []domain.FormStep{
			{ID: "s-1", Title: "Identification", StepOrder: 0, Fields: []domain.LayoutField{
				{FieldDefinition: base["full_name"], DisplayOrder: 0, IsRequired: true},
				{FieldDefinition: base["cpf"], DisplayOrder: 1, IsRequired: true},
				{FieldDefinition: base["phone"], DisplayOrder: 2, IsRequired: true},
			}},
			{ID: "s-2", Title: "Clinical", StepOrder: 1, Fields: []domain.LayoutField{
				{FieldDefinition: condition, DisplayOrder: 0, IsRequired: true},
				{FieldDefinition: notes, DisplayOrder: 1, VisibilityConditions: &domain.VisibilityConditions{
					Relation: domain.RelationAnd,
					Rules:    []domain.ConditionRule{{TargetFieldName: condition.FieldName, Operator: domain.OpEquals, Value: &value}},
				}},
			}},
		},
	}
	if err := repo.SaveLayout(ctx, layout); err != nil {
		t.Fatalf("save layout: %v", err)
	}

	stored, err := repo.GetLayout(ctx, "patient")
	if err != nil {
		t.Fatalf("get layout: %v", err)
	}
	if !stored.Found {
		t.Fatalf("expected stored layout")
	}
	if diff := cmp.Diff(layout, stored.Layout, ignoreTimestamps); diff != "" {
		t.Fatalf("round trip mismatch (-saved +loaded):\n%s", diff)
	}

	layout.Steps = layout.Steps[:1]
	if err := repo.SaveLayout(ctx, layout); err != nil {
		t.Fatalf("save shrunk layout: %v", err)
	}
	stored, err = repo.GetLayout(ctx, "patient")
	if err != nil {
		t.Fatalf("get layout: %v", err)
	}
	if len(stored.Layout.Steps) != 1 || stored.Layout.FieldCount() != 3 {
		t.Fatalf("save must replace the previous layout, got %+v", stored.Layout)
	}

	other, err := repo.GetLayout(ctx, "guardian")
	if err != nil {
		t.Fatalf("get other layout: %v", err)
	}
	if other.Found || len(other.Layout.Steps) != 0 {
		t.Fatalf("unsaved type must come back empty, got %+v", other)
	}
}

func TestSaveLayoutIsAllOrNothing(t *testing.T) {
	ctx, repo := openTestRepo(t)
	base := baseFields(t, ctx, repo)

	good := domain.Layout{AssociateType: "guardian", Steps: []domain.FormStep{
		{ID: "s-1", Title: "Step 1", Fields: []domain.LayoutField{
			{FieldDefinition: base["full_name"], IsRequired: true},
		}},
	}}
	if err := repo.SaveLayout(ctx, good); err != nil {
		t.Fatalf("save layout: %v", err)
	}

	bad := domain.Layout{AssociateType: "guardian", Steps: []domain.FormStep{
		{ID: "s-9", Title: "Other", Fields: []domain.LayoutField{
			{FieldDefinition: base["cpf"], IsRequired: true},
			{FieldDefinition: domain.FieldDefinition{ID: 9999, FieldName: "ghost"}, DisplayOrder: 1},
		}},
	}}
	err := repo.SaveLayout(ctx, bad)
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict for a missing field, got %v", err)
	}

	stored, err := repo.GetLayout(ctx, "guardian")
	if err != nil {
		t.Fatalf("get layout: %v", err)
	}
	if len(stored.Layout.Steps) != 1 || stored.Layout.Steps[0].ID != "s-1" || stored.Layout.FieldCount() != 1 {
		t.Fatalf("failed save must leave the previous layout, got %+v", stored.Layout)
	}
}

func TestDeleteFieldCascade(t *testing.T) {
	ctx, repo := openTestRepo(t)
	base := baseFields(t, ctx, repo)

	extra, err := repo.CreateField(ctx, domain.FieldDefinition{FieldName: "email_1", Label: "Email", FieldType: domain.FieldEmail, IsDeletable: true})
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	for _, associateType := range []domain.AssociateType{"patient", "collaborator"} {
		layout := domain.Layout{AssociateType: associateType, Steps: []domain.FormStep{
			{ID: "s-1", Title: "Step 1", Fields: []domain.LayoutField{
				{FieldDefinition: base["full_name"], DisplayOrder: 0, IsRequired: true},
				{FieldDefinition: extra, DisplayOrder: 1},
				{FieldDefinition: base["cpf"], DisplayOrder: 2, IsRequired: true},
			}},
		}}
		if err := repo.SaveLayout(ctx, layout); err != nil {
			t.Fatalf("save %s: %v", associateType, err)
		}
	}

	usage, err := repo.FieldUsage(ctx, extra.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if diff := cmp.Diff([]domain.AssociateType{"collaborator", "patient"}, usage); diff != "" {
		t.Fatalf("unexpected usage (-want +got):\n%s", diff)
	}

	if err := repo.DeleteFieldCascade(ctx, extra.ID); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}

	stored, err := repo.GetLayout(ctx, "patient")
	if err != nil {
		t.Fatalf("get layout: %v", err)
	}
	fields := stored.Layout.Steps[0].Fields
	if len(fields) != 2 || fields[0].FieldName != "full_name" || fields[1].FieldName != "cpf" {
		t.Fatalf("unexpected fields after cascade: %+v", fields)
	}
	if fields[1].DisplayOrder != 1 {
		t.Fatalf("display order gap left behind: %d", fields[1].DisplayOrder)
	}

	if _, err := repo.GetField(ctx, extra.ID); !domain.IsNotFound(err) {
		t.Fatalf("deleted field still resolvable: %v", err)
	}
	taken, err := repo.FieldNameTaken(ctx, "email_1")
	if err != nil {
		t.Fatalf("name taken: %v", err)
	}
	if !taken {
		t.Fatalf("deleted field name must stay reserved")
	}
	if err := repo.DeleteFieldCascade(ctx, extra.ID); !domain.IsNotFound(err) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestAuditLogsNewestFirst(t *testing.T) {
	ctx, repo := openTestRepo(t)

	for _, action := range []string{"field.create", "layout.save"} {
		if err := repo.CreateAuditLog(ctx, domain.AuditLog{Action: action, TargetType: "test", TargetKey: "k", Metadata: "{}"}); err != nil {
			t.Fatalf("create audit log: %v", err)
		}
	}
	logs, err := repo.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "layout.save" {
		t.Fatalf("unexpected audit order: %+v", logs)
	}
}

func TestSchemaVersionAfterMigrations(t *testing.T) {
	ctx, repo := openTestRepo(t)

	version, err := repo.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
}
