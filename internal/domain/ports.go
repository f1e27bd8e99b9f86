package domain

import "context"

// StoredLayout is a layout as persisted, before base-field healing.
// Found is false when the associate type has never been saved.
type StoredLayout struct {
	Layout Layout
	Found  bool
}

type FormRepository interface {
	ListFields(ctx context.Context) ([]FieldDefinition, error)
	GetField(ctx context.Context, id uint) (FieldDefinition, error)
	CreateField(ctx context.Context, value FieldDefinition) (FieldDefinition, error)
	FieldNameTaken(ctx context.Context, fieldName string) (bool, error)
	FieldUsage(ctx context.Context, id uint) ([]AssociateType, error)
	DeleteFieldCascade(ctx context.Context, id uint) error

	GetLayout(ctx context.Context, associateType AssociateType) (StoredLayout, error)
	SaveLayout(ctx context.Context, layout Layout) error

	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error)

	SchemaVersion(ctx context.Context) (int64, error)
}
