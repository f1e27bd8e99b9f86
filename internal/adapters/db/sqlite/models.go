package sqlite

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FieldDefinitionModel rows are soft-deleted so field_name stays reserved
// by the unique index after a field leaves the catalog.
type FieldDefinitionModel struct {
	ID          uint           `gorm:"primaryKey"`
	FieldName   string         `gorm:"uniqueIndex;not null"`
	Label       string         `gorm:"not null"`
	FieldType   string         `gorm:"not null"`
	IsBaseField bool           `gorm:"not null"`
	IsDeletable bool           `gorm:"not null"`
	Options     datatypes.JSON `gorm:"not null;default:'[]'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (FieldDefinitionModel) TableName() string { return "field_definitions" }

type LayoutStepModel struct {
	ID            uint   `gorm:"primaryKey"`
	AssociateType string `gorm:"not null;index:idx_layout_step,unique"`
	StepKey       string `gorm:"not null;index:idx_layout_step,unique"`
	Title         string `gorm:"not null"`
	StepOrder     int    `gorm:"not null"`
	CreatedAt     time.Time
}

func (LayoutStepModel) TableName() string { return "layout_steps" }

type LayoutFieldModel struct {
	ID                   uint           `gorm:"primaryKey"`
	AssociateType        string         `gorm:"not null;index:idx_layout_field,unique"`
	FieldID              uint           `gorm:"not null;index:idx_layout_field,unique"`
	StepKey              string         `gorm:"not null"`
	DisplayOrder         int            `gorm:"not null"`
	IsRequired           bool           `gorm:"not null"`
	VisibilityConditions datatypes.JSON `gorm:"not null;default:'null'"`
	CreatedAt            time.Time
}

func (LayoutFieldModel) TableName() string { return "layout_fields" }

type AuditLogModel struct {
	ID         uint   `gorm:"primaryKey"`
	Action     string `gorm:"not null;index"`
	TargetType string `gorm:"not null;index"`
	TargetKey  string `gorm:"not null"`
	Metadata   string
	CreatedAt  time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }
