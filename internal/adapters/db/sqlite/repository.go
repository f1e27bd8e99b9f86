package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type FormRepository struct {
	db *gorm.DB
}

var _ domain.FormRepository = (*FormRepository)(nil)

func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

func NewFormRepository(db *gorm.DB) *FormRepository {
	return &FormRepository{db: db}
}

func (r *FormRepository) ListFields(ctx context.Context) ([]domain.FieldDefinition, error) {
	rows := make([]FieldDefinitionModel, 0)
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.FieldDefinition, 0, len(rows))
	for _, m := range rows {
		def, err := toFieldDefinition(m)
		if err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, nil
}

func (r *FormRepository) GetField(ctx context.Context, id uint) (domain.FieldDefinition, error) {
	var m FieldDefinitionModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.FieldDefinition{}, domain.NotFound("field", id)
		}
		return domain.FieldDefinition{}, err
	}
	return toFieldDefinition(m)
}

func (r *FormRepository) CreateField(ctx context.Context, value domain.FieldDefinition) (domain.FieldDefinition, error) {
	m := FieldDefinitionModel{
		FieldName:   value.FieldName,
		Label:       value.Label,
		FieldType:   string(value.FieldType),
		IsBaseField: value.IsBaseField,
		IsDeletable: value.IsDeletable,
	}
	options := value.Options
	if options == nil {
		options = []string{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return domain.FieldDefinition{}, err
	}
	m.Options = datatypes.JSON(raw)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.FieldDefinition{}, err
	}
	return toFieldDefinition(m)
}

// FieldNameTaken also looks at deleted rows: a field name is never reissued.
func (r *FormRepository) FieldNameTaken(ctx context.Context, fieldName string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Unscoped().Model(&FieldDefinitionModel{}).Where("field_name = ?", fieldName).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *FormRepository) FieldUsage(ctx context.Context, id uint) ([]domain.AssociateType, error) {
	keys := make([]string, 0)
	if err := r.db.WithContext(ctx).Model(&LayoutFieldModel{}).
		Where("field_id = ?", id).
		Distinct().
		Order("associate_type ASC").
		Pluck("associate_type", &keys).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AssociateType, 0, len(keys))
	for _, key := range keys {
		result = append(result, domain.AssociateType(key))
	}
	return result, nil
}

// DeleteFieldCascade soft-deletes the definition, removes its placements from
// every layout and closes the displayOrder gaps left behind, in one
// transaction.
func (r *FormRepository) DeleteFieldCascade(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m FieldDefinitionModel
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFound("field", id)
			}
			return err
		}

		type stepRef struct {
			AssociateType string
			StepKey       string
		}
		affected := make([]stepRef, 0)
		if err := tx.Model(&LayoutFieldModel{}).
			Select("DISTINCT associate_type, step_key").
			Where("field_id = ?", id).
			Scan(&affected).Error; err != nil {
			return err
		}

		if err := tx.Where("field_id = ?", id).Delete(&LayoutFieldModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FieldDefinitionModel{}, id).Error; err != nil {
			return err
		}

		for _, ref := range affected {
			if err := renumberStep(tx, ref.AssociateType, ref.StepKey); err != nil {
				return err
			}
		}
		return nil
	})
}

func renumberStep(tx *gorm.DB, associateType, stepKey string) error {
	rows := make([]LayoutFieldModel, 0)
	if err := tx.Where("associate_type = ? AND step_key = ?", associateType, stepKey).
		Order("display_order ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	for i, row := range rows {
		if row.DisplayOrder == i {
			continue
		}
		if err := tx.Model(&LayoutFieldModel{}).Where("id = ?", row.ID).Update("display_order", i).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetLayout returns the layout exactly as stored. Placements of deleted
// definitions are skipped.
func (r *FormRepository) GetLayout(ctx context.Context, associateType domain.AssociateType) (domain.StoredLayout, error) {
	steps := make([]LayoutStepModel, 0)
	if err := r.db.WithContext(ctx).
		Where("associate_type = ?", string(associateType)).
		Order("step_order ASC").Order("id ASC").
		Find(&steps).Error; err != nil {
		return domain.StoredLayout{}, err
	}

	type row struct {
		FieldID              uint
		StepKey              string
		DisplayOrder         int
		IsRequired           bool
		VisibilityConditions datatypes.JSON
		FieldName            string
		Label                string
		FieldType            string
		IsBaseField          bool
		IsDeletable          bool
		Options              datatypes.JSON
		CreatedAt            time.Time
	}
	rows := make([]row, 0)
	if err := r.db.WithContext(ctx).Raw(`
SELECT lf.field_id,
       lf.step_key,
       lf.display_order,
       lf.is_required,
       lf.visibility_conditions,
       fd.field_name,
       fd.label,
       fd.field_type,
       fd.is_base_field,
       fd.is_deletable,
       fd.options,
       fd.created_at
FROM layout_fields lf
JOIN field_definitions fd ON fd.id = lf.field_id AND fd.deleted_at IS NULL
WHERE lf.associate_type = ?
ORDER BY lf.display_order ASC, lf.id ASC
`, string(associateType)).Scan(&rows).Error; err != nil {
		return domain.StoredLayout{}, err
	}

	layout := domain.Layout{AssociateType: associateType, Steps: make([]domain.FormStep, 0, len(steps))}
	index := make(map[string]int, len(steps))
	for _, s := range steps {
		index[s.StepKey] = len(layout.Steps)
		layout.Steps = append(layout.Steps, domain.FormStep{
			ID:        s.StepKey,
			Title:     s.Title,
			StepOrder: s.StepOrder,
			Fields:    make([]domain.LayoutField, 0),
		})
	}

	for _, m := range rows {
		si, ok := index[m.StepKey]
		if !ok {
			return domain.StoredLayout{}, fmt.Errorf("layout %s: field %d references unknown step %q", associateType, m.FieldID, m.StepKey)
		}
		def, err := toFieldDefinition(FieldDefinitionModel{
			ID:          m.FieldID,
			FieldName:   m.FieldName,
			Label:       m.Label,
			FieldType:   m.FieldType,
			IsBaseField: m.IsBaseField,
			IsDeletable: m.IsDeletable,
			Options:     m.Options,
			CreatedAt:   m.CreatedAt,
		})
		if err != nil {
			return domain.StoredLayout{}, err
		}
		conditions, err := decodeConditions(m.VisibilityConditions)
		if err != nil {
			return domain.StoredLayout{}, fmt.Errorf("layout %s: field %d: %w", associateType, m.FieldID, err)
		}
		layout.Steps[si].Fields = append(layout.Steps[si].Fields, domain.LayoutField{
			FieldDefinition:      def,
			DisplayOrder:         m.DisplayOrder,
			IsRequired:           m.IsRequired,
			VisibilityConditions: conditions,
		})
	}

	return domain.StoredLayout{Layout: layout, Found: len(steps) > 0}, nil
}

// SaveLayout replaces every step and placement of the layout's associate
// type. Either the whole layout is written or nothing is.
func (r *FormRepository) SaveLayout(ctx context.Context, layout domain.Layout) error {
	key := string(layout.AssociateType)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]uint, 0, layout.FieldCount())
		for _, step := range layout.Steps {
			for _, field := range step.Fields {
				ids = append(ids, field.ID)
			}
		}
		if len(ids) > 0 {
			var live int64
			if err := tx.Model(&FieldDefinitionModel{}).Where("id IN ?", ids).Count(&live).Error; err != nil {
				return err
			}
			if int(live) != len(ids) {
				return domain.Conflict("layout %s references fields that no longer exist", key)
			}
		}

		if err := tx.Where("associate_type = ?", key).Delete(&LayoutFieldModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("associate_type = ?", key).Delete(&LayoutStepModel{}).Error; err != nil {
			return err
		}

		steps := make([]LayoutStepModel, 0, len(layout.Steps))
		fields := make([]LayoutFieldModel, 0, len(ids))
		for _, step := range layout.Steps {
			steps = append(steps, LayoutStepModel{AssociateType: key, StepKey: step.ID, Title: step.Title, StepOrder: step.StepOrder})
			for _, field := range step.Fields {
				conditions, err := encodeConditions(field.VisibilityConditions)
				if err != nil {
					return fmt.Errorf("field %d: %w", field.ID, err)
				}
				fields = append(fields, LayoutFieldModel{
					AssociateType:        key,
					FieldID:              field.ID,
					StepKey:              step.ID,
					DisplayOrder:         field.DisplayOrder,
					IsRequired:           field.IsRequired,
					VisibilityConditions: conditions,
				})
			}
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}
		if len(fields) > 0 {
			if err := tx.Create(&fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *FormRepository) CreateAuditLog(ctx context.Context, value domain.AuditLog) error {
	m := AuditLogModel{Action: value.Action, TargetType: value.TargetType, TargetKey: value.TargetKey, Metadata: value.Metadata}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *FormRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows := make([]AuditLogModel, 0)
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditLog, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.AuditLog{
			ID:         m.ID,
			Action:     m.Action,
			TargetType: m.TargetType,
			TargetKey:  m.TargetKey,
			Metadata:   m.Metadata,
			CreatedAt:  m.CreatedAt,
		})
	}
	return result, nil
}

func toFieldDefinition(m FieldDefinitionModel) (domain.FieldDefinition, error) {
	def := domain.FieldDefinition{
		ID:          m.ID,
		FieldName:   m.FieldName,
		Label:       m.Label,
		FieldType:   domain.FieldType(m.FieldType),
		IsBaseField: m.IsBaseField,
		IsDeletable: m.IsDeletable,
		CreatedAt:   m.CreatedAt,
	}
	if isNullJSON(m.Options) {
		return def, nil
	}
	if err := json.Unmarshal(m.Options, &def.Options); err != nil {
		return domain.FieldDefinition{}, fmt.Errorf("field %d options: %w", m.ID, err)
	}
	if len(def.Options) == 0 {
		def.Options = nil
	}
	return def, nil
}

func encodeConditions(value *domain.VisibilityConditions) (datatypes.JSON, error) {
	if value.Empty() {
		return datatypes.JSON("null"), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeConditions(raw datatypes.JSON) (*domain.VisibilityConditions, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var out domain.VisibilityConditions
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("visibility conditions: %w", err)
	}
	return &out, nil
}

func isNullJSON(raw datatypes.JSON) bool {
	return len(raw) == 0 || string(raw) == "null"
}
