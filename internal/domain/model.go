package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type FieldType string

const (
	FieldShortText     FieldType = "short-text"
	FieldLongText      FieldType = "long-text"
	FieldEmail         FieldType = "email"
	FieldPassword      FieldType = "password"
	FieldSingleSelect  FieldType = "single-select"
	FieldMultiChoice   FieldType = "multi-choice"
	FieldCheckbox      FieldType = "checkbox"
	FieldRegionSelect  FieldType = "region-select"
	FieldStepSeparator FieldType = "step-separator-marker"
)

var fieldTypes = []FieldType{
	FieldShortText,
	FieldLongText,
	FieldEmail,
	FieldPassword,
	FieldSingleSelect,
	FieldMultiChoice,
	FieldCheckbox,
	FieldRegionSelect,
	FieldStepSeparator,
}

// legacySeparator is the short separator spelling older clients send.
const legacySeparator = "step-separator"

func ParseFieldType(raw string) (FieldType, bool) {
	value := FieldType(strings.ToLower(strings.TrimSpace(raw)))
	if value == legacySeparator {
		return FieldStepSeparator, true
	}
	for _, t := range fieldTypes {
		if t == value {
			return t, true
		}
	}
	return "", false
}

// UnmarshalJSON maps the short separator spelling onto FieldStepSeparator.
// Every other value is kept as sent so validation can report it.
func (t *FieldType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(raw)) == legacySeparator {
		*t = FieldStepSeparator
		return nil
	}
	*t = FieldType(raw)
	return nil
}

// HasOptions reports whether the type carries a choice list. Options are
// meaningless for every other type and are dropped by NormalizeOptions.
func (t FieldType) HasOptions() bool {
	return t == FieldSingleSelect || t == FieldMultiChoice
}

// Placeable reports whether a catalog field of this type may sit on a step.
func (t FieldType) Placeable() bool {
	return t != FieldStepSeparator && t != ""
}

// NormalizeOptions trims and de-duplicates options for choice types and
// returns nil for the rest.
func (t FieldType) NormalizeOptions(options []string) []string {
	if !t.HasOptions() {
		return nil
	}
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, option := range options {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		if _, ok := seen[option]; ok {
			continue
		}
		seen[option] = struct{}{}
		out = append(out, option)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type AssociateType string

type FieldDefinition struct {
	ID          uint      `json:"id"`
	FieldName   string    `json:"fieldName"`
	Label       string    `json:"label"`
	FieldType   FieldType `json:"fieldType"`
	IsBaseField bool      `json:"isBaseField"`
	IsDeletable bool      `json:"isDeletable"`
	Options     []string  `json:"options,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Relation string

const (
	RelationAnd Relation = "AND"
	RelationOr  Relation = "OR"
)

type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
	OpContains   Operator = "contains"
)

func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpIsEmpty, OpIsNotEmpty, OpContains:
		return true
	}
	return false
}

// NeedsValue is false for the emptiness checks.
func (op Operator) NeedsValue() bool {
	return op != OpIsEmpty && op != OpIsNotEmpty
}

type ConditionRule struct {
	TargetFieldName string   `json:"targetFieldName"`
	Operator        Operator `json:"operator"`
	Value           *string  `json:"value,omitempty"`
}

type VisibilityConditions struct {
	Relation Relation        `json:"relation"`
	Rules    []ConditionRule `json:"rules"`
	Roles    []string        `json:"roles,omitempty"`
}

// Empty reports a condition set that restricts nothing.
func (c *VisibilityConditions) Empty() bool {
	return c == nil || (len(c.Rules) == 0 && len(c.Roles) == 0)
}

type LayoutField struct {
	FieldDefinition
	DisplayOrder         int                   `json:"displayOrder"`
	IsRequired           bool                  `json:"isRequired"`
	VisibilityConditions *VisibilityConditions `json:"visibilityConditions"`
}

type FormStep struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	StepOrder int           `json:"stepOrder"`
	Fields    []LayoutField `json:"fields"`
}

type Layout struct {
	AssociateType AssociateType `json:"associateType"`
	Steps         []FormStep    `json:"steps"`
}

// Locate returns the step and field index of fieldID, or -1, -1.
func (l Layout) Locate(fieldID uint) (int, int) {
	for si, step := range l.Steps {
		for fi, field := range step.Fields {
			if field.ID == fieldID {
				return si, fi
			}
		}
	}
	return -1, -1
}

func (l Layout) StepIndex(stepID string) int {
	for i, step := range l.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

func (l Layout) FieldCount() int {
	n := 0
	for _, step := range l.Steps {
		n += len(step.Fields)
	}
	return n
}

type AuditLog struct {
	ID         uint      `json:"id"`
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"`
	TargetKey  string    `json:"targetKey"`
	Metadata   string    `json:"metadata"`
	CreatedAt  time.Time `json:"createdAt"`
}
