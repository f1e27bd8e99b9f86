// Package visibility decides whether a layout field is shown for a given
// form data snapshot and associate role.
package visibility

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
)

// Snapshot holds live form values keyed by fieldName. Values are usually
// strings; checkboxes carry bools and multi-choice fields carry lists.
type Snapshot map[string]any

// Evaluator determines whether a field governed by conditions is visible.
type Evaluator interface {
	Visible(conditions *domain.VisibilityConditions, data Snapshot, role string) bool
}

// EvaluatorFunc adapts a function into an Evaluator.
type EvaluatorFunc func(conditions *domain.VisibilityConditions, data Snapshot, role string) bool

func (fn EvaluatorFunc) Visible(conditions *domain.VisibilityConditions, data Snapshot, role string) bool {
	return fn(conditions, data, role)
}

// Default evaluates with IsVisible.
var Default Evaluator = EvaluatorFunc(IsVisible)

// IsVisible applies the role gate and the rule gate; a field is visible only
// when both pass. Absent or empty conditions never hide a field.
func IsVisible(conditions *domain.VisibilityConditions, data Snapshot, role string) bool {
	if conditions.Empty() {
		return true
	}
	if len(conditions.Roles) > 0 && !hasRole(conditions.Roles, role) {
		return false
	}
	if len(conditions.Rules) == 0 {
		return true
	}

	if conditions.Relation == domain.RelationOr {
		for _, rule := range conditions.Rules {
			if Evaluate(rule, data) {
				return true
			}
		}
		return false
	}

	for _, rule := range conditions.Rules {
		if !Evaluate(rule, data) {
			return false
		}
	}
	return true
}

// Evaluate checks one rule against the snapshot. A missing key reads as "".
// Unknown operators evaluate to false.
func Evaluate(rule domain.ConditionRule, data Snapshot) bool {
	raw := data[rule.TargetFieldName]
	want := ""
	if rule.Value != nil {
		want = *rule.Value
	}

	switch rule.Operator {
	case domain.OpEquals:
		return Text(raw) == want
	case domain.OpNotEquals:
		return Text(raw) != want
	case domain.OpIsEmpty:
		return IsEmpty(raw)
	case domain.OpIsNotEmpty:
		return !IsEmpty(raw)
	case domain.OpContains:
		return strings.Contains(Text(raw), want)
	default:
		return false
	}
}

// IsEmpty treats nil, false, zero, empty lists and whitespace-only text as
// empty.
func IsEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(value) == ""
	case bool:
		return !value
	case int:
		return value == 0
	case int64:
		return value == 0
	case float64:
		return value == 0
	case []string:
		return len(value) == 0
	case []any:
		return len(value) == 0
	default:
		return strings.TrimSpace(Text(v)) == ""
	}
}

// Text renders a snapshot value for comparison. Lists are joined with ",".
func Text(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case []string:
		return strings.Join(value, ",")
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, Text(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(value)
	}
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
