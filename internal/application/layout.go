package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/draft"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/visibility"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/wizard"
)

type LayoutService struct {
	repo   domain.FormRepository
	engine *draft.Engine
	types  []domain.AssociateType
	eval   visibility.Evaluator
}

type EvaluateInput struct {
	Data      visibility.Snapshot `json:"data"`
	Role      string              `json:"role"`
	StepIndex *int                `json:"stepIndex,omitempty"`
}

type EvaluateResult struct {
	Steps      []wizard.StepView     `json:"steps"`
	Missing    []wizard.MissingField `json:"missing"`
	CanAdvance bool                  `json:"canAdvance"`
}

// NewLayoutService serves layouts for the given associate types. A nil
// evaluator means visibility.Default.
func NewLayoutService(repo domain.FormRepository, engine *draft.Engine, types []domain.AssociateType, eval visibility.Evaluator) *LayoutService {
	if engine == nil {
		engine = draft.New()
	}
	if eval == nil {
		eval = visibility.Default
	}
	return &LayoutService{repo: repo, engine: engine, types: append([]domain.AssociateType(nil), types...), eval: eval}
}

func (s *LayoutService) AssociateTypes() []domain.AssociateType {
	return append([]domain.AssociateType(nil), s.types...)
}

func (s *LayoutService) Engine() *draft.Engine { return s.engine }

func (s *LayoutService) resolveType(raw string) (domain.AssociateType, error) {
	key := domain.AssociateType(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range s.types {
		if t == key {
			return t, nil
		}
	}
	return "", domain.NotFound("associate type", raw)
}

// GetLayout loads the stored layout and heals it: missing base fields are
// put back on top of the first step. A type that was never saved yields a
// single step holding the base fields.
func (s *LayoutService) GetLayout(ctx context.Context, associateType string) (domain.Layout, error) {
	at, err := s.resolveType(associateType)
	if err != nil {
		return domain.Layout{}, err
	}
	stored, err := s.repo.GetLayout(ctx, at)
	if err != nil {
		return domain.Layout{}, fmt.Errorf("load layout %s: %w", at, err)
	}
	catalog, err := s.repo.ListFields(ctx)
	if err != nil {
		return domain.Layout{}, err
	}
	layout := stored.Layout
	layout.AssociateType = at
	return domain.HealBaseFields(layout, catalog, s.defaultStep), nil
}

func (s *LayoutService) GetFlatLayout(ctx context.Context, associateType string) ([]domain.LayoutField, error) {
	layout, err := s.GetLayout(ctx, associateType)
	if err != nil {
		return nil, err
	}
	return domain.Flatten(layout), nil
}

// SaveLayout validates and normalises the layout, then replaces the stored
// one in a single transaction. The normalised layout is returned.
func (s *LayoutService) SaveLayout(ctx context.Context, associateType string, layout domain.Layout) (domain.Layout, error) {
	at, err := s.resolveType(associateType)
	if err != nil {
		return domain.Layout{}, err
	}
	if layout.AssociateType != "" && domain.AssociateType(strings.ToLower(string(layout.AssociateType))) != at {
		return domain.Layout{}, domain.Invalid("associateType", "body is for %q but the path names %q", layout.AssociateType, at)
	}
	layout = draft.Clone(layout)
	layout.AssociateType = at

	catalog, err := s.repo.ListFields(ctx)
	if err != nil {
		return domain.Layout{}, err
	}
	if err := s.resolveFields(&layout, catalog); err != nil {
		return domain.Layout{}, err
	}

	// The body is the full ordered list: slice order wins over carried orders.
	layout = domain.Renumber(layout)
	layout = domain.HealBaseFields(layout, catalog, s.defaultStep)
	if err := domain.CheckInvariants(layout); err != nil {
		return domain.Layout{}, domain.Invalid("steps", "%v", err)
	}

	if err := s.repo.SaveLayout(ctx, layout); err != nil {
		return domain.Layout{}, fmt.Errorf("save layout %s: %w", at, err)
	}
	writeAudit(ctx, s.repo, "layout.save", "layout", string(at), map[string]any{
		"steps":  len(layout.Steps),
		"fields": layout.FieldCount(),
	})
	return layout, nil
}

// SaveFlatLayout accepts the flattened form: one ordered list in which
// step-separator entries open a new step.
func (s *LayoutService) SaveFlatLayout(ctx context.Context, associateType string, items []domain.LayoutField) (domain.Layout, error) {
	at, err := s.resolveType(associateType)
	if err != nil {
		return domain.Layout{}, err
	}
	return s.SaveLayout(ctx, string(at), domain.Unflatten(at, items, s.defaultStep))
}

// resolveFields replaces every placed field's definition with the catalog
// copy and checks placements and visibility rules against the catalog.
func (s *LayoutService) resolveFields(layout *domain.Layout, catalog []domain.FieldDefinition) error {
	if len(layout.Steps) == 0 {
		return domain.Invalid("steps", "a layout needs at least one step")
	}
	byID := make(map[uint]domain.FieldDefinition, len(catalog))
	names := make(map[string]struct{}, len(catalog))
	for _, def := range catalog {
		byID[def.ID] = def
		names[def.FieldName] = struct{}{}
	}

	stepIDs := make(map[string]struct{}, len(layout.Steps))
	placed := make(map[uint]struct{})
	for si := range layout.Steps {
		step := &layout.Steps[si]
		step.ID = strings.TrimSpace(step.ID)
		if step.ID == "" {
			step.ID = s.engine.NewStep("").ID
		}
		if _, dup := stepIDs[step.ID]; dup {
			return domain.Invalid(fmt.Sprintf("steps[%d].id", si), "duplicate step id %q", step.ID)
		}
		stepIDs[step.ID] = struct{}{}
		step.Title = strings.TrimSpace(step.Title)
		if step.Title == "" {
			return domain.Invalid(fmt.Sprintf("steps[%d].title", si), "step title is required")
		}
		if step.Fields == nil {
			step.Fields = make([]domain.LayoutField, 0)
		}

		for fi := range step.Fields {
			field := &step.Fields[fi]
			path := fmt.Sprintf("steps[%d].fields[%d]", si, fi)
			def, ok := byID[field.ID]
			if !ok {
				return domain.Invalid(path, "field %d is not in the catalog", field.ID)
			}
			if !def.FieldType.Placeable() {
				return domain.Invalid(path, "%s fields cannot be placed", def.FieldType)
			}
			if _, dup := placed[def.ID]; dup {
				return domain.Invalid(path, "field %s is placed more than once", def.FieldName)
			}
			placed[def.ID] = struct{}{}
			field.FieldDefinition = def

			conditions := draft.NormalizeConditions(field.VisibilityConditions)
			if err := checkConditions(path+".visibilityConditions", conditions, names); err != nil {
				return err
			}
			field.VisibilityConditions = conditions
		}
	}
	return nil
}

func checkConditions(path string, c *domain.VisibilityConditions, names map[string]struct{}) error {
	if c == nil {
		return nil
	}
	if c.Relation != domain.RelationAnd && c.Relation != domain.RelationOr {
		return domain.Invalid(path+".relation", "relation must be AND or OR, got %q", c.Relation)
	}
	for i, rule := range c.Rules {
		rulePath := fmt.Sprintf("%s.rules[%d]", path, i)
		if !rule.Operator.Valid() {
			return domain.Invalid(rulePath+".operator", "unknown operator %q", rule.Operator)
		}
		if rule.Operator.NeedsValue() && rule.Value == nil {
			return domain.Invalid(rulePath+".value", "%s needs a value", rule.Operator)
		}
		if _, ok := names[rule.TargetFieldName]; !ok {
			return domain.Invalid(rulePath+".targetFieldName", "no catalog field named %q", rule.TargetFieldName)
		}
	}
	return nil
}

// Evaluate renders the visible-field plan for a snapshot of answers and
// reports the required fields still empty, for one step or the whole layout.
func (s *LayoutService) Evaluate(ctx context.Context, associateType string, in EvaluateInput) (EvaluateResult, error) {
	at, err := s.resolveType(associateType)
	if err != nil {
		return EvaluateResult{}, err
	}
	layout, err := s.GetLayout(ctx, string(at))
	if err != nil {
		return EvaluateResult{}, err
	}
	// A caller that does not name a role registers as the associate type.
	if strings.TrimSpace(in.Role) == "" {
		in.Role = string(at)
	}
	result := EvaluateResult{Steps: wizard.Plan(layout, in.Data, in.Role, s.eval)}
	if in.StepIndex != nil {
		if *in.StepIndex < 0 || *in.StepIndex >= len(layout.Steps) {
			return EvaluateResult{}, domain.Invalid("stepIndex", "step %d is out of range", *in.StepIndex)
		}
		result.Missing = wizard.ValidateStep(layout, *in.StepIndex, in.Data, in.Role, s.eval)
	} else {
		result.Missing = wizard.Validate(layout, in.Data, in.Role, s.eval)
	}
	if result.Missing == nil {
		result.Missing = make([]wizard.MissingField, 0)
	}
	result.CanAdvance = len(result.Missing) == 0
	return result, nil
}

// Edit loads the layout into a draft session, applies the operations in
// order and commits the result. The first refusal aborts the edit without
// saving.
func (s *LayoutService) Edit(ctx context.Context, associateType string, ops ...draft.Operation) (domain.Layout, error) {
	layout, err := s.GetLayout(ctx, associateType)
	if err != nil {
		return domain.Layout{}, err
	}
	session := draft.NewSession(s.engine, layout)
	for _, op := range ops {
		if outcome := session.Apply(op); outcome.Refused() {
			return domain.Layout{}, domain.Conflict("%s", outcome.Message())
		}
	}
	if !session.Dirty() {
		return session.Draft(), nil
	}
	var saved domain.Layout
	err = session.Commit(ctx, draft.SaverFunc(func(ctx context.Context, l domain.Layout) error {
		out, err := s.SaveLayout(ctx, associateType, l)
		saved = out
		return err
	}))
	if err != nil {
		return domain.Layout{}, err
	}
	return saved, nil
}

func (s *LayoutService) defaultStep() domain.FormStep { return s.engine.NewStep("") }
