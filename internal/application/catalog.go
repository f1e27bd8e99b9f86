package application

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fieldNameAttempts = 5

type CatalogService struct {
	repo      domain.FormRepository
	guardUsed bool
	now       func() time.Time
}

type CatalogOption func(*CatalogService)

// WithUsageGuard refuses deleting a field still placed on a layout unless
// the caller forces it.
func WithUsageGuard(on bool) CatalogOption {
	return func(s *CatalogService) { s.guardUsed = on }
}

func WithClock(now func() time.Time) CatalogOption {
	return func(s *CatalogService) { s.now = now }
}

type CreateFieldInput struct {
	Label     string   `json:"label"`
	FieldType string   `json:"fieldType"`
	Options   []string `json:"options,omitempty"`
}

func NewCatalogService(repo domain.FormRepository, opts ...CatalogOption) *CatalogService {
	s := &CatalogService{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CatalogService) ListFields(ctx context.Context) ([]domain.FieldDefinition, error) {
	fields, err := s.repo.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	SortCatalog(fields)
	return fields, nil
}

func (s *CatalogService) CreateField(ctx context.Context, in CreateFieldInput) (domain.FieldDefinition, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return domain.FieldDefinition{}, domain.Invalid("label", "label is required")
	}
	if strings.TrimSpace(in.FieldType) == "" {
		return domain.FieldDefinition{}, domain.Invalid("fieldType", "field type is required")
	}
	fieldType, ok := domain.ParseFieldType(in.FieldType)
	if !ok {
		return domain.FieldDefinition{}, domain.Invalid("fieldType", "unknown field type %q", in.FieldType)
	}
	if !fieldType.Placeable() {
		return domain.FieldDefinition{}, domain.Invalid("fieldType", "%s is a layout marker, not a catalog field", fieldType)
	}
	options := fieldType.NormalizeOptions(in.Options)
	if fieldType.HasOptions() && len(options) == 0 {
		return domain.FieldDefinition{}, domain.Invalid("options", "%s needs at least one option", fieldType)
	}

	name, err := s.freshFieldName(ctx, label)
	if err != nil {
		return domain.FieldDefinition{}, err
	}
	created, err := s.repo.CreateField(ctx, domain.FieldDefinition{
		FieldName:   name,
		Label:       label,
		FieldType:   fieldType,
		IsDeletable: true,
		Options:     options,
	})
	if err != nil {
		return domain.FieldDefinition{}, err
	}
	writeAudit(ctx, s.repo, "field.create", "field", created.FieldName, map[string]any{
		"id":        created.ID,
		"label":     created.Label,
		"fieldType": created.FieldType,
	})
	return created, nil
}

// freshFieldName derives a name from the label and a nanosecond timestamp,
// stepping the timestamp forward while the name is already reserved.
func (s *CatalogService) freshFieldName(ctx context.Context, label string) (string, error) {
	at := s.now()
	for i := 0; i < fieldNameAttempts; i++ {
		name := FieldName(label, at.Add(time.Duration(i)))
		taken, err := s.repo.FieldNameTaken(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
	return "", domain.Conflict("could not reserve a field name for %q", label)
}

func (s *CatalogService) DeleteField(ctx context.Context, id uint, force bool) error {
	def, err := s.repo.GetField(ctx, id)
	if err != nil {
		return err
	}
	if def.IsBaseField || !def.IsDeletable {
		return domain.Conflict("field %s is a protected base field", def.FieldName)
	}

	usage, err := s.repo.FieldUsage(ctx, id)
	if err != nil {
		return err
	}
	if s.guardUsed && !force && len(usage) > 0 {
		return domain.Conflict("field %s is used by %d layout(s): %s", def.FieldName, len(usage), joinTypes(usage))
	}

	if err := s.repo.DeleteFieldCascade(ctx, id); err != nil {
		return err
	}
	writeAudit(ctx, s.repo, "field.delete", "field", def.FieldName, map[string]any{
		"id":     def.ID,
		"usedBy": usage,
		"forced": force,
	})
	return nil
}

// FieldUsage lists the associate types whose layouts place the field.
func (s *CatalogService) FieldUsage(ctx context.Context, id uint) ([]domain.AssociateType, error) {
	if _, err := s.repo.GetField(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.FieldUsage(ctx, id)
}

// SortCatalog puts base fields first, then orders by label with Brazilian
// Portuguese collation.
func SortCatalog(fields []domain.FieldDefinition) {
	c := collate.New(language.BrazilianPortuguese, collate.IgnoreCase)
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].IsBaseField != fields[j].IsBaseField {
			return fields[i].IsBaseField
		}
		if cmp := c.CompareString(fields[i].Label, fields[j].Label); cmp != 0 {
			return cmp < 0
		}
		return fields[i].ID < fields[j].ID
	})
}

// FieldName builds the immutable machine name of a catalog field:
// the label folded to an ASCII slug, an underscore and the base-36 timestamp.
func FieldName(label string, at time.Time) string {
	return Slug(label) + "_" + strconv.FormatInt(at.UnixNano(), 36)
}

func Slug(label string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), label)
	if err != nil {
		folded = label
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "field"
	}
	return b.String()
}

func joinTypes(types []domain.AssociateType) string {
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ", ")
}
