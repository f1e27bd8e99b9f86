// Package draft implements the in-memory layout editor: pure operations that
// take a layout value and return a new one, plus a Session that tracks the
// last saved copy for dirty detection and commit.
//
// Operations never mutate their input and never fail with an error.
// Expected user-input rejections come back as an Outcome carrying a Refusal.
package draft

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
)

type Refusal string

const (
	RefusalLastStep      Refusal = "last-step"
	RefusalBaseField     Refusal = "base-field"
	RefusalAlreadyPlaced Refusal = "already-placed"
	RefusalNotPlaceable  Refusal = "not-placeable"
	RefusalUnknownField  Refusal = "unknown-field"
	RefusalUnknownStep   Refusal = "unknown-step"
	RefusalOutOfRange    Refusal = "out-of-range"
)

var refusalMessages = map[Refusal]string{
	RefusalLastStep:      "a layout must keep at least one step",
	RefusalBaseField:     "base fields cannot be removed from a layout",
	RefusalAlreadyPlaced: "field is already placed in this layout",
	RefusalNotPlaceable:  "field type cannot be placed on a step",
	RefusalUnknownField:  "field is not part of this layout",
	RefusalUnknownStep:   "step does not exist",
	RefusalOutOfRange:    "position is out of range",
}

// Outcome reports what an operation did. Released lists the field ids that
// left the layout and are available for placement again.
type Outcome struct {
	Applied  bool
	Refusal  Refusal
	Released []uint
}

func (o Outcome) Refused() bool { return o.Refusal != "" }

func (o Outcome) Message() string {
	if o.Refusal == "" {
		return ""
	}
	if msg, ok := refusalMessages[o.Refusal]; ok {
		return msg
	}
	return string(o.Refusal)
}

func applied() Outcome { return Outcome{Applied: true} }
func refuse(r Refusal) Outcome { return Outcome{Refusal: r} }
func unchanged() Outcome { return Outcome{} }

// StepRemovalPolicy decides what happens to the fields of a removed step.
type StepRemovalPolicy string

const (
	// RemoveDiscard drops the step's fields from the layout; they return to
	// the pool of unplaced catalog fields. Base fields are carried to the
	// neighbouring step since they may never leave a layout.
	RemoveDiscard StepRemovalPolicy = "discard"
	// RemoveMigrate moves every field to the end of the neighbouring step.
	RemoveMigrate StepRemovalPolicy = "migrate"
)

func ParseStepRemovalPolicy(raw string) (StepRemovalPolicy, error) {
	switch StepRemovalPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RemoveDiscard:
		return RemoveDiscard, nil
	case RemoveMigrate:
		return RemoveMigrate, nil
	}
	return "", fmt.Errorf("unknown step removal policy %q", raw)
}

type Position struct {
	StepIndex  int `json:"stepIndex"`
	FieldIndex int `json:"fieldIndex"`
}

// FieldPatch carries the properties-panel edits. Nil members are left alone;
// ClearVisibility resets the field to always visible.
type FieldPatch struct {
	IsRequired           *bool
	VisibilityConditions *domain.VisibilityConditions
	ClearVisibility      bool
}

type Engine struct {
	removal     StepRemovalPolicy
	titlePrefix string
	newID       func() string
}

type Option func(*Engine)

func WithStepRemoval(policy StepRemovalPolicy) Option {
	return func(e *Engine) { e.removal = policy }
}

func WithStepTitlePrefix(prefix string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(prefix) != "" {
			e.titlePrefix = strings.TrimSpace(prefix)
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func New(opts ...Option) *Engine {
	e := &Engine{removal: RemoveDiscard, titlePrefix: "Step", newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) StepRemoval() StepRemovalPolicy { return e.removal }

// NewStep builds an empty step. A blank title gets the first default name.
func (e *Engine) NewStep(title string) domain.FormStep {
	if strings.TrimSpace(title) == "" {
		title = e.titlePrefix + " 1"
	}
	return domain.FormStep{ID: e.newID(), Title: title, Fields: []domain.LayoutField{}}
}

// Clone returns a deep copy of layout.
func Clone(layout domain.Layout) domain.Layout {
	return deepcopy.Copy(layout).(domain.Layout)
}

// nextStepTitle returns "<prefix> N" with N one past the highest default
// number in use, and never below the step count plus one.
func (e *Engine) nextStepTitle(layout domain.Layout) string {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(e.titlePrefix) + ` (\d+)$`)
	next := len(layout.Steps) + 1
	for _, step := range layout.Steps {
		m := pattern.FindStringSubmatch(strings.TrimSpace(step.Title))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n+1 > next {
			next = n + 1
		}
	}
	return e.titlePrefix + " " + strconv.Itoa(next)
}
