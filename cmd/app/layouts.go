package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/application"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/draft"
	"github.com/urfave/cli/v3"
)

func layoutsCommand() *cli.Command {
	return &cli.Command{
		Name:  "layouts",
		Usage: "Form layout commands",
		Commands: []*cli.Command{
			{
				Name:  "types",
				Usage: "List associate types that own a layout",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []string
					if err := doLayoutTypes(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					for _, t := range out {
						fmt.Println(t)
					}
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Show the layout of an associate type",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Required: true, Usage: "associate type"},
					&cli.BoolFlag{Name: "flat", Usage: "flattened list with step separators (implies --json)"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if c.Bool("flat") {
						var out []domain.LayoutField
						if err := doLayoutGet(ctx, cfg, c.String("type"), true, &out); err != nil {
							return err
						}
						return printJSON(out)
					}
					var out domain.Layout
					if err := doLayoutGet(ctx, cfg, c.String("type"), false, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printLayout(out)
					return nil
				},
			},
			{
				Name:  "save",
				Usage: "Replace a layout from a JSON file (grouped object or flattened array)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Required: true, Usage: "associate type"},
					&cli.StringFlag{Name: "file", Required: true, Usage: "JSON file, - for stdin"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					body, err := readJSONInput(c.String("file"))
					if err != nil {
						return err
					}
					var out domain.Layout
					if err := doLayoutSave(ctx, cfg, c.String("type"), body, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printLayout(out)
					return nil
				},
			},
			{
				Name:  "evaluate",
				Usage: "Render a layout against answers as the intake wizard would",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Required: true, Usage: "associate type"},
					&cli.StringFlag{Name: "data", Value: "{}", Usage: "answers as a JSON object, or @file"},
					&cli.StringFlag{Name: "role", Usage: "associate role of the person being registered"},
					&cli.IntFlag{Name: "step", Value: -1, Usage: "only validate this step index"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					in := application.EvaluateInput{Role: c.String("role")}
					raw := c.String("data")
					if strings.HasPrefix(raw, "@") {
						body, err := readJSONInput(strings.TrimPrefix(raw, "@"))
						if err != nil {
							return err
						}
						raw = string(body)
					}
					if err := json.Unmarshal([]byte(raw), &in.Data); err != nil {
						return fmt.Errorf("invalid --data: %w", err)
					}
					if step := int(c.Int("step")); step >= 0 {
						in.StepIndex = &step
					}
					var out application.EvaluateResult
					if err := doLayoutEvaluate(ctx, cfg, c.String("type"), in, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printEvaluation(out)
					return nil
				},
			},
			editCommand(),
		},
	}
}

// editCommand applies one draft operation to the stored layout and commits
// the whole result, the same way the visual editor does.
func editCommand() *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Apply a single editor operation to a layout",
		Commands: []*cli.Command{
			editAction("place", "Place a catalog field on a step",
				[]cli.Flag{
					&cli.StringFlag{Name: "field", Required: true, Usage: "field id or fieldName"},
					&cli.StringFlag{Name: "step", Value: "0", Usage: "step index or id"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					field, err := resolveCatalogField(ctx, cfg, c.String("field"))
					if err != nil {
						return nil, err
					}
					step, err := resolveStep(layout, c.String("step"))
					if err != nil {
						return nil, err
					}
					return draft.Place(field, step), nil
				}),
			editAction("remove-field", "Take a field off the layout",
				[]cli.Flag{
					&cli.StringFlag{Name: "field", Required: true, Usage: "field id or fieldName"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					id, err := resolvePlacedField(layout, c.String("field"))
					if err != nil {
						return nil, err
					}
					return draft.Unplace(id), nil
				}),
			editAction("move-field", "Move a placed field to another position",
				[]cli.Flag{
					&cli.StringFlag{Name: "field", Required: true, Usage: "field id or fieldName"},
					&cli.StringFlag{Name: "step", Required: true, Usage: "target step index or id"},
					&cli.IntFlag{Name: "position", Usage: "target index within the step"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					id, err := resolvePlacedField(layout, c.String("field"))
					if err != nil {
						return nil, err
					}
					step, err := resolveStep(layout, c.String("step"))
					if err != nil {
						return nil, err
					}
					return draft.Move(id, draft.Position{StepIndex: step, FieldIndex: int(c.Int("position"))}), nil
				}),
			editAction("require", "Set whether a placed field is required",
				[]cli.Flag{
					&cli.StringFlag{Name: "field", Required: true, Usage: "field id or fieldName"},
					&cli.BoolFlag{Name: "optional", Usage: "mark the field optional instead"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					id, err := resolvePlacedField(layout, c.String("field"))
					if err != nil {
						return nil, err
					}
					required := !c.Bool("optional")
					return draft.Patch(id, draft.FieldPatch{IsRequired: &required}), nil
				}),
			editAction("visibility", "Set or clear the visibility conditions of a placed field",
				[]cli.Flag{
					&cli.StringFlag{Name: "field", Required: true, Usage: "field id or fieldName"},
					&cli.StringFlag{Name: "conditions", Usage: `JSON such as {"relation":"AND","rules":[...],"roles":[...]}, or @file`},
					&cli.BoolFlag{Name: "clear", Usage: "make the field always visible"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					id, err := resolvePlacedField(layout, c.String("field"))
					if err != nil {
						return nil, err
					}
					if c.Bool("clear") {
						return draft.Patch(id, draft.FieldPatch{ClearVisibility: true}), nil
					}
					raw := c.String("conditions")
					if strings.HasPrefix(raw, "@") {
						body, err := readJSONInput(strings.TrimPrefix(raw, "@"))
						if err != nil {
							return nil, err
						}
						raw = string(body)
					}
					if strings.TrimSpace(raw) == "" {
						return nil, fmt.Errorf("either --conditions or --clear is required")
					}
					var conditions domain.VisibilityConditions
					if err := json.Unmarshal([]byte(raw), &conditions); err != nil {
						return nil, fmt.Errorf("invalid --conditions: %w", err)
					}
					return draft.Patch(id, draft.FieldPatch{VisibilityConditions: &conditions}), nil
				}),
			editAction("insert-step", "Insert an empty step",
				[]cli.Flag{
					&cli.IntFlag{Name: "at", Value: -1, Usage: "index to insert at, default appends"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					at := int(c.Int("at"))
					if at < 0 {
						at = len(layout.Steps)
					}
					return draft.InsertStepAt(at), nil
				}),
			editAction("remove-step", "Remove a step",
				[]cli.Flag{
					&cli.StringFlag{Name: "step", Required: true, Usage: "step index or id"},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					step, err := resolveStep(layout, c.String("step"))
					if err != nil {
						return nil, err
					}
					return draft.DropStep(layout.Steps[step].ID), nil
				}),
			editAction("move-step", "Move a step to another index",
				[]cli.Flag{
					&cli.StringFlag{Name: "step", Required: true, Usage: "step index or id"},
					&cli.IntFlag{Name: "to", Required: true},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					step, err := resolveStep(layout, c.String("step"))
					if err != nil {
						return nil, err
					}
					return draft.ReorderSteps(step, int(c.Int("to"))), nil
				}),
			editAction("rename-step", "Change a step title",
				[]cli.Flag{
					&cli.StringFlag{Name: "step", Required: true, Usage: "step index or id"},
					&cli.StringFlag{Name: "title", Required: true},
				},
				func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error) {
					step, err := resolveStep(layout, c.String("step"))
					if err != nil {
						return nil, err
					}
					return draft.Rename(layout.Steps[step].ID, c.String("title")), nil
				}),
		},
	}
}

type opBuilder func(ctx context.Context, c *cli.Command, cfg cliConfig, layout domain.Layout) (draft.Operation, error)

func editAction(name, usage string, flags []cli.Flag, build opBuilder) *cli.Command {
	common := []cli.Flag{
		&cli.StringFlag{Name: "type", Required: true, Usage: "associate type"},
		&cli.StringFlag{Name: "step-removal", Value: string(draft.RemoveDiscard), Usage: "discard or migrate"},
		&cli.BoolFlag{Name: "dry-run", Usage: "print the pending changes without saving"},
		&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
	}
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: append(common, flags...),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy, err := draft.ParseStepRemovalPolicy(c.String("step-removal"))
			if err != nil {
				return err
			}
			associateType := c.String("type")
			var loaded domain.Layout
			if err := doLayoutGet(ctx, cfg, associateType, false, &loaded); err != nil {
				return err
			}
			op, err := build(ctx, c, cfg, loaded)
			if err != nil {
				return err
			}
			saved, changes, err := applyEdit(ctx, draft.New(draft.WithStepRemoval(policy)), loaded, op, c.Bool("dry-run"), layoutSaver(cfg, associateType))
			if err != nil {
				return err
			}
			if changes == "" {
				fmt.Println("no changes")
				return nil
			}
			if c.Bool("dry-run") {
				fmt.Print(changes)
				return nil
			}
			if c.Bool("json") {
				return printJSON(saved)
			}
			printLayout(saved)
			return nil
		},
	}
}

// applyEdit runs op in a fresh session over loaded. A refusal is returned as
// an error and nothing is saved. It returns the layout as committed, or the
// draft when dryRun is set, and the pending diff ("" when nothing changed).
func applyEdit(ctx context.Context, engine *draft.Engine, loaded domain.Layout, op draft.Operation, dryRun bool, saver *committedLayout) (domain.Layout, string, error) {
	session := draft.NewSession(engine, loaded)
	if outcome := session.Apply(op); outcome.Refused() {
		return loaded, "", fmt.Errorf("refused: %s", outcome.Message())
	}
	if !session.Dirty() {
		return loaded, "", nil
	}
	changes := session.Changes()
	if dryRun {
		return session.Draft(), changes, nil
	}
	if err := session.Commit(ctx, saver); err != nil {
		return loaded, changes, err
	}
	return saver.layout, changes, nil
}

// committedLayout is a draft.Saver that keeps the server's reply so the
// healed and renumbered layout can be printed.
type committedLayout struct {
	save   func(ctx context.Context, body json.RawMessage, out *domain.Layout) error
	layout domain.Layout
}

func (s *committedLayout) SaveLayout(ctx context.Context, layout domain.Layout) error {
	body, err := json.Marshal(layout)
	if err != nil {
		return err
	}
	return s.save(ctx, body, &s.layout)
}

func layoutSaver(cfg cliConfig, associateType string) *committedLayout {
	return &committedLayout{save: func(ctx context.Context, body json.RawMessage, out *domain.Layout) error {
		return doLayoutSave(ctx, cfg, associateType, body, out)
	}}
}

func resolveCatalogField(ctx context.Context, cfg cliConfig, ref string) (domain.FieldDefinition, error) {
	var fields []domain.FieldDefinition
	if err := doFieldsList(ctx, cfg, &fields); err != nil {
		return domain.FieldDefinition{}, err
	}
	for _, f := range fields {
		if matchesField(f, ref) {
			return f, nil
		}
	}
	return domain.FieldDefinition{}, fmt.Errorf("field %q is not in the catalog", ref)
}

func resolvePlacedField(layout domain.Layout, ref string) (uint, error) {
	for _, step := range layout.Steps {
		for _, f := range step.Fields {
			if matchesField(f.FieldDefinition, ref) {
				return f.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("field %q is not placed in the %s layout", ref, layout.AssociateType)
}

func matchesField(f domain.FieldDefinition, ref string) bool {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return f.ID == uint(id)
	}
	return f.FieldName == ref
}

// resolveStep accepts a step index or a step id.
func resolveStep(layout domain.Layout, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if idx := layout.StepIndex(ref); idx >= 0 {
		return idx, nil
	}
	idx, err := strconv.Atoi(ref)
	if err != nil || idx < 0 || idx >= len(layout.Steps) {
		return 0, fmt.Errorf("step %q not found (layout has %d steps)", ref, len(layout.Steps))
	}
	return idx, nil
}

func readJSONInput(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: not valid JSON", path)
	}
	return data, nil
}
