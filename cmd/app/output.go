package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/application"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func joinAssociateTypes(types []domain.AssociateType) string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return formatList(out)
}

func printFields(items []domain.FieldDefinition) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.FieldName,
			item.Label,
			string(item.FieldType),
			strconv.FormatBool(item.IsBaseField),
			formatList(item.Options),
		})
	}
	printTable([]string{"ID", "NAME", "LABEL", "TYPE", "BASE", "OPTIONS"}, rows)
}

func printField(item domain.FieldDefinition) {
	printKV([][2]string{
		{"id", strconv.FormatUint(uint64(item.ID), 10)},
		{"field_name", item.FieldName},
		{"label", item.Label},
		{"type", string(item.FieldType)},
		{"base", strconv.FormatBool(item.IsBaseField)},
		{"deletable", strconv.FormatBool(item.IsDeletable)},
		{"options", formatList(item.Options)},
		{"created_at", formatTime(item.CreatedAt)},
	})
}

func printUsage(item fieldUsage) {
	printKV([][2]string{
		{"id", strconv.FormatUint(uint64(item.ID), 10)},
		{"used_by", formatList(item.AssociateTypes)},
	})
}

func printLayout(layout domain.Layout) {
	fmt.Printf("%s: %d steps, %d fields\n", layout.AssociateType, len(layout.Steps), layout.FieldCount())
	rows := make([][]string, 0, layout.FieldCount()+len(layout.Steps))
	for si, step := range layout.Steps {
		if len(step.Fields) == 0 {
			rows = append(rows, []string{strconv.Itoa(si), step.Title, "-", "-", "-", "-", "-"})
			continue
		}
		for _, field := range step.Fields {
			rows = append(rows, []string{
				strconv.Itoa(si),
				step.Title,
				strconv.Itoa(field.DisplayOrder),
				field.FieldName,
				string(field.FieldType),
				strconv.FormatBool(field.IsRequired),
				formatConditions(field.VisibilityConditions),
			})
		}
	}
	printTable([]string{"STEP", "TITLE", "ORDER", "FIELD", "TYPE", "REQUIRED", "VISIBLE_WHEN"}, rows)
}

func formatConditions(c *domain.VisibilityConditions) string {
	if c.Empty() {
		return "always"
	}
	parts := make([]string, 0, len(c.Rules)+1)
	for _, rule := range c.Rules {
		part := rule.TargetFieldName + " " + string(rule.Operator)
		if rule.Value != nil {
			part += " " + strconv.Quote(*rule.Value)
		}
		parts = append(parts, part)
	}
	out := strings.Join(parts, " "+string(c.Relation)+" ")
	if len(c.Roles) > 0 {
		if out != "" {
			out += "; "
		}
		out += "roles " + strings.Join(c.Roles, ",")
	}
	return out
}

func printEvaluation(out application.EvaluateResult) {
	rows := make([][]string, 0)
	for _, step := range out.Steps {
		for _, field := range step.Fields {
			rows = append(rows, []string{
				strconv.Itoa(step.Index),
				step.Title,
				field.FieldName,
				field.Label,
				strconv.FormatBool(field.Required),
			})
		}
	}
	printTable([]string{"STEP", "TITLE", "FIELD", "LABEL", "REQUIRED"}, rows)
	if len(out.Missing) == 0 {
		fmt.Println("can advance: yes")
		return
	}
	missing := make([]string, 0, len(out.Missing))
	for _, m := range out.Missing {
		missing = append(missing, fmt.Sprintf("%s (step %d)", m.FieldName, m.StepIndex))
	}
	fmt.Printf("can advance: no, missing %s\n", strings.Join(missing, ", "))
}

func printAuditLogs(items []domain.AuditLog) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Action,
			item.TargetType,
			item.TargetKey,
			compactJSON(item.Metadata),
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "ACTION", "TARGET_TYPE", "TARGET", "METADATA", "AT"}, rows)
}

func compactJSON(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "-"
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(b)
}
