// Package mapper converts remote workspace records into canonical local
// entities. Mapping is pure and total: missing or malformed properties
// degrade to defaults (empty strings, nil dates and numbers, false flags)
// instead of failing the record.
package mapper

import (
	"strings"
	"time"

	"github.com/existflow/taskmirror/internal/config"
	"github.com/existflow/taskmirror/internal/model"
	"github.com/existflow/taskmirror/internal/remote"
)

// Map converts one remote record into an entity using the configured field
// schema. The clientId of a remote-sourced entity is its remote id, so
// repeated syncs address the same local row. Mapper output is always synced;
// only the store introduces local-only or pending-push states.
func Map(rec remote.RemoteRecord, schema config.FieldSchema) model.Entity {
	remoteID := rec.ID
	status := extractStatus(rec, schema.Status)

	return model.Entity{
		ClientID: rec.ID,
		RemoteID: &remoteID,
		Fields: model.Fields{
			Title:            extractText(rec, schema.Title),
			Status:           status,
			NormalizedStatus: strings.ToLower(status),
			Date:             extractDateStart(rec, schema.Date),
			DateEnd:          extractDateEnd(rec, schema.Date),
			Urgent:           extractCheckbox(rec, schema.Urgent),
			Important:        extractCheckbox(rec, schema.Important),
			HardDeadline:     extractCheckbox(rec, schema.HardDeadline),
			Note:             extractText(rec, schema.Note),
			SessionLength:    extractNumber(rec, schema.SessionLength),
			Estimate:         extractNumber(rec, schema.Estimate),
			Order:            extractNumber(rec, schema.Order),
		},
		CreatedAt:    rec.CreatedTime,
		LastEditedAt: rec.LastEditedTime,
		SyncStatus:   model.StatusSynced,
		LocalOnly:    false,
	}
}

// extractText assembles the plain text of a title or rich-text property by
// concatenating all fragments in order, with no added separators.
func extractText(rec remote.RemoteRecord, name string) string {
	prop, ok := rec.Properties[name]
	if !ok {
		return ""
	}

	var frags []remote.RichTextFrag
	switch prop.Type {
	case "title":
		frags = prop.Title
	case "rich_text":
		frags = prop.RichText
	default:
		return ""
	}

	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.PlainText)
	}
	return b.String()
}

// extractStatus reads a status property, falling back to select.
func extractStatus(rec remote.RemoteRecord, name string) string {
	prop, ok := rec.Properties[name]
	if !ok {
		return ""
	}
	if prop.Status != nil {
		return prop.Status.Name
	}
	if prop.Select != nil {
		return prop.Select.Name
	}
	return ""
}

func extractCheckbox(rec remote.RemoteRecord, name string) bool {
	prop, ok := rec.Properties[name]
	if !ok || prop.Checkbox == nil {
		return false
	}
	return *prop.Checkbox
}

func extractNumber(rec remote.RemoteRecord, name string) *float64 {
	prop, ok := rec.Properties[name]
	if !ok || prop.Number == nil {
		return nil
	}
	n := *prop.Number
	return &n
}

func extractDateStart(rec remote.RemoteRecord, name string) *time.Time {
	prop, ok := rec.Properties[name]
	if !ok || prop.Date == nil {
		return nil
	}
	return parseDate(prop.Date.Start)
}

func extractDateEnd(rec remote.RemoteRecord, name string) *time.Time {
	prop, ok := rec.Properties[name]
	if !ok || prop.Date == nil {
		return nil
	}
	return parseDate(prop.Date.End)
}

// parseDate accepts full timestamps and bare dates, since the workspace API
// emits either depending on whether the user set a time.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}
