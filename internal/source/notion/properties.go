package notion

import (
	"log/slog"
	"strings"

	"notion_mirror/internal/domain"
)

// Semantic fields are resolved against a page's property bag in four steps:
// schema-mapped ID, the property name itself (query responses key by name),
// a table of property IDs the database used historically, and finally a scan
// for any kind-matching property whose name or value contains the field name.
// The chain exists because Notion property IDs are not stable over time; a
// field must not come back empty while a reasonable guess exists.
var legacyIDs = map[string][]string{
	"Task Name":        {"title"},
	"Week":             {"FsRO"},
	"Phase":            {"ZyVe"},
	"Phase Number":     {"`uWQ"},
	"Status":           {"Z[au"},
	"Priority":         {"WpFO"},
	"Assignee":         {`t[K\`},
	"Category":         {"}WSF"},
	"Description":      {"=HYC"},
	"Success Criteria": {"=GGp"},
	"Dependencies":     {`kDm\`},
	"Risks":            {"V>|B"},
	"Due Date":         {"oY^i"},
}

type resolver struct {
	props   map[string]Property
	mapping map[string]string
	logger  *slog.Logger
}

func newResolver(props map[string]Property, mapping map[string]string, logger *slog.Logger) *resolver {
	return &resolver{props: props, mapping: mapping, logger: logger}
}

func (r *resolver) lookup(name, kind string) (Property, bool) {
	if id, ok := r.mapping[name]; ok {
		if p, ok := r.props[id]; ok && p.Type == kind {
			return p, true
		}
	}
	for _, key := range []string{name, strings.ToLower(name)} {
		if p, ok := r.props[key]; ok && p.Type == kind {
			return p, true
		}
	}
	for _, id := range legacyIDs[name] {
		if p, ok := r.props[id]; ok && p.Type == kind {
			return p, true
		}
	}
	return r.scan(name, kind)
}

func (r *resolver) scan(name, kind string) (Property, bool) {
	needle := strings.ToLower(name)
	for key, p := range r.props {
		if p.Type != kind {
			continue
		}
		if strings.Contains(strings.ToLower(key), needle) {
			return p, true
		}
		if kind == "select" && p.Select != nil && strings.Contains(strings.ToLower(p.Select.Name), needle) {
			return p, true
		}
	}
	return Property{}, false
}

func (r *resolver) title(name string) string {
	if p, ok := r.lookup(name, "title"); ok {
		if text := plainText(p.Title); text != "" {
			return text
		}
	}
	// Any title-typed property will do; a page always has exactly one.
	for _, p := range r.props {
		if p.Type == "title" {
			if text := plainText(p.Title); text != "" {
				return text
			}
		}
	}
	return "Untitled"
}

func (r *resolver) selectName(name string) *string {
	if p, ok := r.lookup(name, "select"); ok && p.Select != nil && p.Select.Name != "" {
		return &p.Select.Name
	}
	// Newer databases migrate select columns to the status kind.
	if p, ok := r.lookup(name, "status"); ok && p.Status != nil && p.Status.Name != "" {
		return &p.Status.Name
	}
	return nil
}

func (r *resolver) number(name string) *float64 {
	if p, ok := r.lookup(name, "number"); ok && p.Number != nil {
		return p.Number
	}
	return nil
}

func (r *resolver) multiSelect(name string) []string {
	if p, ok := r.lookup(name, "multi_select"); ok {
		names := make([]string, 0, len(p.MultiSelect))
		for _, opt := range p.MultiSelect {
			names = append(names, opt.Name)
		}
		return names
	}
	return nil
}

func (r *resolver) richText(name string) *string {
	if p, ok := r.lookup(name, "rich_text"); ok {
		if text := plainText(p.RichText); text != "" {
			return &text
		}
	}
	return nil
}

func (r *resolver) date(name string) *string {
	if p, ok := r.lookup(name, "date"); ok && p.Date != nil && p.Date.Start != "" {
		return &p.Date.Start
	}
	return nil
}

func plainText(rts []RichText) string {
	var sb strings.Builder
	for _, rt := range rts {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// extractProperties maps a page's property bag onto the timeline fields.
// Unresolvable fields come back nil; nothing here can fail a record.
func extractProperties(props map[string]Property, mapping map[string]string, logger *slog.Logger) domain.Properties {
	r := newResolver(props, mapping, logger)

	for key, p := range props {
		if !knownKind(p.Type) {
			logger.Debug("unhandled property kind", "property", key, "kind", p.Type)
		}
	}

	return domain.Properties{
		Week:            r.number("Week"),
		Phase:           r.selectName("Phase"),
		PhaseNumber:     r.number("Phase Number"),
		Status:          r.selectName("Status"),
		Priority:        r.selectName("Priority"),
		Assignee:        r.selectName("Assignee"),
		Category:        r.multiSelect("Category"),
		Description:     r.richText("Description"),
		SuccessCriteria: r.richText("Success Criteria"),
		Dependencies:    r.richText("Dependencies"),
		Risks:           r.richText("Risks"),
		DueDate:         r.date("Due Date"),
	}
}

func knownKind(kind string) bool {
	switch kind {
	case "title", "rich_text", "number", "select", "multi_select", "status",
		"date", "checkbox", "url", "email", "phone_number", "formula",
		"created_time", "last_edited_time", "created_by", "last_edited_by",
		"people", "relation", "rollup", "files":
		return true
	}
	return false
}
