package extract

import (
	"sort"
	"strings"
)

// SchemaVersion is bumped whenever a built-in schema gains, loses or renames a
// field. It is stamped on audit records so old logs can be replayed knowingly.
const SchemaVersion = 1

// Field maps an exposed field name to a gjson path inside tool_input.
type Field struct {
	Name string
	Path string
}

// Schema is the fixed set of fields a tool exposes to rules.
type Schema struct {
	Tool   string
	Fields []Field
}

// FieldNames returns the schema's field names in declared order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Has reports whether the schema exposes the named field.
func (s Schema) Has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// schemas is the closed registry of known tools. Adding a tool means adding
// an entry here; rule evaluation never needs to change.
var schemas = map[string]Schema{
	"Bash": {Tool: "Bash", Fields: []Field{
		{Name: "command", Path: "command"},
		{Name: "description", Path: "description"},
	}},
	"Read": {Tool: "Read", Fields: []Field{
		{Name: "file_path", Path: "file_path"},
	}},
	"Write": {Tool: "Write", Fields: []Field{
		{Name: "file_path", Path: "file_path"},
		{Name: "content", Path: "content"},
	}},
	"Edit": {Tool: "Edit", Fields: []Field{
		{Name: "file_path", Path: "file_path"},
		{Name: "old_string", Path: "old_string"},
		{Name: "new_string", Path: "new_string"},
	}},
	"MultiEdit": {Tool: "MultiEdit", Fields: []Field{
		{Name: "file_path", Path: "file_path"},
	}},
	// file_path aliases notebook_path so path rules written for file tools
	// also cover notebooks.
	"NotebookEdit": {Tool: "NotebookEdit", Fields: []Field{
		{Name: "notebook_path", Path: "notebook_path"},
		{Name: "file_path", Path: "notebook_path"},
	}},
	"Glob": {Tool: "Glob", Fields: []Field{
		{Name: "pattern", Path: "pattern"},
		{Name: "path", Path: "path"},
	}},
	"Grep": {Tool: "Grep", Fields: []Field{
		{Name: "pattern", Path: "pattern"},
		{Name: "path", Path: "path"},
		{Name: "glob", Path: "glob"},
	}},
	"LS": {Tool: "LS", Fields: []Field{
		{Name: "path", Path: "path"},
	}},
	"Task": {Tool: "Task", Fields: []Field{
		{Name: "subagent_type", Path: "subagent_type"},
		{Name: "prompt", Path: "prompt"},
		{Name: "description", Path: "description"},
	}},
	"WebFetch": {Tool: "WebFetch", Fields: []Field{
		{Name: "url", Path: "url"},
		{Name: "prompt", Path: "prompt"},
	}},
	"WebSearch": {Tool: "WebSearch", Fields: []Field{
		{Name: "query", Path: "query"},
	}},
}

// Lookup returns the schema for a tool.
func Lookup(tool string) (Schema, bool) {
	s, ok := schemas[tool]
	return s, ok
}

// HasField reports whether the tool's schema exposes the named field.
// Tools without a schema expose no fields.
func HasField(tool, field string) bool {
	s, ok := schemas[tool]
	return ok && s.Has(field)
}

// Tools returns the names of all tools with a schema, sorted.
func Tools() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// subjectFields are the fields that best summarize an invocation, in order.
var subjectFields = []string{"command", "file_path", "notebook_path", "url", "pattern", "path", "query", "subagent_type"}

// Subject returns the single most telling field value, flattened to one
// line, for listings and alerts. It returns "" when none is present.
func Subject(fields map[string]string) string {
	for _, k := range subjectFields {
		if v, ok := fields[k]; ok && v != "" {
			return strings.ReplaceAll(v, "\n", " ")
		}
	}
	return ""
}
