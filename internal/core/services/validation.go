package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

const datePattern = `^\d{4}-\d{2}-\d{2}$`

// recordValidator checks extracted values against a schema. Each declared
// field compiles to its own JSON schema so one bad value never hides the
// others.
type recordValidator struct {
	schema  domain.Schema
	fields  map[string]*jsonschema.Schema
	columns map[string]*jsonschema.Schema
}

func newRecordValidator(schema domain.Schema) (*recordValidator, error) {
	v := &recordValidator{
		schema:  schema,
		fields:  make(map[string]*jsonschema.Schema),
		columns: make(map[string]*jsonschema.Schema),
	}
	for _, f := range schema.Fields {
		s, err := compileField("fields", f)
		if err != nil {
			return nil, err
		}
		v.fields[f.Name] = s
	}
	for _, f := range schema.RowFields {
		s, err := compileField("rows", f)
		if err != nil {
			return nil, err
		}
		v.columns[f.Name] = s
	}
	return v, nil
}

func compileField(group string, f domain.FieldSpec) (*jsonschema.Schema, error) {
	b, err := json.Marshal(fieldSchema(f))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", f.Name, err)
	}
	url := fmt.Sprintf("mem://%s/%s.json", group, f.Name)
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", f.Name, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", f.Name, err)
	}
	return s, nil
}

func fieldSchema(f domain.FieldSpec) map[string]any {
	m := map[string]any{}
	switch f.Type {
	case domain.FieldNumber:
		m["type"] = "number"
	case domain.FieldInteger:
		m["type"] = "integer"
	case domain.FieldBoolean:
		m["type"] = "boolean"
	case domain.FieldDate:
		m["type"] = "string"
		m["format"] = "date"
		m["pattern"] = datePattern
	default:
		m["type"] = "string"
	}
	if len(f.Enum) > 0 {
		enum := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			enum[i] = e
		}
		m["enum"] = enum
	}
	if f.Pattern != "" {
		m["pattern"] = f.Pattern
	}
	if f.Minimum != nil {
		m["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		m["maximum"] = *f.Maximum
	}
	return m
}

// apply validates and tags every value of rec in place. Invalid values are
// kept with low confidence. Duplicate rows collapse to their first
// occurrence, and people repeating the primary person or each other are
// dropped.
func (v *recordValidator) apply(rec *domain.StructuredRecord) {
	if rec.Fields == nil {
		rec.Fields = make(map[string]domain.FieldValue)
	}
	applyGroup(rec.Fields, v.schema.Fields, v.fields, "field")

	rows := rec.Rows[:0]
	seen := make(map[string]bool)
	for _, row := range rec.Rows {
		if row.Values == nil {
			row.Values = make(map[string]domain.FieldValue)
		}
		applyGroup(row.Values, v.schema.RowFields, v.columns, "column")
		key := groupKey(row.Values, v.schema.RowKey)
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}
	rec.Rows = rows

	people := rec.People[:0]
	known := map[string]bool{groupKey(rec.Fields, v.schema.PersonKey): true}
	for _, person := range rec.People {
		if person.Values == nil {
			continue
		}
		applyGroup(person.Values, v.schema.Fields, v.fields, "field")
		key := groupKey(person.Values, v.schema.PersonKey)
		if key == "" || known[key] {
			continue
		}
		known[key] = true
		people = append(people, person)
	}
	rec.People = people
}

// applyGroup validates values against specs. noun names the group in
// issues, as in "required field missing".
func applyGroup(values map[string]domain.FieldValue, specs []domain.FieldSpec, schemas map[string]*jsonschema.Schema, noun string) {
	for _, f := range specs {
		fv, ok := values[f.Name]
		if !ok || fv.Value == nil {
			if f.Required {
				values[f.Name] = invalid(fv, "required "+noun+" missing")
			} else {
				delete(values, f.Name)
			}
			continue
		}
		values[f.Name] = check(schemas[f.Name], f, fv)
	}
	for name, fv := range values {
		if _, ok := schemas[name]; !ok {
			values[name] = invalid(fv, noun+" not declared in schema")
		}
	}
}

// groupKey normalises the key entries of values. Without key columns
// every entry counts.
func groupKey(values map[string]domain.FieldValue, key []string) string {
	cols := key
	if len(cols) == 0 {
		for name := range values {
			cols = append(cols, name)
		}
		sort.Strings(cols)
	}
	parts := make([]string, len(cols))
	empty := true
	for i, c := range cols {
		if fv, ok := values[c]; ok && fv.Value != nil {
			parts[i] = strings.ToLower(strings.TrimSpace(fmt.Sprint(fv.Value)))
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(parts, "\x1f")
}

func check(schema *jsonschema.Schema, f domain.FieldSpec, fv domain.FieldValue) domain.FieldValue {
	fv.Value = coerce(f, fv.Value)
	if err := schema.Validate(fv.Value); err != nil {
		return invalid(fv, validationIssue(err))
	}
	fv.Valid = true
	fv.Issue = ""
	if fv.Confidence == "" {
		fv.Confidence = domain.ConfidenceHigh
	}
	return fv
}

func invalid(fv domain.FieldValue, issue string) domain.FieldValue {
	fv.Valid = false
	fv.Issue = issue
	fv.Confidence = domain.ConfidenceLow
	return fv
}

func validationIssue(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		return leaf.Message
	}
	return err.Error()
}

// coerce converts string values to the declared type where unambiguous.
func coerce(f domain.FieldSpec, value any) any {
	s, ok := value.(string)
	if !ok {
		if n, isInt := value.(int); isInt {
			return float64(n)
		}
		return value
	}
	s = strings.TrimSpace(s)

	switch f.Type {
	case domain.FieldNumber, domain.FieldInteger:
		if n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
			return n
		}
	case domain.FieldBoolean:
		if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
			return b
		}
	default:
		for _, e := range f.Enum {
			if strings.EqualFold(e, s) {
				return e
			}
		}
	}
	return s
}
