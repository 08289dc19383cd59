package domain

import "time"

// Confidence tags how much a field value can be trusted.
type Confidence string

// Confidence levels.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// StructuredRecord holds the fields extracted from one document by one run.
type StructuredRecord struct {
	// DocumentID is the source document.
	DocumentID string

	// RunID identifies the extraction run that produced every value.
	RunID string

	// Backend names the extraction strategy.
	Backend string

	// Schema is the name of the target schema.
	Schema string

	// Fields maps declared field names to values.
	Fields map[string]FieldValue

	// Rows holds repeated table entries, such as lab results.
	Rows []Row

	// People holds further persons the document names, each keyed by the
	// schema fields. The first person found stays in Fields.
	People []Row

	// CreatedAt is when the run finished.
	CreatedAt time.Time
}

// Row is one entry of a repeated table.
type Row struct {
	Values map[string]FieldValue
}

// FieldValue is an extracted value with provenance.
type FieldValue struct {
	// Value is the extracted value (string, float64, bool or nil).
	Value any `json:"value"`

	// Confidence is the trust level of Value.
	Confidence Confidence `json:"confidence"`

	// Valid is false when Value failed schema validation.
	Valid bool `json:"valid"`

	// Issue describes why validation failed.
	Issue string `json:"issue,omitempty"`

	// Provenance records where the value came from.
	Provenance Provenance `json:"provenance"`
}

// Provenance ties a value to the run and source location that produced it.
type Provenance struct {
	RunID   string `json:"run_id"`
	Backend string `json:"backend"`

	// Page is the source page index, -1 when unknown.
	Page int `json:"page"`

	// ChunkID is the source chunk, empty when unknown.
	ChunkID string `json:"chunk_id,omitempty"`
}

// FieldType is the declared type of a schema field.
type FieldType string

// Field types.
const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
)

// FieldSpec declares one field of a schema.
type FieldSpec struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool

	// Enum restricts string values.
	Enum []string

	// Pattern is a regular expression string values must match.
	Pattern string

	// Minimum and Maximum bound numeric values when set.
	Minimum *float64
	Maximum *float64
}

// Schema is the shared output schema of every extraction strategy.
type Schema struct {
	Name string

	// Fields are single-valued fields.
	Fields []FieldSpec

	// RowFields describe the columns of repeated rows.
	RowFields []FieldSpec

	// RowKey names the columns that identify a duplicate row.
	RowKey []string

	// PersonKey names the fields that identify the same person twice.
	PersonKey []string
}

// Field returns the definition of a named field.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RowField returns the definition of a named row column.
func (s Schema) RowField(name string) (FieldSpec, bool) {
	for _, f := range s.RowFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MedicalReportSchema is the default schema for lab reports: patient
// demographics plus one row per lab test.
func MedicalReportSchema() Schema {
	return Schema{
		Name: "medical_report",
		Fields: []FieldSpec{
			{Name: "patient_first_name", Type: FieldString, Description: "Patient first name"},
			{Name: "patient_last_name", Type: FieldString, Description: "Patient last name"},
			{Name: "patient_dob", Type: FieldDate, Description: "Date of birth in YYYY-MM-DD format"},
			{Name: "patient_sex", Type: FieldString, Description: "Patient sex", Enum: []string{"M", "F", "X"}},
			{Name: "patient_phone", Type: FieldString, Description: "Patient phone number", Pattern: `^[+0-9 ()\-.]{6,}$`},
			{Name: "patient_address", Type: FieldString, Description: "Patient postal address"},
		},
		RowFields: []FieldSpec{
			{Name: "test_type", Type: FieldString, Description: "Panel or category of the test"},
			{Name: "test", Type: FieldString, Description: "Name of the test", Required: true},
			{Name: "result", Type: FieldNumber, Description: "Numeric result value", Required: true},
			{Name: "unit", Type: FieldString, Description: "Unit of the result"},
			{Name: "interval", Type: FieldString, Description: "Reference interval"},
			{Name: "observation", Type: FieldString, Description: "Whether the result is low, normal or high",
				Enum: []string{"low", "normal", "high", "unknown"}},
		},
		RowKey:    []string{"test_type", "test", "result", "unit"},
		PersonKey: []string{"patient_first_name", "patient_last_name", "patient_dob"},
	}
}
