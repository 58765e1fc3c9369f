package extract

import (
	"fmt"
	"strings"

	"loandocs/internal/domain"
)

// FieldSpec describes one field the model is asked to return.
type FieldSpec struct {
	Name        string
	Description string
}

// Schema is the field list for one document type. Note is appended after the
// fields for open-ended schemas.
type Schema struct {
	Fields []FieldSpec
	Note   string
}

// Text renders the schema in the form substituted into the prompt.
func (s Schema) Text() string {
	var b strings.Builder
	b.WriteString("{\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "    %q: %q,\n", f.Name, f.Description)
	}
	if s.Note != "" {
		b.WriteString("    " + s.Note + "\n")
	}
	b.WriteString("}")
	return b.String()
}

// DefaultSchema applies to any document type without its own row.
var DefaultSchema = Schema{
	Fields: []FieldSpec{
		{"suggested_label", "A short classification of what this document appears to be (e.g., 'Invoice', 'Contract', 'Bank Statement', 'Receipt')."},
		{"summary", "A brief 1-sentence summary of the document contents."},
	},
	Note: "FIELDS THAT YOU FIND IMPORTANT IN THE DOCUMENT",
}

// Schemas maps each document type to its field schema. Adding a document
// type means adding a row here.
var Schemas = map[domain.DocumentType]Schema{
	domain.BankStatement: {Fields: []FieldSpec{
		{"account_holder_name", "Name of the person or entity owning the account."},
		{"account_number_masked", "Last 4 digits of the account number (e.g., '****1234')."},
		{"statement_start_date", "Start date of the statement period (YYYY-MM-DD)."},
		{"statement_end_date", "End date of the statement period (YYYY-MM-DD)."},
		{"starting_balance", "Balance at the beginning of the period (number)."},
		{"ending_balance", "Balance at the end of the period (number)."},
	}},
	domain.GovernmentID: {Fields: []FieldSpec{
		{"full_name", "Full legal name as displayed on the ID."},
		{"date_of_birth", "Date of birth (YYYY-MM-DD)."},
		{"id_number", "The unique license or passport number."},
		{"address", "Full residential address if present."},
		{"expiration_date", "Date the ID expires (YYYY-MM-DD)."},
	}},
	domain.W9Form: {Fields: []FieldSpec{
		{"legal_name", "Name as shown on your income tax return."},
		{"ein_or_ssn", "The Employer Identification Number or Social Security Number (digits only)."},
		{"business_address", "Address (number, street, and apt. or suite no.)."},
		{"tax_classification", "Check the appropriate box (e.g., 'Individual/proprietor', 'C Corporation', 'S Corporation', 'Partnership', 'Trust/estate', 'LLC')."},
		{"signature_present", "Boolean (true if a signature is visible in Part II, else false)."},
	}},
	domain.CertificateOfInsurance: {Fields: []FieldSpec{
		{"insured_name", "Name of the insured entity."},
		{"policy_number", "The policy number for General Liability or primary policy."},
		{"policy_effective_date", "Policy effective start date (YYYY-MM-DD)."},
		{"policy_expiration_date", "Policy expiration date (YYYY-MM-DD)."},
		{"coverage_types", "List of strings. Detect active sections like 'Commercial General Liability', 'Automobile Liability', 'Umbrella Liability', 'Workers Compensation'."},
	}},
}

// SchemaFor never fails: unrecognized types get DefaultSchema.
func SchemaFor(t domain.DocumentType) Schema {
	if s, ok := Schemas[t]; ok {
		return s
	}
	return DefaultSchema
}

// ResponseSchema is the JSON Schema of the extraction response.
func ResponseSchema() map[string]any {
	field := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":       map[string]any{"type": "string", "description": "The name of the field."},
			"value":      map[string]any{"type": "string", "description": "The value of the field."},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"page":       map[string]any{"type": "integer", "minimum": 1},
			"box_2d": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "number", "minimum": 0, "maximum": domain.BoxScale},
				"minItems":    4,
				"maxItems":    4,
				"description": "[ymin, xmin, ymax, xmax] on a 0-1000 scale.",
			},
		},
		"required":             []string{"name", "value", "confidence", "page"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"extracted_fields": map[string]any{
				"type":        "array",
				"items":       field,
				"description": "A list of extracted fields, each with a name, value, confidence, and page number.",
			},
		},
		"required":             []string{"extracted_fields"},
		"additionalProperties": false,
	}
}
