package domain

import (
	"strings"
	"time"
)

type DocumentType string

const (
	BankStatement          DocumentType = "bank_statement"
	GovernmentID           DocumentType = "government_id"
	W9Form                 DocumentType = "w9_form"
	CertificateOfInsurance DocumentType = "certificate_of_insurance"
	Unknown                DocumentType = "unknown"
)

// KnownDocumentTypes lists the taxonomy in display order.
var KnownDocumentTypes = []DocumentType{
	BankStatement,
	GovernmentID,
	W9Form,
	CertificateOfInsurance,
	Unknown,
}

func ParseDocumentType(s string) DocumentType {
	return DocumentType(strings.ToLower(strings.TrimSpace(s)))
}

func (t DocumentType) Known() bool {
	for _, k := range KnownDocumentTypes {
		if k == t {
			return true
		}
	}
	return false
}

func (t DocumentType) String() string {
	return string(t)
}

// DocumentRef is the opaque handle returned by a document loader and passed to
// every model call for that document.
type DocumentRef string

type ClassificationResult struct {
	DocumentType DocumentType `json:"document_type"`
	Confidence   float64      `json:"confidence"`
	Reasoning    string       `json:"reasoning"`
}

// Corrected returns the human-overridden result. A human decision is final, so
// confidence becomes 1.0.
func (r ClassificationResult) Corrected(t DocumentType) ClassificationResult {
	return ClassificationResult{
		DocumentType: t,
		Confidence:   1.0,
		Reasoning:    r.Reasoning,
	}
}

type ExtractedField struct {
	Name       string       `json:"name"`
	Value      string       `json:"value"`
	Confidence float64      `json:"confidence"`
	Page       int          `json:"page"`
	Box        *BoundingBox `json:"box_2d,omitempty"`
}

type CorrectionRecord struct {
	ID             int64
	DocumentType   DocumentType
	FieldName      string
	PreviousValue  string
	CorrectedValue string
	CreatedAt      time.Time
}

type CorrectionStat struct {
	DocumentType    DocumentType `json:"doc_type"`
	FieldName       string       `json:"field_name"`
	CorrectionCount int          `json:"correction_count"`
}

// Usage is the token accounting reported by a model call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_token_count"`
	CandidatesTokens int64 `json:"candidates_token_count"`
	ThoughtsTokens   int64 `json:"thoughts_token_count"`
}

func (u Usage) TotalTokens() int64 {
	return u.PromptTokens + u.CandidatesTokens + u.ThoughtsTokens
}

func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CandidatesTokens += other.CandidatesTokens
	u.ThoughtsTokens += other.ThoughtsTokens
}
