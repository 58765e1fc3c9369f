// Package learning turns reviewer corrections into prompt notes that steer
// later extractions of the same document type toward the corrected format.
package learning

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"loandocs/internal/domain"
)

const DefaultContextLimit = 3

// Redaction controls how stored values appear in learning notes.
type Redaction string

const (
	// RedactLiteral embeds the stored values verbatim.
	RedactLiteral Redaction = "literal"
	// RedactPattern replaces every value by its shape (digits become 9,
	// letters become A or a) so no stored value reaches a later prompt.
	RedactPattern Redaction = "pattern"
)

func ParseRedaction(s string) (Redaction, error) {
	switch Redaction(strings.ToLower(strings.TrimSpace(s))) {
	case "", RedactLiteral:
		return RedactLiteral, nil
	case RedactPattern:
		return RedactPattern, nil
	default:
		return "", fmt.Errorf("unknown learning redaction %q (want literal or pattern)", s)
	}
}

// CorrectionStore persists corrections. Implementations must skip identical
// values and return records newest first.
type CorrectionStore interface {
	RecordCorrection(ctx context.Context, docType domain.DocumentType, field, previous, corrected string) (bool, error)
	RecordCorrections(ctx context.Context, records []domain.CorrectionRecord) (int, error)
	RecentCorrections(ctx context.Context, docType domain.DocumentType, limit int) ([]domain.CorrectionRecord, error)
}

type Loop struct {
	store     CorrectionStore
	logger    *zap.Logger
	limit     int
	redaction Redaction
}

type Option func(*Loop)

func WithLimit(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.limit = n
		}
	}
}

func WithRedaction(r Redaction) Option {
	return func(l *Loop) {
		if r != "" {
			l.redaction = r
		}
	}
}

func NewLoop(store CorrectionStore, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		store:     store,
		logger:    logger,
		limit:     DefaultContextLimit,
		redaction: RedactLiteral,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordCorrection stores a reviewer's change to one field. Write failures
// are returned: corrections are the only feedback the loop gets.
func (l *Loop) RecordCorrection(ctx context.Context, docType domain.DocumentType, field, predicted, corrected string) (bool, error) {
	written, err := l.store.RecordCorrection(ctx, docType, field, predicted, corrected)
	if err != nil {
		l.logger.Error("learning record failed",
			zap.String("doc_type", string(docType)),
			zap.String("field", field),
			zap.Error(err),
		)
		return false, err
	}
	if written {
		l.logger.Info("learning record",
			zap.String("doc_type", string(docType)),
			zap.String("field", field),
		)
	}
	return written, nil
}

// RecordCorrections stores every changed field of one review atomically.
func (l *Loop) RecordCorrections(ctx context.Context, records []domain.CorrectionRecord) (int, error) {
	written, err := l.store.RecordCorrections(ctx, records)
	if err != nil {
		l.logger.Error("learning record failed",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		return 0, err
	}
	if written > 0 {
		l.logger.Info("learning record",
			zap.String("doc_type", string(records[0].DocumentType)),
			zap.Int("records", written),
		)
	}
	return written, nil
}

// BuildContext renders the most recent corrections for docType as prompt
// notes, newest first. It returns "" when there is no history or the store
// cannot be read; extraction then runs without a learning signal.
func (l *Loop) BuildContext(ctx context.Context, docType domain.DocumentType) string {
	records, err := l.store.RecentCorrections(ctx, docType, l.limit)
	if err != nil {
		l.logger.Warn("learning context unavailable, continuing without it",
			zap.String("doc_type", string(docType)),
			zap.Error(err),
		)
		return ""
	}

	var b strings.Builder
	for _, r := range records {
		prev, corrected := r.PreviousValue, r.CorrectedValue
		if l.redaction == RedactPattern {
			prev, corrected = Shape(prev), Shape(corrected)
		}
		fmt.Fprintf(&b,
			"- FORMATTING RULE for '%s': previously, the user corrected the format '%s' to '%s'. Ensure you apply a similar FORMAT pattern (e.g. hyphens, spacing) to the data you see now, but DO NOT copy the values.\n",
			r.FieldName, prev, corrected,
		)
	}
	l.logger.Debug("learning context",
		zap.String("doc_type", string(docType)),
		zap.Int("rules", len(records)),
	)
	return b.String()
}

// Shape keeps the layout of s while hiding its content.
func Shape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune('9')
		case unicode.IsUpper(r):
			b.WriteRune('A')
		case unicode.IsLetter(r):
			b.WriteRune('a')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
