package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loandocs/internal/domain"
)

const defaultRecentLimit = 3

// CorrectionStore is the append-only log of reviewer corrections.
type CorrectionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewCorrectionStore(db *sql.DB) *CorrectionStore {
	return &CorrectionStore{db: db, now: time.Now}
}

// RecordCorrection appends a correction unless both values are identical,
// in which case nothing is written and false is returned.
func (s *CorrectionStore) RecordCorrection(ctx context.Context, docType domain.DocumentType, field, previous, corrected string) (bool, error) {
	if previous == corrected {
		return false, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO corrections (doc_type, field_name, previous_value, corrected_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(docType), field, previous, corrected, s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert correction: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return true, nil
}

// RecordCorrections appends a reviewer's corrections in one transaction:
// either every changed record is stored or none is. Records with identical
// values are skipped. It returns the number of rows written.
func (s *CorrectionStore) RecordCorrections(ctx context.Context, records []domain.CorrectionRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin corrections: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO corrections (doc_type, field_name, previous_value, corrected_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare corrections: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	written := 0
	for _, r := range records {
		if r.PreviousValue == r.CorrectedValue {
			continue
		}
		if _, err := stmt.ExecContext(ctx, string(r.DocumentType), r.FieldName, r.PreviousValue, r.CorrectedValue, now); err != nil {
			return 0, fmt.Errorf("insert correction %s: %w: %w", r.FieldName, domain.ErrStoreUnavailable, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit corrections: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return written, nil
}

// RecentCorrections returns up to limit corrections for docType, newest
// first. A limit <= 0 means the default of 3.
func (s *CorrectionStore) RecentCorrections(ctx context.Context, docType domain.DocumentType, limit int) ([]domain.CorrectionRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_type, field_name, previous_value, corrected_value, created_at
		 FROM corrections
		 WHERE doc_type = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		string(docType), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := []domain.CorrectionRecord{}
	for rows.Next() {
		var c domain.CorrectionRecord
		var docTypeText string
		if err := rows.Scan(&c.ID, &docTypeText, &c.FieldName, &c.PreviousValue, &c.CorrectedValue, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w: %w", domain.ErrStoreUnavailable, err)
		}
		c.DocumentType = domain.DocumentType(docTypeText)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}

// CorrectionStats counts corrections per document type and field since the
// given time, most corrected first.
func (s *CorrectionStore) CorrectionStats(ctx context.Context, since time.Time) ([]domain.CorrectionStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_type, field_name, COUNT(*) AS cnt
		 FROM corrections
		 WHERE created_at >= ?
		 GROUP BY doc_type, field_name
		 ORDER BY cnt DESC, doc_type, field_name`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query correction stats: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []domain.CorrectionStat
	for rows.Next() {
		var st domain.CorrectionStat
		var docTypeText string
		if err := rows.Scan(&docTypeText, &st.FieldName, &st.CorrectionCount); err != nil {
			return nil, fmt.Errorf("scan correction stats: %w: %w", domain.ErrStoreUnavailable, err)
		}
		st.DocumentType = domain.DocumentType(docTypeText)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correction stats: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}
