package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docdigitizer/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// SQLStore implements DocumentStore on sqlite3 or mysql.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const documentColumns = `id, owner_key, name, is_multi_page, declared_page_count, uploaded_at,
	document_extracted, extracted_at, processing_started_at, processing_finished_at, extraction_error`

const pageColumns = `p.id, p.document_id, p.page_number, p.filename, p.original_filename, p.file_path,
	p.extension, p.mime_type, p.source, p.captured_at, p.processed, p.processed_at, p.extracted`

func (s *SQLStore) Insert(ctx context.Context, doc *models.DocumentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	merged, err := encodeFields(doc.DocumentExtracted)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerKey, doc.Name, doc.IsMultiPage, doc.DeclaredPageCount, doc.UploadedAt.UTC(),
		merged, nullTime(doc.ExtractedAt), nullTime(doc.ProcessingStartedAt), nullTime(doc.ProcessingFinishedAt),
		doc.ExtractionError,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("insert document %s: %w", doc.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert document: %w", err)
	}

	for _, p := range doc.Pages {
		extracted, err := encodeFields(p.Extracted)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pages (id, document_id, page_number, filename, original_filename, file_path,
				extension, mime_type, source, captured_at, processed, processed_at, extracted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, doc.ID, p.PageNumber, p.Filename, p.OriginalFilename, p.FilePath,
			p.Extension, p.MIMEType, p.Source, p.Timestamp.UTC(), p.Processed, nullTime(p.ProcessedAt), extracted,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("insert page %s: %w", p.ID, ErrDuplicate)
			}
			return fmt.Errorf("insert page %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}

	pages, err := s.queryPages(ctx, `SELECT `+pageColumns+` FROM pages p WHERE p.document_id = ? ORDER BY p.page_number`, id)
	if err != nil {
		return nil, err
	}
	doc.Pages = pages[id]
	return doc, nil
}

func (s *SQLStore) FindByOwner(ctx context.Context, ownerKey string) ([]*models.DocumentRecord, error) {
	return s.findMany(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_key = ? ORDER BY uploaded_at DESC`,
		`SELECT `+pageColumns+` FROM pages p JOIN documents d ON d.id = p.document_id
			WHERE d.owner_key = ? ORDER BY p.document_id, p.page_number`,
		ownerKey,
	)
}

func (s *SQLStore) FindAll(ctx context.Context) ([]*models.DocumentRecord, error) {
	return s.findMany(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC`,
		`SELECT `+pageColumns+` FROM pages p ORDER BY p.document_id, p.page_number`,
	)
}

// findMany reads the document rows fully before querying pages; sqlite runs
// with a single connection and cannot hold two open cursors.
func (s *SQLStore) findMany(ctx context.Context, docQuery, pageQuery string, args ...any) ([]*models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, docQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var docs []*models.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list documents: %w", err)
	}
	rows.Close()
	if len(docs) == 0 {
		return docs, nil
	}

	pages, err := s.queryPages(ctx, pageQuery, args...)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		doc.Pages = pages[doc.ID]
	}
	return docs, nil
}

func (s *SQLStore) queryPages(ctx context.Context, query string, args ...any) (map[string][]models.PageAsset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.PageAsset)
	for rows.Next() {
		var (
			p           models.PageAsset
			docID       string
			processedAt sql.NullTime
			extracted   sql.NullString
		)
		if err := rows.Scan(&p.ID, &docID, &p.PageNumber, &p.Filename, &p.OriginalFilename, &p.FilePath,
			&p.Extension, &p.MIMEType, &p.Source, &p.Timestamp, &p.Processed, &processedAt, &extracted); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.ProcessedAt = timePtr(processedAt)
		if p.Extracted, err = decodeFields(extracted); err != nil {
			return nil, fmt.Errorf("decode page %s: %w", p.ID, err)
		}
		out[docID] = append(out[docID], p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.DocumentRecord, error) {
	var (
		doc                         models.DocumentRecord
		merged                      sql.NullString
		extractedAt, started, ended sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.OwnerKey, &doc.Name, &doc.IsMultiPage, &doc.DeclaredPageCount, &doc.UploadedAt,
		&merged, &extractedAt, &started, &ended, &doc.ExtractionError); err != nil {
		return nil, err
	}
	fields, err := decodeFields(merged)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	doc.DocumentExtracted = fields
	doc.ExtractedAt = timePtr(extractedAt)
	doc.ProcessingStartedAt = timePtr(started)
	doc.ProcessingFinishedAt = timePtr(ended)
	return &doc, nil
}

func (s *SQLStore) MarkProcessingStarted(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "mark processing started",
		`UPDATE documents SET processing_started_at = ? WHERE id = ?`, at.UTC(), id)
}

func (s *SQLStore) MarkProcessingFinished(ctx context.Context, id string, at time.Time, errMsg string) error {
	return s.execOne(ctx, "mark processing finished",
		`UPDATE documents SET processing_finished_at = ?, extraction_error = ? WHERE id = ?`, at.UTC(), errMsg, id)
}

func (s *SQLStore) MarkPageExtracted(ctx context.Context, docID, pageID string, fields models.StructuredFields, at time.Time) (bool, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encode fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET processed = ?, processed_at = ?, extracted = ?
		WHERE document_id = ? AND id = ? AND processed = ?`,
		true, at.UTC(), string(data), docID, pageID, false)
	if err != nil {
		return false, fmt.Errorf("mark page extracted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark page extracted: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) SetDocumentExtracted(ctx context.Context, docID string, fields models.StructuredFields, at time.Time) (bool, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encode fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET document_extracted = ?, extracted_at = ?
		WHERE id = ? AND document_extracted IS NULL`,
		string(data), at.UTC(), docID)
	if err != nil {
		return false, fmt.Errorf("set document extracted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set document extracted: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeFields(f *models.StructuredFields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode fields: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeFields(v sql.NullString) (*models.StructuredFields, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var f models.StructuredFields
	if err := json.Unmarshal([]byte(v.String), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
