package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation           = "23505"
	foreignKeyViolation       = "23503"
	invalidTextRepresentation = "22P02"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new document. A (tenant, hash) collision returns ErrDuplicate.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    tenant_id,
    user_id,
    orig_filename,
    mime,
    bytes_sha256,
    size_bytes,
    case_ref,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var caseRef sql.NullString
	if doc.CaseRef != "" {
		caseRef = sql.NullString{String: doc.CaseRef, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, query,
		doc.ID,
		doc.TenantID,
		doc.UserID,
		doc.OrigFilename,
		doc.MIME,
		strings.ToLower(doc.SHA256),
		doc.SizeBytes,
		caseRef,
		doc.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const selectDocument = `
SELECT id, tenant_id, user_id, orig_filename, mime, bytes_sha256, size_bytes, case_ref, created_at
FROM documents
`

func (r *PGRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, selectDocument+`WHERE id = $1`, documentID))
}

func (r *PGRepo) FindByHash(ctx context.Context, tenantID, sha256Hex string) (Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, selectDocument+`WHERE tenant_id = $1 AND bytes_sha256 = $2`, tenantID, strings.ToLower(sha256Hex)))
}

func scanDocument(row *sql.Row) (Document, error) {
	var doc Document
	var caseRef sql.NullString
	err := row.Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.UserID,
		&doc.OrigFilename,
		&doc.MIME,
		&doc.SHA256,
		&doc.SizeBytes,
		&caseRef,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || hasCode(err, invalidTextRepresentation) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.SHA256 = strings.TrimSpace(doc.SHA256)
	doc.CaseRef = caseRef.String
	return doc, nil
}

// CreateVersion computes the next version number in the insert itself; a
// concurrent insert of the same number fails on the unique constraint.
func (r *PGRepo) CreateVersion(ctx context.Context, documentID, storageURI string) (Version, error) {
	const query = `
INSERT INTO document_versions (document_id, version, storage_uri, created_at)
SELECT $1, COALESCE(MAX(version), 0) + 1, $2, now()
FROM document_versions
WHERE document_id = $1
RETURNING id, version, created_at`

	v := Version{DocumentID: documentID, StorageURI: storageURI}
	err := r.DB.QueryRowContext(ctx, query, documentID, storageURI).Scan(&v.ID, &v.Version, &v.CreatedAt)
	if err != nil {
		if hasCode(err, foreignKeyViolation) || hasCode(err, invalidTextRepresentation) {
			return Version{}, ErrNotFound
		}
		return Version{}, err
	}
	return v, nil
}

func (r *PGRepo) LatestVersion(ctx context.Context, documentID string) (Version, error) {
	const query = `
SELECT id, document_id, version, storage_uri, ocr_text_uri, metrics, warnings, created_at
FROM document_versions
WHERE document_id = $1
ORDER BY version DESC
LIMIT 1`

	var v Version
	var ocrURI sql.NullString
	var metrics, warnings []byte
	err := r.DB.QueryRowContext(ctx, query, documentID).Scan(
		&v.ID,
		&v.DocumentID,
		&v.Version,
		&v.StorageURI,
		&ocrURI,
		&metrics,
		&warnings,
		&v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || hasCode(err, invalidTextRepresentation) {
			return Version{}, ErrNotFound
		}
		return Version{}, err
	}
	v.OCRTextURI = ocrURI.String
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &v.Metrics); err != nil {
			return Version{}, err
		}
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &v.Warnings); err != nil {
			return Version{}, err
		}
	}
	return v, nil
}

func (r *PGRepo) UpdateVersionResults(ctx context.Context, versionID int64, res Results) error {
	const query = `
UPDATE document_versions
SET metrics = $1, warnings = $2, ocr_text_uri = $3
WHERE id = $4`

	metrics, err := marshalJSONB(res.Metrics, "{}")
	if err != nil {
		return err
	}
	warnings, err := marshalJSONB(res.Warnings, "[]")
	if err != nil {
		return err
	}
	var ocrURI sql.NullString
	if res.OCRTextURI != "" {
		ocrURI = sql.NullString{String: res.OCRTextURI, Valid: true}
	}
	result, err := r.DB.ExecContext(ctx, query, metrics, warnings, ocrURI, versionID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSONB(value any, empty string) ([]byte, error) {
	switch v := value.(type) {
	case map[string]any:
		if v == nil {
			return []byte(empty), nil
		}
	case []string:
		if v == nil {
			return []byte(empty), nil
		}
	case nil:
		return []byte(empty), nil
	}
	return json.Marshal(value)
}

func isUniqueViolation(err error) bool { return hasCode(err, uniqueViolation) }

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

var _ Repo = (*PGRepo)(nil)
