package documents

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return &PGRepo{DB: database}, mock
}

func TestPGRepoCreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	doc := Document{ID: "doc-1", TenantID: "t1", UserID: "u1", OrigFilename: "a.pdf", MIME: "application/pdf", SHA256: "ABC", SizeBytes: 10, CreatedAt: now}

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("doc-1", "t1", "u1", "a.pdf", "application/pdf", "abc", int64(10), nil, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	if err := repo.Create(context.Background(), doc); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFindByHash(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	cols := []string{"id", "tenant_id", "user_id", "orig_filename", "mime", "bytes_sha256", "size_bytes", "case_ref", "created_at"}

	mock.ExpectQuery("SELECT id, tenant_id, user_id").
		WithArgs("t1", "abc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("doc-1", "t1", "u1", "a.pdf", "application/pdf", "abc", int64(10), nil, now))
	mock.ExpectQuery("SELECT id, tenant_id, user_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	doc, err := repo.FindByHash(context.Background(), "t1", "ABC")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if doc.ID != "doc-1" || doc.CaseRef != "" {
		t.Fatalf("unexpected doc %+v", doc)
	}
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCreateVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO document_versions").
		WithArgs("doc-1", "t1/ab/abc/v1/a.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).AddRow(int64(5), 3, now))

	v, err := repo.CreateVersion(context.Background(), "doc-1", "t1/ab/abc/v1/a.pdf")
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v.ID != 5 || v.Version != 3 || v.DocumentID != "doc-1" {
		t.Fatalf("unexpected version %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoLatestVersionDecodesJSON(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	cols := []string{"id", "document_id", "version", "storage_uri", "ocr_text_uri", "metrics", "warnings", "created_at"}

	mock.ExpectQuery("SELECT id, document_id, version").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), "doc-1", 2, "key", "ocr-key", []byte(`{"page_count":3}`), []byte(`["w1"]`), now))

	v, err := repo.LatestVersion(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if v.Metrics["page_count"] != float64(3) || len(v.Warnings) != 1 || v.OCRTextURI != "ocr-key" {
		t.Fatalf("unexpected version %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateVersionResults(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE document_versions").
		WithArgs([]byte(`{"ocr_ok":false}`), []byte(`[]`), nil, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE document_versions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "k", int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateVersionResults(context.Background(), 5, Results{Metrics: map[string]any{"ocr_ok": false}})
	if err != nil {
		t.Fatalf("UpdateVersionResults: %v", err)
	}
	err = repo.UpdateVersionResults(context.Background(), 6, Results{OCRTextURI: "k"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoMalformedIDsAreNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	badID := &pgconn.PgError{Code: "22P02"}

	mock.ExpectQuery("SELECT id, tenant_id").WithArgs("nope").WillReturnError(badID)
	mock.ExpectQuery("SELECT id, document_id, version").WithArgs("nope").WillReturnError(badID)

	if _, err := repo.GetByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID err = %v, want ErrNotFound", err)
	}
	if _, err := repo.LatestVersion(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestVersion err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
