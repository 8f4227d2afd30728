package files

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateKey is returned when a record for the storage key already exists.
var ErrDuplicateKey = errors.New("file metadata already exists for storage key")

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles file metadata persistence in PostgreSQL.
type Repository struct {
	db Querier
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// Save inserts rec and returns a copy with ID and CreatedAt filled in.
func (r *Repository) Save(ctx context.Context, rec *Record) (*Record, error) {
	out := *rec
	err := r.db.QueryRow(ctx,
		`INSERT INTO file_metadata (original_name, content_type, size, storage_key, uploaded_by, lesson_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		rec.OriginalName, rec.ContentType, rec.Size, rec.StorageKey, rec.UploadedBy, rec.LessonID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("save file metadata: %w", err)
	}
	return &out, nil
}

// FindByKey fetches the record referencing the given storage key.
func (r *Repository) FindByKey(ctx context.Context, key string) (*Record, error) {
	rec := &Record{}
	err := r.db.QueryRow(ctx,
		`SELECT id, original_name, content_type, size, storage_key, uploaded_by, lesson_id, created_at
		 FROM file_metadata WHERE storage_key = $1`,
		key,
	).Scan(&rec.ID, &rec.OriginalName, &rec.ContentType, &rec.Size, &rec.StorageKey, &rec.UploadedBy, &rec.LessonID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find file metadata by key: %w", err)
	}
	return rec, nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
