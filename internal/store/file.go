package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/taliaapp/apiserver/types"
)

const fileColumns = `id, user_id, key, location, content_type, size, original_name,
	mime_type, created_at, updated_at`

// FileRepository handles persistence for file metadata records.
type FileRepository struct {
	db DBTX
}

func NewFileRepository(db DBTX) *FileRepository {
	return &FileRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *FileRepository) WithTx(tx *sql.Tx) *FileRepository {
	return &FileRepository{db: tx}
}

func (r *FileRepository) Create(ctx context.Context, file types.File) (types.File, error) {
	now := time.Now()
	file.CreatedAt = now
	file.UpdatedAt = now

	const query = `
		INSERT INTO files (user_id, key, location, content_type, size,
			original_name, mime_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		file.UserID,
		file.Key,
		file.Location,
		file.ContentType,
		file.Size,
		file.OriginalName,
		file.MimeType,
		file.CreatedAt,
		file.UpdatedAt,
	).Scan(&file.ID); err != nil {
		return types.File{}, translateError(err)
	}
	return file, nil
}

func (r *FileRepository) GetByID(ctx context.Context, id int) (types.File, error) {
	const query = `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	var file types.File
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&file.ID,
		&file.UserID,
		&file.Key,
		&file.Location,
		&file.ContentType,
		&file.Size,
		&file.OriginalName,
		&file.MimeType,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.File{}, ErrNotFound
		}
		return types.File{}, err
	}
	return file, nil
}

func (r *FileRepository) ListByUser(ctx context.Context, userID int) ([]types.File, error) {
	const query = `SELECT ` + fileColumns + ` FROM files WHERE user_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []types.File{}
	for rows.Next() {
		var file types.File
		if err := rows.Scan(
			&file.ID,
			&file.UserID,
			&file.Key,
			&file.Location,
			&file.ContentType,
			&file.Size,
			&file.OriginalName,
			&file.MimeType,
			&file.CreatedAt,
			&file.UpdatedAt,
		); err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (r *FileRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM files WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
