package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound reports a photo id with no catalog row.
var ErrNotFound = errors.New("photo not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertPhoto(ctx context.Context, photo Photo) (Photo, error) {
	const insert = `
		INSERT INTO photos (id, wall_id, object_key, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, insert,
		photo.ID, photo.WallID, photo.ObjectKey, photo.ContentType, photo.SizeBytes,
	).Scan(&photo.CreatedAt)
	if err != nil {
		return Photo{}, fmt.Errorf("insert photo: %w", err)
	}
	return photo, nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, id string) (Photo, error) {
	const query = `
		SELECT id, wall_id, object_key, content_type, size_bytes, created_at
		FROM photos WHERE id = $1
	`
	var photo Photo
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&photo.ID, &photo.WallID, &photo.ObjectKey, &photo.ContentType, &photo.SizeBytes, &photo.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Photo{}, ErrNotFound
	}
	if err != nil {
		return Photo{}, fmt.Errorf("get photo: %w", err)
	}
	return photo, nil
}

func (s *PostgresStore) DeletePhoto(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPhotos returns every photo on a wall in a deterministic order. This
// is the snapshot read behind the polling fallback, so it must stay free of
// side effects.
func (s *PostgresStore) ListPhotos(ctx context.Context, wallID string) ([]Photo, error) {
	const query = `
		SELECT id, wall_id, object_key, content_type, size_bytes, created_at
		FROM photos WHERE wall_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, wallID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var photo Photo
		if err := rows.Scan(
			&photo.ID, &photo.WallID, &photo.ObjectKey, &photo.ContentType, &photo.SizeBytes, &photo.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
