package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pinintel/internal/domain"
)

// Store is the owned blob storage images are re-hosted into. Clients are
// never handed a third-party hotlink; they get baseURL/{key} served from
// here.
type Store struct {
	db      *sql.DB
	baseURL string
}

func New(db *sql.DB, baseURL string) *Store {
	return &Store{db: db, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put writes (or overwrites) one image and returns its public URL. The tier
// tag travels along for operational queries; it is not part of the key.
func (s *Store) Put(ctx context.Context, key, tier, contentType string, data []byte, originURL string) (string, error) {
	if key == "" {
		return "", errors.New("media: empty key")
	}
	_, err := s.db.ExecContext(ctx, upsertMediaSQL, key, tier, contentType, data, originURL)
	if err != nil {
		return "", err
	}
	return s.URL(key), nil
}

func (s *Store) URL(key string) string { return s.baseURL + "/" + key }

func (s *Store) Get(ctx context.Context, key string) (contentType string, data []byte, err error) {
	row := s.db.QueryRowContext(ctx, getMediaSQL, key)
	if err := row.Scan(&contentType, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, domain.ErrNotFound
		}
		return "", nil, err
	}
	return contentType, data, nil
}
