package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/postgres"
)

const selectColumns = "id, name, key, secret, created_at"

// scanApp scans a single row into an *App. The row must contain the columns listed in selectColumns.
func scanApp(row pgx.Row) (*App, error) {
	var a App
	if err := row.Scan(&a.ID, &a.Name, &a.Key, &a.Secret, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan app: %w", err)
	}
	return &a, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed app repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// FindByID returns the app with the given numeric id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*App, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM apps WHERE id = $1", selectColumns), id)
	a, err := scanApp(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// FindByKey returns the app with the given public key.
func (r *PGRepository) FindByKey(ctx context.Context, key string) (*App, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM apps WHERE key = $1", selectColumns), key)
	a, err := scanApp(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List returns all apps ordered by creation time.
func (r *PGRepository) List(ctx context.Context) ([]App, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM apps ORDER BY created_at", selectColumns))
	if err != nil {
		return nil, fmt.Errorf("query apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apps: %w", err)
	}
	return apps, nil
}

// insertAttempts bounds the key-collision retries on insert. A collision within the 24-char key space is already
// vanishingly unlikely.
const insertAttempts = 3

// Insert creates a new app with freshly generated credentials. A generated key that collides with an existing row
// is regenerated.
func (r *PGRepository) Insert(ctx context.Context, name string) (*App, error) {
	var lastErr error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		row := r.db.QueryRow(ctx,
			fmt.Sprintf("INSERT INTO apps (name, key, secret) VALUES ($1, $2, $3) RETURNING %s", selectColumns),
			name, GenerateKey(), GenerateSecret())
		a, err := scanApp(row)
		if err == nil {
			return a, nil
		}
		if !postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert app: %w", err)
		}
		r.log.Warn().Str("name", name).Msg("App key collision, regenerating")
		lastErr = err
	}
	return nil, fmt.Errorf("insert app: %w", lastErr)
}

// Delete removes an app. Returns ErrNotFound when no row matched.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM apps WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete app: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
