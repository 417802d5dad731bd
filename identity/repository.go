package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPrincipalNotFound signals that no principal exists for the identifier.
	ErrPrincipalNotFound = errors.New("identity: principal not found")
	// ErrDuplicateName signals the principal name is already registered.
	ErrDuplicateName = errors.New("identity: name already exists")
)

// Repository handles data access for principal identities.
type Repository interface {
	CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error)
	GetPrincipalByName(ctx context.Context, name string) (Principal, error)
	GetPrincipalByID(ctx context.Context, id string) (Principal, error)
}

// CreatePrincipalParams contains write parameters for registering principals.
type CreatePrincipalParams struct {
	Name       string
	SecretHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreatePrincipal inserts a new principal with a hashed secret.
func (r *PGRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	const insertSQL = `
		INSERT INTO principals (name, secret_hash)
		VALUES ($1, $2)
		RETURNING id, name, secret_hash, created_at
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, insertSQL, params.Name, params.SecretHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Principal{}, ErrDuplicateName
		}
		return Principal{}, fmt.Errorf("identity: create principal: %w", err)
	}

	return p, nil
}

// GetPrincipalByName retrieves a principal by its registered name.
func (r *PGRepository) GetPrincipalByName(ctx context.Context, name string) (Principal, error) {
	const selectSQL = `
		SELECT id, name, secret_hash, created_at
		FROM principals
		WHERE name = $1
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("identity: get principal by name: %w", err)
	}

	return p, nil
}

// GetPrincipalByID retrieves a principal by ID.
func (r *PGRepository) GetPrincipalByID(ctx context.Context, id string) (Principal, error) {
	const selectSQL = `
		SELECT id, name, secret_hash, created_at
		FROM principals
		WHERE id = $1
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("identity: get principal by id: %w", err)
	}

	return p, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	if err := row.Scan(&p.ID, &p.Name, &p.SecretHash, &p.CreatedAt); err != nil {
		return Principal{}, err
	}
	return p, nil
}
