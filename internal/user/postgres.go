package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maivankien/caro-online-server/pkg/apperrors"
)

// PostgresRepository Repository 的 PostgreSQL 實作
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository 創建 PostgreSQL 使用者存取
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// FindByID 依 id 查詢使用者
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, elo FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Elo)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// BatchGetElo 批次查詢多位使用者的 ELO
func (r *PostgresRepository) BatchGetElo(ctx context.Context, ids []string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, elo FROM users WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("batch get elo: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var elo int
		if err := rows.Scan(&id, &elo); err != nil {
			return nil, fmt.Errorf("scan elo row: %w", err)
		}
		result[id] = elo
	}
	return result, rows.Err()
}

// UpdateElo 寫回使用者的新 ELO
func (r *PostgresRepository) UpdateElo(ctx context.Context, id string, elo int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET elo = $1, updated_at = NOW() WHERE id = $2`, elo, id,
	)
	if err != nil {
		return fmt.Errorf("update elo: %w", err)
	}
	return nil
}
