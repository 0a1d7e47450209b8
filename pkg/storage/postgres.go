package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PostgresLinkStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkStorage(pool *pgxpool.Pool) *PostgresLinkStorage {
	return &PostgresLinkStorage{pool: pool}
}

const linkColumns = `id, short_code, target_url, owner_id, title, description, tags, password_hash, click_count, is_active, expires_at, created_at, updated_at`

func scanLink(row pgx.Row) (*ShortLink, error) {
	var link ShortLink
	err := row.Scan(&link.ID, &link.ShortCode, &link.TargetURL, &link.OwnerID,
		&link.Title, &link.Description, &link.Tags, &link.PasswordHash,
		&link.ClickCount, &link.IsActive, &link.ExpiresAt, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (s *PostgresLinkStorage) Insert(ctx context.Context, link *ShortLink) error {
	query := `INSERT INTO short_links (id, short_code, target_url, owner_id, title, description, tags, password_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := s.pool.Exec(ctx, query, link.ID, link.ShortCode, link.TargetURL, link.OwnerID,
		link.Title, link.Description, link.Tags, link.PasswordHash, link.ExpiresAt, link.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (s *PostgresLinkStorage) GetActiveByCode(ctx context.Context, code string) (*ShortLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM short_links WHERE short_code = $1 AND is_active`, linkColumns)
	return scanLink(s.pool.QueryRow(ctx, query, code))
}

func (s *PostgresLinkStorage) GetByID(ctx context.Context, id uuid.UUID) (*ShortLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM short_links WHERE id = $1`, linkColumns)
	return scanLink(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresLinkStorage) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ShortLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM short_links WHERE owner_id = $1 AND is_active ORDER BY created_at DESC LIMIT $2 OFFSET $3`, linkColumns)
	rows, err := s.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []*ShortLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *PostgresLinkStorage) Update(ctx context.Context, link *ShortLink) error {
	query := `UPDATE short_links SET title = $2, description = $3, tags = $4, password_hash = $5, expires_at = $6, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, link.ID, link.Title, link.Description, link.Tags, link.PasswordHash, link.ExpiresAt)
	return err
}

func (s *PostgresLinkStorage) Deactivate(ctx context.Context, id, ownerID uuid.UUID) (*ShortLink, error) {
	query := fmt.Sprintf(`UPDATE short_links SET is_active = false, updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND is_active
		RETURNING %s`, linkColumns)
	return scanLink(s.pool.QueryRow(ctx, query, id, ownerID))
}

func (s *PostgresLinkStorage) ReleaseIfExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	query := `UPDATE short_links SET is_active = false, updated_at = now()
		WHERE short_code = $1 AND is_active AND expires_at IS NOT NULL AND expires_at <= $2`
	tag, err := s.pool.Exec(ctx, query, code, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresLinkStorage) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE short_links SET is_active = false, updated_at = now()
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresLinkStorage) RecordClick(ctx context.Context, event *ClickEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE short_links SET click_count = click_count + 1 WHERE id = $1`, event.LinkID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO click_events (id, link_id, owner_id, occurred_at, referrer, user_agent, ip, device_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.LinkID, event.OwnerID, event.OccurredAt, event.Referrer, event.UserAgent, event.IP, event.DeviceType)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresLinkStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
