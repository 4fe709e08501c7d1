package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/quietwire/client/internal/db"
	"github.com/quietwire/client/internal/models"
	"github.com/quietwire/client/internal/selfdeletion"
)

// PostgresMessageRepository provides PostgreSQL-backed persistence for message lifetimes.
type PostgresMessageRepository struct {
	pool db.Pool
}

// NewPostgresMessageRepository constructs a message repository backed by PostgreSQL.
func NewPostgresMessageRepository(pool db.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

// Create persists a new message record.
func (r *PostgresMessageRepository) Create(ctx context.Context, msg models.Message) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var startedAt pgtype.Timestamptz
	if msg.DeletionStartedAt != nil {
		startedAt = pgtype.Timestamptz{Time: *msg.DeletionStartedAt, Valid: true}
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO messages (id, conversation_id, sender_id, expire_after_ms, deletion_started_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, msg.ID, msg.ConversationID, msg.SenderID, msg.ExpireAfter.Milliseconds(), startedAt, msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// FindExpiration returns the self-deletion configuration of a message.
func (r *PostgresMessageRepository) FindExpiration(ctx context.Context, messageID string) (selfdeletion.ExpirationConfig, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return selfdeletion.ExpirationConfig{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var (
		expireAfterMs int64
		startedAt     pgtype.Timestamptz
	)
	err = conn.QueryRow(ctx, `
        SELECT expire_after_ms, deletion_started_at
        FROM messages
        WHERE id = $1
    `, messageID).Scan(&expireAfterMs, &startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return selfdeletion.ExpirationConfig{}, ErrNotFound
		}
		return selfdeletion.ExpirationConfig{}, fmt.Errorf("select message expiration: %w", err)
	}

	cfg := selfdeletion.ExpirationConfig{ExpireAfter: time.Duration(expireAfterMs) * time.Millisecond}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		cfg.DeletionStartedAt = &t
	}
	return cfg, nil
}

// StartDeletion starts the deletion clock of a message. The first start wins;
// later calls return the original start time.
func (r *PostgresMessageRepository) StartDeletion(ctx context.Context, messageID string, at time.Time) (time.Time, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var startedAt time.Time
	err = conn.QueryRow(ctx, `
        UPDATE messages
        SET deletion_started_at = COALESCE(deletion_started_at, $2)
        WHERE id = $1
        RETURNING deletion_started_at
    `, messageID, at).Scan(&startedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("start message deletion: %w", err)
	}

	return startedAt.UTC(), nil
}
