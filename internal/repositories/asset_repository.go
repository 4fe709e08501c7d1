package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quietwire/client/internal/db"
	"github.com/quietwire/client/internal/models"
)

// PostgresAssetRepository stores descriptors of encrypted voice clips.
type PostgresAssetRepository struct {
	pool db.Pool
}

// NewPostgresAssetRepository constructs an asset repository backed by PostgreSQL.
func NewPostgresAssetRepository(pool db.Pool) *PostgresAssetRepository {
	return &PostgresAssetRepository{pool: pool}
}

// Create persists an audio asset descriptor. A message carries at most one asset.
func (r *PostgresAssetRepository) Create(ctx context.Context, asset models.AudioAsset) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO audio_assets (id, conversation_id, message_id, object_key, encryption_key, digest, mime_type, size_bytes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, asset.ID, asset.ConversationID, asset.MessageID, asset.ObjectKey, asset.EncryptionKey, asset.Digest, asset.MimeType, asset.SizeBytes, asset.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert audio asset: %w", err)
	}

	return nil
}

// FindAudioAsset returns the asset attached to a message of a conversation.
func (r *PostgresAssetRepository) FindAudioAsset(ctx context.Context, conversationID, messageID string) (models.AudioAsset, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.AudioAsset{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, conversation_id, message_id, object_key, encryption_key, digest, mime_type, size_bytes, created_at
        FROM audio_assets
        WHERE conversation_id = $1 AND message_id = $2
    `, conversationID, messageID)

	var asset models.AudioAsset
	if err := row.Scan(&asset.ID, &asset.ConversationID, &asset.MessageID, &asset.ObjectKey, &asset.EncryptionKey, &asset.Digest, &asset.MimeType, &asset.SizeBytes, &asset.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AudioAsset{}, ErrNotFound
		}
		return models.AudioAsset{}, fmt.Errorf("select audio asset: %w", err)
	}

	return asset, nil
}
