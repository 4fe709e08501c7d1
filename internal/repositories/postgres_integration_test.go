package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quietwire/client/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresMessageRepository_CreateAndFindExpiration(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresMessageRepository(testPool)

	msg := createTestMessage(t, repo, "conv-1", time.Hour, nil)

	cfg, err := repo.FindExpiration(ctx, msg.ID)
	if err != nil {
		t.Fatalf("find expiration: %v", err)
	}
	if cfg.ExpireAfter != time.Hour || cfg.DeletionStartedAt != nil {
		t.Fatalf("unexpected expiration config: %+v", cfg)
	}

	if err := repo.Create(ctx, msg); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate message, got %v", err)
	}

	if _, err := repo.FindExpiration(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing message, got %v", err)
	}
}

func TestPostgresMessageRepository_StartDeletionFirstStartWins(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresMessageRepository(testPool)
	msg := createTestMessage(t, repo, "conv-1", time.Minute, nil)

	first := time.Now().UTC().Truncate(time.Millisecond)
	startedAt, err := repo.StartDeletion(ctx, msg.ID, first)
	if err != nil {
		t.Fatalf("start deletion: %v", err)
	}
	if !timesClose(startedAt, first, time.Millisecond) {
		t.Fatalf("unexpected start time %v want %v", startedAt, first)
	}

	again, err := repo.StartDeletion(ctx, msg.ID, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("restart deletion: %v", err)
	}
	if !timesClose(again, first, time.Millisecond) {
		t.Fatalf("expected original start to persist, got %v", again)
	}

	cfg, err := repo.FindExpiration(ctx, msg.ID)
	if err != nil {
		t.Fatalf("find expiration: %v", err)
	}
	if cfg.DeletionStartedAt == nil || !timesClose(*cfg.DeletionStartedAt, first, time.Millisecond) {
		t.Fatalf("unexpected deletion start %+v", cfg.DeletionStartedAt)
	}

	if _, err := repo.StartDeletion(ctx, uuid.NewString(), first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing message, got %v", err)
	}
}

func TestPostgresAssetRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	messages := NewPostgresMessageRepository(testPool)
	assets := NewPostgresAssetRepository(testPool)

	msg := createTestMessage(t, messages, "conv-1", 0, nil)
	asset := models.AudioAsset{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		ObjectKey:      "conv-1/" + msg.ID,
		EncryptionKey:  []byte("0123456789abcdef0123456789abcdef"),
		Digest:         []byte("digest"),
		MimeType:       "audio/wav",
		SizeBytes:      42,
		CreatedAt:      time.Now().UTC(),
	}

	if err := assets.Create(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	dup := asset
	dup.ID = uuid.NewString()
	if err := assets.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second asset on a message, got %v", err)
	}

	orphan := asset
	orphan.ID = uuid.NewString()
	orphan.MessageID = uuid.NewString()
	if err := assets.Create(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for asset without message, got %v", err)
	}

	found, err := assets.FindAudioAsset(ctx, msg.ConversationID, msg.ID)
	if err != nil {
		t.Fatalf("find asset: %v", err)
	}
	if found.ObjectKey != asset.ObjectKey || string(found.EncryptionKey) != string(asset.EncryptionKey) || found.SizeBytes != 42 {
		t.Fatalf("unexpected asset fetched: %+v", found)
	}

	if _, err := assets.FindAudioAsset(ctx, "conv-2", msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign conversation, got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE audio_assets, messages CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestMessage(t *testing.T, repo *PostgresMessageRepository, conversationID string, expireAfter time.Duration, startedAt *time.Time) models.Message {
	t.Helper()
	msg := models.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		SenderID:          "user-1",
		ExpireAfter:       expireAfter,
		DeletionStartedAt: startedAt,
		CreatedAt:         time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), msg); err != nil {
		t.Fatalf("create test message: %v", err)
	}
	return msg
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
