package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quietwire/client/internal/models"
	"github.com/quietwire/client/internal/repositories"
)

// Fetcher resolves a voice message to a local, decodable file.
type Fetcher interface {
	Fetch(ctx context.Context, conversationID, trackID string) (string, error)
}

// AssetLocator looks up the stored descriptor of a voice message.
type AssetLocator interface {
	FindAudioAsset(ctx context.Context, conversationID, messageID string) (models.AudioAsset, error)
}

// ObjectReader downloads an object by key.
type ObjectReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// ObjectFetcher downloads encrypted voice clips from the object store and
// materialises the plaintext under a cache directory.
type ObjectFetcher struct {
	Locator AssetLocator
	Objects ObjectReader
	Dir     string
	Logger  *slog.Logger
}

// Fetch implements Fetcher.
func (f *ObjectFetcher) Fetch(ctx context.Context, conversationID, trackID string) (string, error) {
	if f == nil || f.Locator == nil || f.Objects == nil {
		return "", ErrAssetUnavailable
	}
	if err := validateSegment(conversationID); err != nil {
		return "", err
	}
	if err := validateSegment(trackID); err != nil {
		return "", err
	}

	asset, err := f.Locator.FindAudioAsset(ctx, conversationID, trackID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrAssetUnavailable, conversationID, trackID)
		}
		return "", fmt.Errorf("locate asset: %w", err)
	}

	blob, err := f.Objects.Read(ctx, asset.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("download asset %s: %w", asset.ObjectKey, err)
	}

	if len(asset.Digest) > 0 {
		sum := sha256.Sum256(blob)
		if !bytes.Equal(sum[:], asset.Digest) {
			return "", fmt.Errorf("%w: %s", ErrDigestMismatch, asset.ObjectKey)
		}
	}

	plaintext, err := Decrypt(asset.EncryptionKey, blob, asset.MessageID)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(f.Dir, conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, trackID+extensionFor(asset.MimeType))
	if err := writeFileAtomic(path, plaintext); err != nil {
		return "", err
	}

	f.logger().Debug("audio asset materialised", "conversationId", conversationID, "trackId", trackID, "bytes", len(plaintext))
	return path, nil
}

func (f *ObjectFetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func validateSegment(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mp4", "audio/aac", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename asset file: %w", err)
	}
	return nil
}
