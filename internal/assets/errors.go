package assets

import "errors"

var (
	// ErrAssetUnavailable indicates no audio asset is registered for the track.
	ErrAssetUnavailable = errors.New("audio asset unavailable")
	// ErrDigestMismatch indicates the downloaded blob does not match its recorded digest.
	ErrDigestMismatch = errors.New("audio asset digest mismatch")
	// ErrDecrypt indicates the blob could not be authenticated or decrypted.
	ErrDecrypt = errors.New("audio asset decryption failed")
	// ErrInvalidIdentifier indicates an identifier that cannot be used as a path segment.
	ErrInvalidIdentifier = errors.New("invalid asset identifier")
)
