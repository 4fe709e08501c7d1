package models

import "time"

// Message is a chat message whose lifetime may be bounded by self-deletion.
type Message struct {
	ID                string
	ConversationID    string
	SenderID          string
	ExpireAfter       time.Duration
	DeletionStartedAt *time.Time
	CreatedAt         time.Time
}

// AudioAsset describes the encrypted voice clip attached to a message.
type AudioAsset struct {
	ID             string
	ConversationID string
	MessageID      string
	ObjectKey      string
	EncryptionKey  []byte
	Digest         []byte
	MimeType       string
	SizeBytes      int64
	CreatedAt      time.Time
}
