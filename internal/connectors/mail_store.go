package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"ncmcheck/internal"
	"ncmcheck/internal/storage"
)

// MailStoreService keeps raw messages on disk under their sha256 and records
// them as documents waiting to be checked.
type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.DocumentRow, error) {
	hash, rawPath, err := s.writeRaw(msg.Raw, ".eml")
	if err != nil {
		return internal.DocumentRow{}, err
	}

	return s.db.UpsertDocument(internal.DocumentRow{
		Provider:   msg.Provider,
		MessageID:  msg.MessageID,
		Subject:    msg.Subject,
		Sender:     msg.From,
		ReceivedAt: msg.ReceivedAt,
		Hash:       hash,
		RawRef:     rawPath,
		Status:     string(internal.StatusFetched),
		InputType:  string(internal.InputEML),
	})
}

// StoreUpload records a file submitted outside the mail flow. The content
// hash doubles as its message id, so resubmitting the same bytes is a no-op.
func (s *MailStoreService) StoreUpload(provider, name string, inputType internal.InputType, blob []byte) (internal.DocumentRow, error) {
	hash, rawPath, err := s.writeRaw(blob, "."+string(inputType))
	if err != nil {
		return internal.DocumentRow{}, err
	}

	return s.db.UpsertDocument(internal.DocumentRow{
		Provider:  provider,
		MessageID: hash,
		Subject:   name,
		Hash:      hash,
		RawRef:    rawPath,
		Status:    string(internal.StatusFetched),
		InputType: string(inputType),
	})
}

func (s *MailStoreService) writeRaw(blob []byte, ext string) (string, string, error) {
	hashBytes := sha256.Sum256(blob)
	hash := hex.EncodeToString(hashBytes[:])

	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return "", "", err
	}

	rawPath := filepath.Join(s.rawMailDir, hash+ext)
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, blob, 0o644); err != nil {
			return "", "", err
		}
	}
	return hash, rawPath, nil
}
