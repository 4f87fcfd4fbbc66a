// Package storage keeps signed documents on disk and hands out expiring
// download tokens for them.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidToken = errors.New("download token is invalid or expired")
)

// Document describes one stored file.
type Document struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

// Store persists documents under a directory, one file per document named
// by a generated id. Download tokens live in memory and expire on their
// own, so a restart invalidates outstanding links.
type Store struct {
	dir    string
	tokens *cache.Cache
	log    *zap.Logger
}

// New creates the storage directory when missing.
func New(dir string, tokenTTL time.Duration, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{
		dir:    dir,
		tokens: cache.New(tokenTTL, 10*time.Minute),
		log:    log,
	}, nil
}

// Save writes the document and returns its record. The original filename is
// kept only as metadata, the file on disk is named by the generated id.
func (s *Store) Save(filename string, data []byte) (*Document, error) {
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".pdf")

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	doc := &Document{
		ID:       id,
		Filename: filename,
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}

	s.log.Info("document stored",
		zap.String("document_id", id),
		zap.String("filename", filename),
		zap.Int64("size", doc.Size))

	return doc, nil
}

// Open reads a stored document back. The id must be a generated id, which
// also keeps arbitrary paths out of the directory.
func (s *Store) Open(id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+".pdf"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// IssueToken creates a single document download token that expires after
// the store's TTL. The document record travels with the token so a resolve
// can hand back the original filename.
func (s *Store) IssueToken(doc *Document) string {
	token := uuid.NewString()
	s.tokens.Set(token, *doc, cache.DefaultExpiration)
	return token
}

// Resolve exchanges a download token for the document it points at.
func (s *Store) Resolve(token string) ([]byte, *Document, error) {
	v, ok := s.tokens.Get(token)
	if !ok {
		return nil, nil, ErrInvalidToken
	}
	doc, ok := v.(Document)
	if !ok {
		return nil, nil, ErrInvalidToken
	}

	data, err := s.Open(doc.ID)
	if err != nil {
		return nil, nil, err
	}

	return data, &doc, nil
}
