package player

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

type IdentityMode string

const (
	// IdentityContent names a file by the sha256 of its bytes, so renamed copies still match.
	IdentityContent IdentityMode = "content"
	// IdentityName names a file by its base name.
	IdentityName IdentityMode = "name"
)

var ErrMediaClosed = errors.New("media is closed")

// Media is an opened local file. It holds the file open until Close.
type Media struct {
	mu       sync.Mutex
	identity string
	path     string
	file     *os.File
}

func Open(path string, mode IdentityMode) (*Media, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media: %w", err)
	}

	identity := filepath.Base(path)
	if mode == IdentityContent {
		h := sha256.New()
		if _, err := io.Copy(h, file); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to hash media: %w", err)
		}
		identity = hex.EncodeToString(h.Sum(nil))
	}

	return &Media{
		identity: identity,
		path:     path,
		file:     file,
	}, nil
}

func (m *Media) Identity() string {
	return m.identity
}

func (m *Media) Path() string {
	return m.path
}

func (m *Media) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return ErrMediaClosed
	}

	err := m.file.Close()
	m.file = nil
	return err
}

func (m *Media) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.file == nil
}
