package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidKey is returned when the provided API key does not match the admin key.
var ErrInvalidKey = errors.New("invalid API key")

const keyPrefix = "tsk_"

// Service verifies the admin API key.
type Service struct {
	bcryptCost int

	mu   sync.RWMutex
	hash []byte
}

// NewService creates a new auth Service checking keys against hash. An
// empty hash leaves the service without a key until Bootstrap is called.
func NewService(hash string, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{hash: []byte(hash), bcryptCost: bcryptCost}
}

// GenerateKey creates a new API key. Returns the raw key and its bcrypt
// hash. The raw key is: 32 random bytes -> base64url -> prepend "tsk_".
func (s *Service) GenerateKey() (rawKey, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	rawKey = keyPrefix + base64.RawURLEncoding.EncodeToString(b)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(rawKey), s.bcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}
	return rawKey, string(hashBytes), nil
}

// Bootstrap generates an admin key when none is configured. It returns the
// raw key, which is only displayed once, or an empty string if a key
// already exists.
func (s *Service) Bootstrap() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.hash) > 0 {
		return "", nil
	}

	rawKey, hash, err := s.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generating admin key: %w", err)
	}
	s.hash = []byte(hash)

	slog.Info("Admin API key created", "key", rawKey)
	return rawKey, nil
}

// Authenticate resolves a raw API key to an Identity.
func (s *Service) Authenticate(_ context.Context, rawKey string) (*Identity, error) {
	if len(rawKey) < len(keyPrefix)+8 {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	hash := s.hash
	s.mu.RUnlock()

	if len(hash) == 0 {
		return nil, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(rawKey)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("comparing key: %w", err)
	}

	return &Identity{
		Name:          "admin",
		KeyPrefix:     rawKey[:len(keyPrefix)+4],
		Authenticated: time.Now().UTC(),
	}, nil
}
