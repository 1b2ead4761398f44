package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"roomscan/pkg/models"
)

const (
	// keyPrefixLen is how many leading characters of the raw key are stored
	// in clear for lookup. The rest is only ever compared against the hash.
	keyPrefixLen = 8
	rawKeyBytes  = 24
)

// KeyStore is the slice of the job store the key service needs.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// APIKeyService verifies raw API keys and manages their lifecycle.
type APIKeyService struct {
	store KeyStore
}

func NewAPIKeyService(s KeyStore) *APIKeyService {
	return &APIKeyService{store: s}
}

// Verify resolves a raw key to its owner identity. Lookup goes by prefix,
// then bcrypt comparison picks the match; prefix collisions are possible and
// handled.
func (s *APIKeyService) Verify(ctx context.Context, rawKey string) (Identity, error) {
	if len(rawKey) < keyPrefixLen {
		return Identity{}, ErrInvalidCredential
	}

	candidates, err := s.store.GetAPIKeyByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return Identity{}, fmt.Errorf("lookup api key: %w", err)
	}

	for _, key := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			// last_used_at is informational; do not hold the request for it.
			go func(id uuid.UUID) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
					slog.Warn("failed to update key last_used_at", "key_id", id, "error", err)
				}
			}(key.ID)
			return Identity{SubjectID: key.OwnerID, Role: key.Role}, nil
		}
	}

	return Identity{}, ErrInvalidCredential
}

// Mint creates a new API key and returns the raw key, which is shown exactly
// once. A fresh owner id is allocated for every key.
func (s *APIKeyService) Mint(ctx context.Context, name, role string) (string, *models.APIKey, error) {
	if role != models.RoleUser && role != models.RoleAdmin {
		return "", nil, fmt.Errorf("unknown role %q", role)
	}

	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key material: %w", err)
	}
	rawKey := "rs_" + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:keyPrefixLen],
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("persist api key: %w", err)
	}

	return rawKey, key, nil
}

// List returns all active keys, hashes omitted by the model's JSON tags.
func (s *APIKeyService) List(ctx context.Context) ([]*models.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

// Revoke soft-deletes a key. Unknown or already-revoked ids surface as the
// store's not-found error.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	return s.store.RevokeAPIKey(ctx, id)
}

// Compile-time check that APIKeyService implements Verifier.
var _ Verifier = (*APIKeyService)(nil)
