package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/models"
	"github.com/hireloop/ratelimitd/internal/repository"
	"github.com/hireloop/ratelimitd/internal/storage"
)

const (
	keyPrefixLive = "sk_live_"
	keyPrefixTest = "sk_test_"

	// Entropy of the secret part. 32 bytes base64url-encoded.
	keySecretBytes = 32

	keyCacheTTL = 5 * time.Minute
)

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient // optional validation cache; nil disables it
}

// Returned once, at creation time. The full key is never retrievable again.
type GeneratedKey struct {
	Key      string         `json:"key"`
	Prefix   string         `json:"prefix"`
	LastFour string         `json:"last_four"`
	Record   *models.APIKey `json:"record"`
}

func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
	}
}

// Creates a key scoped to a tenant. environment selects the sk_live_ or
// sk_test_ prefix. Only the SHA-256 hash of the full key is persisted.
func (s *APIKeyService) Generate(ctx context.Context, tenantID uuid.UUID, name, environment string, expiresAt *time.Time) (*GeneratedKey, error) {
	prefix := keyPrefixLive
	if environment == "test" {
		prefix = keyPrefixTest
	}

	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := prefix + base64.RawURLEncoding.EncodeToString(secret)

	displayPrefix := key[:len(prefix)+4]
	lastFour := key[len(key)-4:]

	apiKey := models.APIKey{
		TenantID:  tenantID,
		KeyHash:   HashAPIKey(key),
		Name:      name,
		Prefix:    displayPrefix,
		LastFour:  lastFour,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &GeneratedKey{
		Key:      key,
		Prefix:   displayPrefix,
		LastFour: lastFour,
		Record:   &apiKey,
	}, nil
}

// Deterministic one-way hash used both at generation time and on every
// validation lookup.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Validate hashes the presented key and looks it up. Returns (nil, nil) for
// unknown, revoked or expired keys. On success the key's last-used timestamp
// is updated in the background; that write is best-effort and never gates the
// allow decision.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := HashAPIKey(key)

	if cached := s.cacheGet(ctx, keyHash); cached != nil {
		if !cached.IsValid(time.Now()) {
			return nil, nil
		}
		s.touchLastUsed(cached.ID)
		return cached, nil
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if !apiKey.IsValid(time.Now()) {
		return nil, nil
	}

	s.cacheSet(ctx, keyHash, apiKey)
	s.touchLastUsed(apiKey.ID)

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.APIKey, error) {
	return s.repository.ListByTenant(ctx, tenantID)
}

// Revoke deactivates the key and drops it from the validation cache so the
// revocation takes effect immediately, not after the cache TTL.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return fmt.Errorf("API key not found")
	}

	if err := s.repository.Revoke(ctx, id); err != nil {
		return err
	}

	s.cacheInvalidate(ctx, apiKey.KeyHash)
	return nil
}

func (s *APIKeyService) touchLastUsed(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
			log.Printf("Failed to update last_used_at for key %s: %v", id, err)
		}
	}()
}

func (s *APIKeyService) cacheGet(ctx context.Context, keyHash string) *models.APIKey {
	if s.redis == nil {
		return nil
	}

	cached, err := s.redis.Get(ctx, cacheKey(keyHash))
	if err != nil || cached == "" {
		return nil
	}

	var apiKey models.APIKey
	if err := json.Unmarshal([]byte(cached), &apiKey); err != nil {
		return nil
	}

	return &apiKey
}

func (s *APIKeyService) cacheSet(ctx context.Context, keyHash string, apiKey *models.APIKey) {
	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(apiKey)
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, cacheKey(keyHash), payload, keyCacheTTL); err != nil {
		log.Printf("Failed to cache API key: %v", err)
	}
}

func (s *APIKeyService) cacheInvalidate(ctx context.Context, keyHash string) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Del(ctx, cacheKey(keyHash)); err != nil {
		log.Printf("Failed to invalidate API key cache: %v", err)
	}
}

func cacheKey(keyHash string) string {
	return "apikey:cache:" + keyHash
}
