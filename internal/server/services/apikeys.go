package services

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/credentials"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
)

const (
	apiKeyPrefix      = "ff_"
	apiKeyRandomBytes = 16
	apiKeyVisibleLen  = 10
	nameMaxLen        = 100
)

// CreateAPIKeyRequest describes a new key.
type CreateAPIKeyRequest struct {
	Name        string
	Permissions []string
	ExpiresAt   *time.Time
}

// CreatedAPIKey carries the plaintext key, returned exactly once.
type CreatedAPIKey struct {
	Key    *models.APIKey
	Secret string
}

// APIKeyService issues and resolves API keys. Keys are stored as SHA-256
// digests with a short visible prefix for identification.
type APIKeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewAPIKeyService(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) *APIKeyService {
	return &APIKeyService{db: db, repomanager: rm, logger: logger, now: time.Now}
}

// Create issues a key for the caller.
func (s *APIKeyService) Create(ctx context.Context, id *access.Identity, req CreateAPIKeyRequest) (*CreatedAPIKey, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n < 1 || n > nameMaxLen {
		return nil, common.Validationf("name must be 1-%d characters", nameMaxLen)
	}

	perms := slices.Clone(req.Permissions)
	if len(perms) == 0 {
		perms = []string{models.PermissionRead}
	}
	for _, p := range perms {
		if p != models.PermissionRead && p != models.PermissionWrite {
			return nil, common.Validationf("unknown permission %q", p)
		}
	}
	slices.Sort(perms)
	perms = slices.Compact(perms)

	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, common.Validationf("expiry must be in the future")
	}

	random, err := common.MakeRandHexString(apiKeyRandomBytes)
	if err != nil {
		return nil, err
	}
	secret := apiKeyPrefix + random

	key := &models.APIKey{
		UserID:      id.UserID,
		Name:        name,
		Prefix:      secret[:apiKeyVisibleLen],
		KeyHash:     credentials.HashCode(secret),
		Permissions: perms,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.repomanager.APIKeys(s.db).Create(ctx, key); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "api key created", "user_id", id.UserID, "key_id", key.ID, "prefix", key.Prefix)
	return &CreatedAPIKey{Key: key, Secret: secret}, nil
}

// Resolve maps a presented key to its record and counts the use. The gate
// decides whether the record is usable.
func (s *APIKeyService) Resolve(ctx context.Context, plaintext string) (*models.APIKey, error) {
	if !strings.HasPrefix(plaintext, apiKeyPrefix) || len(plaintext) != len(apiKeyPrefix)+2*apiKeyRandomBytes {
		return nil, common.ErrInvalidToken
	}
	repo := s.repomanager.APIKeys(s.db)
	key, err := repo.GetByHash(ctx, credentials.HashCode(plaintext))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if key.Usable(now) {
		if err := repo.RecordUsage(ctx, key.ID, now); err != nil {
			s.logger.Warn(ctx, "failed to record api key usage", "key_id", key.ID, "error", err)
		}
	}
	return key, nil
}

// List returns the caller's keys without secrets.
func (s *APIKeyService) List(ctx context.Context, id *access.Identity) ([]*models.APIKey, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	return s.repomanager.APIKeys(s.db).ListByUser(ctx, id.UserID)
}

// Revoke deactivates one of the caller's keys.
func (s *APIKeyService) Revoke(ctx context.Context, id *access.Identity, keyID string) error {
	if err := requireBearer(id); err != nil {
		return err
	}
	return s.repomanager.APIKeys(s.db).Deactivate(ctx, keyID, id.UserID)
}
