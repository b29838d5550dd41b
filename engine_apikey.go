package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/modforge/authcore/apikey"
)

const (
	maxAPIKeyNameLength  = 64
	apiKeyCreateAttempts = 3
)

// CreateAPIKey issues a key for accountID. The raw secret is only present
// in the returned value.
func (e *Engine) CreateAPIKey(ctx context.Context, accountID, name string) (*CreatedAPIKey, error) {
	if e == nil || e.apiKeys == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, newValidationError("name", "is required")
	case len(name) > maxAPIKeyNameLength:
		return nil, newValidationError("name", fmt.Sprintf("must be at most %d characters", maxAPIKeyNameLength))
	}

	account, err := e.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var (
		generated *apikey.Generated
		key       APIKey
	)
	for attempt := 1; ; attempt++ {
		generated, err = apikey.Generate()
		if err != nil {
			return nil, err
		}
		key = APIKey{
			ID:        uuid.NewString(),
			OwnerID:   account.ID,
			Name:      name,
			Prefix:    generated.Prefix,
			Hash:      generated.Hash,
			Tier:      account.Tier,
			CreatedAt: e.now(),
		}
		err = e.apiKeys.CreateAPIKey(ctx, &key)
		if err == nil {
			break
		}
		// A prefix collision is retried with a fresh key.
		if !errors.Is(err, ErrConflict) || attempt == apiKeyCreateAttempts {
			return nil, fmt.Errorf("store api key: %w", err)
		}
	}

	e.metricInc(MetricAPIKeyCreated)
	e.emitAudit(ctx, auditEventAPIKeyCreated, true, account.ID, nil, func() map[string]string {
		return map[string]string{"key_id": key.ID, "prefix": key.Prefix}
	})
	return &CreatedAPIKey{Key: key, Secret: generated.Raw}, nil
}

// ResolveKey returns the stored key matching raw and records its use.
// Any mismatch is ErrUnauthorized.
func (e *Engine) ResolveKey(ctx context.Context, raw string) (*APIKey, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}

	prefix, secret, err := apikey.Parse(raw)
	if err != nil {
		return nil, e.rejectKey(ctx, "", "malformed")
	}

	key, err := e.apiKeys.FindAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.rejectKey(ctx, prefix, "unknown_prefix")
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !apikey.Verify(secret, key.Hash) {
		return nil, e.rejectKey(ctx, prefix, "hash_mismatch")
	}

	usedAt := e.now()
	if err := e.apiKeys.TouchAPIKey(ctx, key.ID, usedAt); err != nil {
		e.logger.WarnContext(ctx, "api key last-used update failed", slog.String("key_id", key.ID), slog.Any("error", err))
	} else {
		key.LastUsedAt = &usedAt
	}

	e.metricInc(MetricAPIKeyResolved)
	return key, nil
}

func (e *Engine) rejectKey(ctx context.Context, prefix, reason string) error {
	e.metricInc(MetricAPIKeyRejected)
	e.emitAudit(ctx, auditEventAPIKeyRejected, false, "", ErrUnauthorized, func() map[string]string {
		return map[string]string{"prefix": prefix, "reason": reason}
	})
	return ErrUnauthorized
}

// GetUserFromKey loads the key owner. Soft-deleted owners are rejected.
func (e *Engine) GetUserFromKey(ctx context.Context, key *APIKey) (*Account, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if key == nil {
		return nil, ErrUnauthorized
	}
	return e.activeAccount(ctx, key.OwnerID)
}

// RevokeKey deletes keyID only when ownerID owns it. Keys owned by anyone
// else report ErrNotFound and are left in place.
func (e *Engine) RevokeKey(ctx context.Context, keyID, ownerID string) error {
	if e == nil || e.apiKeys == nil {
		return ErrEngineNotReady
	}
	if keyID == "" || ownerID == "" {
		return ErrNotFound
	}

	deleted, err := e.apiKeys.DeleteAPIKey(ctx, keyID, ownerID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if !deleted {
		e.emitAudit(ctx, auditEventAPIKeyRevoked, false, ownerID, ErrNotFound, func() map[string]string {
			return map[string]string{"key_id": keyID}
		})
		return ErrNotFound
	}

	e.metricInc(MetricAPIKeyRevoked)
	e.emitAudit(ctx, auditEventAPIKeyRevoked, true, ownerID, nil, func() map[string]string {
		return map[string]string{"key_id": keyID}
	})
	return nil
}

// ListAPIKeys returns key metadata for ownerID.
func (e *Engine) ListAPIKeys(ctx context.Context, ownerID string) ([]APIKey, error) {
	if e == nil || e.apiKeys == nil {
		return nil, ErrEngineNotReady
	}
	keys, err := e.apiKeys.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}
