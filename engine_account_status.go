package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DeleteAccount soft-deletes accountID by stamping DeletedAt. The row and
// its linked identities and API keys stay in place, but sign-in, refresh,
// pre-auth validation, federated login and API key resolution all refuse
// the account from then on. Deleting an already deleted account is a no-op.
//
// Access tokens issued before the delete are not revoked; they expire on
// their own.
func (e *Engine) DeleteAccount(ctx context.Context, accountID string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	err := e.softDelete(ctx, strings.TrimSpace(accountID))
	if err == nil {
		e.metricInc(MetricAccountDeleted)
	}
	e.emitAudit(ctx, auditEventAccountDeleted, err == nil, accountID, err, nil)
	return err
}

func (e *Engine) softDelete(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrNotFound
	}
	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	if account.IsDeleted() {
		return nil
	}

	now := e.now()
	account.DeletedAt = &now
	account.UpdatedAt = now
	if err := e.accounts.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
