package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/modforge/authcore"
)

const accountColumns = `a.id, a.username, a.email, a.password_hash, a.email_verified,
		a.mfa_state, a.mfa_secret, a.tier, a.roles, a.deleted_at, a.created_at, a.updated_at`

// AccountRepository implements authcore.AccountStore. Usernames and emails
// are matched through lower() unique indexes.
type AccountRepository struct {
	pool DBTX
}

func NewAccountRepository(pool DBTX) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// CreateAccount inserts the account and any linked identities in one
// transaction.
func (r *AccountRepository) CreateAccount(ctx context.Context, a *authcore.Account) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, email_verified, mfa_state, mfa_secret, tier, roles, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID,
		a.Username,
		nullString(a.Email),
		a.PasswordHash,
		a.EmailVerified,
		a.MFA.String(),
		a.MFASecret,
		a.Tier,
		rolesOrEmpty(a.Roles),
		utcPtr(a.DeletedAt),
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert account: %w", authcore.ErrConflict)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	for _, li := range a.LinkedIdentities {
		if err := insertIdentity(ctx, tx, a.ID, li); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*authcore.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.id = $1`, id)
}

func (r *AccountRepository) GetAccountByUsername(ctx context.Context, username string) (*authcore.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE lower(a.username) = lower($1)`, strings.TrimSpace(username))
}

func (r *AccountRepository) GetAccountByEmail(ctx context.Context, email string) (*authcore.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE lower(a.email) = lower($1)`, strings.TrimSpace(email))
}

func (r *AccountRepository) FindByLinkedIdentity(ctx context.Context, provider, externalID string) (*authcore.Account, error) {
	return r.getOne(ctx, `
		SELECT `+accountColumns+`
		FROM accounts a
		JOIN linked_identities li ON li.account_id = a.id
		WHERE li.provider = $1 AND li.external_id = $2`, provider, externalID)
}

// UpdateAccount rewrites the account row. Linked identities are managed
// through UpsertLinkedIdentity and are not touched here.
func (r *AccountRepository) UpdateAccount(ctx context.Context, a *authcore.Account) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET username = $1, email = $2, password_hash = $3, email_verified = $4,
		    mfa_state = $5, mfa_secret = $6, tier = $7, roles = $8, deleted_at = $9, updated_at = $10
		WHERE id = $11`,
		a.Username,
		nullString(a.Email),
		a.PasswordHash,
		a.EmailVerified,
		a.MFA.String(),
		a.MFASecret,
		a.Tier,
		rolesOrEmpty(a.Roles),
		utcPtr(a.DeletedAt),
		a.UpdatedAt.UTC(),
		a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update account: %w", authcore.ErrConflict)
		}
		return fmt.Errorf("update account: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update account %s: %w", a.ID, authcore.ErrNotFound)
	}
	return nil
}

// UpsertLinkedIdentity attaches or refreshes the account's identity for a
// provider. A (provider, external id) pair owned by another account is
// ErrConflict.
func (r *AccountRepository) UpsertLinkedIdentity(ctx context.Context, accountID string, li authcore.LinkedIdentity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO linked_identities (account_id, provider, external_id, username, access_token, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, provider) DO UPDATE
		SET external_id = EXCLUDED.external_id,
		    username = EXCLUDED.username,
		    access_token = EXCLUDED.access_token,
		    linked_at = EXCLUDED.linked_at`,
		accountID, li.Provider, li.ExternalID, li.Username, li.AccessToken, li.LinkedAt.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("link identity: %w", authcore.ErrConflict)
	case isForeignKeyViolation(err):
		return fmt.Errorf("link identity: %w", authcore.ErrNotFound)
	default:
		return fmt.Errorf("link identity: %w", err)
	}
}

func insertIdentity(ctx context.Context, tx pgx.Tx, accountID string, li authcore.LinkedIdentity) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO linked_identities (account_id, provider, external_id, username, access_token, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, li.Provider, li.ExternalID, li.Username, li.AccessToken, li.LinkedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert linked identity: %w", authcore.ErrConflict)
		}
		return fmt.Errorf("insert linked identity: %w", err)
	}
	return nil
}

func (r *AccountRepository) getOne(ctx context.Context, query string, args ...any) (*authcore.Account, error) {
	var (
		a        authcore.Account
		email    *string
		mfaState string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID,
		&a.Username,
		&email,
		&a.PasswordHash,
		&a.EmailVerified,
		&mfaState,
		&a.MFASecret,
		&a.Tier,
		&a.Roles,
		&a.DeletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Email = derefString(email)
	a.MFA = authcore.ParseMFAState(mfaState)

	identities, err := r.linkedIdentities(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.LinkedIdentities = identities
	return &a, nil
}

func (r *AccountRepository) linkedIdentities(ctx context.Context, accountID string) ([]authcore.LinkedIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider, external_id, username, access_token, linked_at
		FROM linked_identities
		WHERE account_id = $1
		ORDER BY linked_at, provider`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query linked identities: %w", err)
	}
	defer rows.Close()

	var out []authcore.LinkedIdentity
	for rows.Next() {
		var li authcore.LinkedIdentity
		if err := rows.Scan(&li.Provider, &li.ExternalID, &li.Username, &li.AccessToken, &li.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan linked identity: %w", err)
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked identities: %w", err)
	}
	return out, nil
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
