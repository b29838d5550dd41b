package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/store/postgres/migrations"
)

// Store bundles both repositories over one pool.
type Store struct {
	*AccountRepository
	*APIKeyRepository
}

var (
	_ authcore.AccountStore = (*Store)(nil)
	_ authcore.APIKeyStore  = (*Store)(nil)
)

func New(pool DBTX) *Store {
	return &Store{
		AccountRepository: NewAccountRepository(pool),
		APIKeyRepository:  NewAPIKeyRepository(pool),
	}
}

// gooseUp is replaced in tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
