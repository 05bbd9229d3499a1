package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"

	"github.com/code-payments/flipchat-billing/iap"
)

const (
	consumedTokenTable = "billing_consumed_tokens"
)

// Schema creates the table backing the store.
const Schema = `
	CREATE TABLE IF NOT EXISTS ` + consumedTokenTable + ` (
		"tokenKey" TEXT PRIMARY KEY,
		"createdAt" TIMESTAMP WITH TIME ZONE NOT NULL
	)
`

type consumedTokenModel struct {
	TokenKey  string    `db:"tokenKey"`
	CreatedAt time.Time `db:"createdAt"`
}

type store struct {
	db *sqlx.DB
}

// NewInPostgres returns a TokenStore that persists the consumed tokens, so a
// token consumed before a restart is not consumed again.
func NewInPostgres(db *sql.DB) iap.TokenStore {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// CreateSchema applies Schema.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

func (s *store) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+consumedTokenTable)
	if err != nil {
		panic(err)
	}
}

func (s *store) MarkConsumed(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, iap.ErrEmptyToken
	}

	m := &consumedTokenModel{
		TokenKey:  iap.TokenKey(token),
		CreatedAt: time.Now(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO `+consumedTokenTable+` ("tokenKey", "createdAt")
		VALUES (:tokenKey, :createdAt)
	`, m)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return false, nil
	}
	return false, err
}

func (s *store) IsConsumed(ctx context.Context, token string) (bool, error) {
	var existing consumedTokenModel
	query := `SELECT "tokenKey", "createdAt" FROM ` + consumedTokenTable + ` WHERE "tokenKey" = $1`
	err := s.db.GetContext(ctx, &existing, query, iap.TokenKey(token))

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
