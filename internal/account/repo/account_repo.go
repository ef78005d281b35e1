package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/database"
)

// AccountRepo provides data access for the accounts table using sqlx.
// Queries are written with `?` and rebound for the connected driver.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, username, email, password_hash, otp_code, otp_issued_at,
	verified, online, created_at, updated_at`

// GetByUsername returns the account or a NotFound error.
func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*entity.Account, error) {
	q := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE username=?`)
	var row entity.Account
	if err := r.db.GetContext(ctx, &row, q, username); err != nil {
		return nil, mapErr("get account", err)
	}
	return &row, nil
}

// Exists reports whether any account row (pending or verified) holds username.
func (r *AccountRepo) Exists(ctx context.Context, username string) (bool, error) {
	q := r.db.Rebind(`SELECT COUNT(*) FROM accounts WHERE username=?`)
	var n int
	if err := r.db.GetContext(ctx, &n, q, username); err != nil {
		return false, mapErr("count accounts", err)
	}
	return n > 0, nil
}

// IsVerified reports whether a verified account holds username.
func (r *AccountRepo) IsVerified(ctx context.Context, username string) (bool, error) {
	q := r.db.Rebind(`SELECT COUNT(*) FROM accounts WHERE username=? AND verified=?`)
	var n int
	if err := r.db.GetContext(ctx, &n, q, username, true); err != nil {
		return false, mapErr("count verified accounts", err)
	}
	return n > 0, nil
}

// FindClaims returns every row, pending or verified, holding username or email.
func (r *AccountRepo) FindClaims(ctx context.Context, username, email string) ([]entity.Account, error) {
	q := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE username=? OR email=?`)
	out := []entity.Account{}
	if err := r.db.SelectContext(ctx, &out, q, username, email); err != nil {
		return nil, mapErr("find claims", err)
	}
	return out, nil
}

// ReplacePending deletes every unverified row sharing a's username or email
// and inserts a in the same transaction, so exactly one challenge exists for
// the identity once it commits.
func (r *AccountRepo) ReplacePending(ctx context.Context, a *entity.Account) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		del := tx.Rebind(`DELETE FROM accounts WHERE verified=? AND (username=? OR email=?)`)
		if _, err := tx.ExecContext(ctx, del, false, a.Username, a.Email); err != nil {
			return mapErr("delete pending account", err)
		}
		ins := tx.Rebind(`INSERT INTO accounts (id, username, email, password_hash, otp_code, otp_issued_at,
			verified, online, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`)
		if _, err := tx.ExecContext(ctx, ins, a.ID, a.Username, a.Email, a.PasswordHash, a.OTPCode,
			a.OTPIssuedAt, false, false, a.CreatedAt, a.UpdatedAt); err != nil {
			return mapErr("insert pending account", err)
		}
		return nil
	})
}

// MarkVerified flips verified for the pending row still holding the given
// challenge. It reports false when no row matched (already verified, or the
// challenge was replaced meanwhile).
func (r *AccountRepo) MarkVerified(ctx context.Context, username, code string, issuedAt, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE accounts SET verified=?, otp_code='', updated_at=?
		WHERE username=? AND verified=? AND otp_code=? AND otp_issued_at=?`)
	res, err := r.db.ExecContext(ctx, q, true, now, username, false, code, issuedAt)
	if err != nil {
		return false, mapErr("mark verified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("mark verified", err)
	}
	return n == 1, nil
}

// ListVerified returns every verified account with its durable presence flag.
func (r *AccountRepo) ListVerified(ctx context.Context) ([]entity.Summary, error) {
	q := r.db.Rebind(`SELECT username, online FROM accounts WHERE verified=? ORDER BY username`)
	out := []entity.Summary{}
	if err := r.db.SelectContext(ctx, &out, q, true); err != nil {
		return nil, mapErr("list accounts", err)
	}
	return out, nil
}

// SetOnline writes the presence flag. A missing account yields NotFound.
func (r *AccountRepo) SetOnline(ctx context.Context, username string, online bool) error {
	q := r.db.Rebind(`UPDATE accounts SET online=? WHERE username=?`)
	res, err := r.db.ExecContext(ctx, q, online, username)
	if err != nil {
		return mapErr("set online", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.NotFound, "account not found")
	}
	return nil
}

// IsOnline reads the presence flag.
func (r *AccountRepo) IsOnline(ctx context.Context, username string) (bool, error) {
	q := r.db.Rebind(`SELECT online FROM accounts WHERE username=?`)
	var online bool
	if err := r.db.GetContext(ctx, &online, q, username); err != nil {
		return false, mapErr("get online", err)
	}
	return online, nil
}

// Delete removes the account row.
func (r *AccountRepo) Delete(ctx context.Context, username string) error {
	q := r.db.Rebind(`DELETE FROM accounts WHERE username=?`)
	res, err := r.db.ExecContext(ctx, q, username)
	if err != nil {
		return mapErr("delete account", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.NotFound, "account not found")
	}
	return nil
}

func (r *AccountRepo) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapErr("commit tx", err)
	}
	return nil
}

// mapErr classifies a driver error into the apperr taxonomy.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.Wrap(apperr.NotFound, "account not found", err)
	case database.IsUniqueViolation(err):
		return apperr.Wrap(apperr.Conflict, "username or email already taken", err)
	case database.IsConnectivity(err):
		return &apperr.Error{Kind: apperr.PersistenceFailure, Msg: "storage unavailable", Err: fmt.Errorf("%s: %w", op, err), Retryable: true}
	default:
		return &apperr.Error{Kind: apperr.PersistenceFailure, Msg: "storage failure", Err: fmt.Errorf("%s: %w", op, err)}
	}
}
