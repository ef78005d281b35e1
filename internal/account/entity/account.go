package entity

import "time"

// Account represents a row in the `accounts` table. The OTP columns hold the
// single outstanding challenge for a pending account.
type Account struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	OTPCode      string    `db:"otp_code"`
	OTPIssuedAt  time.Time `db:"otp_issued_at"`
	Verified     bool      `db:"verified"`
	Online       bool      `db:"online"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Challenge is the projection of the pending OTP.
func (a *Account) Challenge() Challenge {
	return Challenge{Code: a.OTPCode, IssuedAt: a.OTPIssuedAt, Owner: a.Username}
}

// Challenge is a one-time code bound to a pending verification.
type Challenge struct {
	Code     string
	IssuedAt time.Time
	Owner    string
}

// Expired reports whether the challenge is at least ttl old at now.
func (c Challenge) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.IssuedAt) >= ttl
}

// Summary is the public listing projection.
type Summary struct {
	Username string `db:"username" json:"username"`
	Online   bool   `db:"online" json:"isonline"`
}
