package entity

import "time"

// User represents an account row in the `users` table. ResetToken and
// ResetExpires are set together while a password reset is pending and
// are otherwise both NULL.
type User struct {
	ID           int64      `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	ResetToken   *string    `db:"reset_token"`
	ResetExpires *time.Time `db:"reset_expires"`
	CreatedAt    time.Time  `db:"created_at"`
}

// HasPendingReset reports whether the row carries a reset token,
// expired or not.
func (u *User) HasPendingReset() bool {
	return u.ResetToken != nil && u.ResetExpires != nil
}
