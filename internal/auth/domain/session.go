package domain

import "time"

// PendingSession is the short-lived state between a successful password check
// and OTP verification. It is consumed exactly once.
type PendingSession struct {
	ID             string    `json:"id"`
	Identifier     string    `json:"identifier"`
	PreboundUserID string    `json:"prebound_user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer usable at now.
func (s PendingSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OTPChallenge is the outstanding code for an identifier. Only a fingerprint
// of the code is kept.
type OTPChallenge struct {
	Identifier  string    `json:"identifier"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (c OTPChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
