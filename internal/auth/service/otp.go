package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/pkg/cryptox"
)

const (
	DefaultOTPTTL = 5 * time.Minute
	MinOTPTTL     = 5 * time.Minute
	MaxOTPTTL     = 10 * time.Minute
)

// OTPChallengeStore keeps at most one outstanding code per identifier. A
// code is accepted at most once; issuing again replaces the previous code.
type OTPChallengeStore struct {
	Store store.Ephemeral
	TTL   time.Duration

	// FixedCode replaces random codes, for local development only.
	FixedCode string

	Now func() time.Time
}

func NewOTPChallengeStore(st store.Ephemeral, ttl time.Duration) *OTPChallengeStore {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return &OTPChallengeStore{
		Store: st,
		TTL:   ttl,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func otpKey(identifier string) string { return "otp:" + identifier }

// Issue creates a new code for identifier, overwriting any previous one.
func (s *OTPChallengeStore) Issue(ctx context.Context, identifier string) (string, time.Time, error) {
	code := s.FixedCode
	if code == "" {
		var err error
		if code, err = cryptox.GenerateOTP(); err != nil {
			return "", time.Time{}, err
		}
	}

	ch := domain.OTPChallenge{
		Identifier:  identifier,
		Fingerprint: cryptox.FingerprintOTP(identifier, code),
		ExpiresAt:   s.Now().Add(s.TTL),
	}
	raw, err := json.Marshal(ch)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.Store.Set(ctx, otpKey(identifier), raw, s.TTL); err != nil {
		return "", time.Time{}, fmt.Errorf("store otp challenge: %w", err)
	}
	return code, ch.ExpiresAt, nil
}

// Verify reports whether code is the outstanding code for identifier and
// consumes it if so. Of several concurrent verifies with the right code,
// exactly one returns true. A wrong code leaves the challenge in place.
func (s *OTPChallengeStore) Verify(ctx context.Context, identifier, code string) (bool, error) {
	if code == "" {
		return false, nil
	}

	key := otpKey(identifier)
	raw, err := s.Store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load otp challenge: %w", err)
	}

	var ch domain.OTPChallenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		_ = s.Store.Delete(ctx, key)
		return false, nil
	}

	if ch.Expired(s.Now()) {
		_ = s.Store.Delete(ctx, key)
		return false, nil
	}

	want := cryptox.FingerprintOTP(identifier, code)
	if subtle.ConstantTimeCompare([]byte(want), []byte(ch.Fingerprint)) != 1 {
		return false, nil
	}

	// Only succeed if nobody consumed or replaced the challenge since we read it.
	ok, err := s.Store.CompareAndDelete(ctx, key, raw)
	if err != nil {
		return false, fmt.Errorf("consume otp challenge: %w", err)
	}
	return ok, nil
}

// Invalidate drops any outstanding code for identifier.
func (s *OTPChallengeStore) Invalidate(ctx context.Context, identifier string) error {
	return s.Store.Delete(ctx, otpKey(identifier))
}
