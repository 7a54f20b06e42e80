package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// OTPDigits is the length of generated one-time codes.
const OTPDigits = 6

var otpSecretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateOTP returns a numeric one-time code. Each code is derived from a
// fresh random HOTP secret and counter, so codes are independent of each
// other and of any user secret.
func GenerateOTP() (string, error) {
	var buf [28]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read otp entropy: %w", err)
	}

	secret := otpSecretEncoding.EncodeToString(buf[:20])
	counter := binary.BigEndian.Uint64(buf[20:])

	code, err := hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return code, nil
}

// FingerprintOTP returns the value stored for a code: an HMAC-SHA256 keyed
// with the pepper, so a copy of the ephemeral store alone cannot be searched
// for the code. Raw codes never hit the store.
func FingerprintOTP(identifier, code string) string {
	mac := hmac.New(sha256.New, []byte(GetPepper()))
	mac.Write([]byte(identifier))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

