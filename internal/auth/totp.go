package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// normalizeSecret accepts secrets the way authenticator apps display them:
// lower case, grouped with spaces.
func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
}

// GenerateTOTP returns the current six digit code for secret.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp secret cannot be empty")
	}

	passcode, err := totp.GenerateCodeCustom(normalizeSecret(secret), time.Now().UTC(), totpOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return passcode, nil
}

func ValidateTOTP(passcode, secret string) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("totp secret cannot be empty")
	}
	if passcode == "" {
		return false, fmt.Errorf("passcode cannot be empty")
	}

	valid, err := totp.ValidateCustom(passcode, normalizeSecret(secret), time.Now().UTC(), totpOpts)
	if err != nil {
		return false, fmt.Errorf("failed to validate totp code: %w", err)
	}
	return valid, nil
}
