package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// Максимальные длины идентификаторов
	MaxPlayerIDLength      = 128
	MaxReferralCodeLength  = 64
	MaxTransactionIDLength = 128
	MaxWalletLength        = 128
)

// ValidatePlayerID trims the id and checks it can be used as a store key.
func ValidatePlayerID(playerID string) (string, error) {
	return validateIdentifier("player id", playerID, MaxPlayerIDLength)
}

// ValidateReferralCode checks a code supplied by a client. Empty means no code.
func ValidateReferralCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	return validateIdentifier("referral code", code, MaxReferralCodeLength)
}

func ValidateTransactionID(id string) (string, error) {
	return validateIdentifier("transaction id", id, MaxTransactionIDLength)
}

// ValidateWalletLength rejects oversized input before it reaches the address parser.
func ValidateWalletLength(address string) error {
	if len(address) > MaxWalletLength {
		return fmt.Errorf("wallet address cannot exceed %d characters", MaxWalletLength)
	}
	return nil
}

func validateIdentifier(name, value string, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if len(value) > maxLen {
		return "", fmt.Errorf("%s cannot exceed %d characters", name, maxLen)
	}
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("%s is not valid UTF-8", name)
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%s contains invalid characters", name)
		}
	}
	return value, nil
}
