package service

import (
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"

	"tapgame-backend/internal/common/validation"
)

// NormalizeWallet parses a TON address in user-friendly or raw form and
// returns its canonical user-friendly encoding.
func NormalizeWallet(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty wallet address", ErrInvalidInput)
	}
	if err := validation.ValidateWalletLength(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	addr, err := address.ParseAddr(s)
	if err != nil {
		var rawErr error
		addr, rawErr = address.ParseRawAddr(s)
		if rawErr != nil {
			return "", fmt.Errorf("%w: wallet address: %v", ErrInvalidInput, err)
		}
	}
	return addr.String(), nil
}
