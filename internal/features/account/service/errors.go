package service

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("account not found")
	ErrInvalidReferral     = errors.New("invalid referral code")
	ErrInvalidDelta        = errors.New("invalid delta")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientEnergy  = errors.New("insufficient energy")
	ErrCheckInTooSoon      = errors.New("check-in cooldown has not elapsed")
	ErrWalletAlreadyLinked = errors.New("a different wallet is already linked")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)
