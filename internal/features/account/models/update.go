package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrConditionFailed is matched by every *ConditionError.
var ErrConditionFailed = errors.New("precondition failed")

// Condition identifies which precondition of an Update rejected the write.
type Condition string

const (
	CondBalance  Condition = "balance"
	CondEnergy   Condition = "energy"
	CondTapPower Condition = "tap_power"
	CondSpin     Condition = "spin"
	CondPerk     Condition = "perk"
	CondCheckIn  Condition = "check_in"
	CondPremium  Condition = "premium"
	CondWallet   Condition = "wallet"
)

type ConditionError struct {
	Condition Condition
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Condition)
}

func (e *ConditionError) Is(target error) bool {
	return target == ErrConditionFailed
}

// Increments are signed deltas applied to counters.
type Increments struct {
	Balance         int64
	AvailableEnergy int64
	TotalEnergy     int64
	TapPower        int64
	Spin            int64
	Perk            int64
}

// CheckIn stamps a check-in. The write is rejected when the last check-in is
// later than NotAfter.
type CheckIn struct {
	NotAfter time.Time
}

// Update is a validated mutation executed by the store as one atomic
// conditional write. Every store implements the same semantics as Check
// followed by ApplyTo.
type Update struct {
	Inc Increments

	SetLevel       *int64
	SetTotalEnergy *int64
	SetWallet      *string
	// Relink allows SetWallet to replace a different linked address.
	Relink     bool
	SetPremium bool

	CheckIn *CheckIn

	// RequirePremium, when set, must equal the stored premium flag.
	RequirePremium *bool

	Now time.Time
}

// IsEmpty reports whether the update would change nothing.
func (u *Update) IsEmpty() bool {
	return u.Inc == (Increments{}) &&
		u.SetLevel == nil && u.SetTotalEnergy == nil && u.SetWallet == nil &&
		!u.SetPremium && u.CheckIn == nil
}

// Check evaluates the preconditions against the current record. The premium
// requirement is evaluated first.
func (u *Update) Check(acc *Account) error {
	if u.RequirePremium != nil && acc.Premium != *u.RequirePremium {
		return &ConditionError{Condition: CondPremium}
	}
	if acc.Balance+u.Inc.Balance < 0 {
		return &ConditionError{Condition: CondBalance}
	}
	if acc.AvailableEnergy+u.Inc.AvailableEnergy < 0 {
		return &ConditionError{Condition: CondEnergy}
	}
	if acc.TapPower+u.Inc.TapPower < 1 {
		return &ConditionError{Condition: CondTapPower}
	}
	if acc.SpinCount+u.Inc.Spin < 0 {
		return &ConditionError{Condition: CondSpin}
	}
	if acc.PerkCount+u.Inc.Perk < 0 {
		return &ConditionError{Condition: CondPerk}
	}
	if u.CheckIn != nil && acc.LastCheckInAt != nil && acc.LastCheckInAt.After(u.CheckIn.NotAfter) {
		return &ConditionError{Condition: CondCheckIn}
	}
	if u.SetWallet != nil && !u.Relink && acc.WalletAddress != "" && acc.WalletAddress != *u.SetWallet {
		return &ConditionError{Condition: CondWallet}
	}
	return nil
}

// ApplyTo mutates acc in place. Callers run Check first.
func (u *Update) ApplyTo(acc *Account) {
	total := acc.TotalEnergy
	if u.SetTotalEnergy != nil {
		total = *u.SetTotalEnergy
	}
	total += u.Inc.TotalEnergy
	if total < 0 {
		total = 0
	}
	acc.TotalEnergy = total

	available := acc.AvailableEnergy + u.Inc.AvailableEnergy
	if available > total {
		available = total
	}
	if available < 0 {
		available = 0
	}
	acc.AvailableEnergy = available

	acc.Balance += u.Inc.Balance
	acc.TapPower += u.Inc.TapPower
	acc.SpinCount += u.Inc.Spin
	acc.PerkCount += u.Inc.Perk

	if u.SetLevel != nil {
		acc.Level = *u.SetLevel
	}
	if u.SetWallet != nil {
		acc.WalletAddress = *u.SetWallet
	}
	if u.SetPremium {
		acc.Premium = true
	}
	if u.CheckIn != nil {
		acc.CheckInCount++
		now := u.Now
		acc.LastCheckInAt = &now
	}
	acc.UpdatedAt = u.Now
}
