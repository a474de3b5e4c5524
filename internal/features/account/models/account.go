package models

import "time"

// Account is a player's game-state record.
// @Description Player account with ledger-owned counters
type Account struct {
	ID               string     `json:"id" bson:"_id" example:"123456789"`
	WalletAddress    string     `json:"wallet_address,omitempty" bson:"wallet_address,omitempty"`
	Balance          int64      `json:"balance" bson:"balance"`
	AvailableEnergy  int64      `json:"available_energy" bson:"available_energy"`
	TotalEnergy      int64      `json:"total_energy" bson:"total_energy"`
	TapPower         int64      `json:"tap_power" bson:"tap_power"`
	SpinCount        int64      `json:"spin_count" bson:"spin_count"`
	PerkCount        int64      `json:"perk_count" bson:"perk_count"`
	Level            int64      `json:"level" bson:"level"`
	CheckInCount     int64      `json:"check_in_count" bson:"check_in_count"`
	LastCheckInAt    *time.Time `json:"last_check_in_at,omitempty" bson:"last_check_in_at,omitempty"`
	Premium          bool       `json:"premium" bson:"premium"`
	ReferredBy       string     `json:"referred_by,omitempty" bson:"referred_by,omitempty"`
	ReferralCode     string     `json:"referral_code" bson:"referral_code"`
	ReferralCount    int64      `json:"referral_count" bson:"referral_count"`
	ReferralCredited bool       `json:"referral_credited" bson:"referral_credited"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastCheckInAt != nil {
		t := *a.LastCheckInAt
		c.LastCheckInAt = &t
	}
	return &c
}

// Field names a counter that may receive the referral bonus. Values are the
// stored field names.
type Field string

const (
	FieldBalance   Field = "balance"
	FieldSpinCount Field = "spin_count"
	FieldPerkCount Field = "perk_count"
)

func (f Field) Valid() bool {
	switch f {
	case FieldBalance, FieldSpinCount, FieldPerkCount:
		return true
	}
	return false
}

// ReferralCredit is the bonus applied to a referrer once per referee.
type ReferralCredit struct {
	Field  Field
	Amount int64
	Now    time.Time
}

// Apply adds the credit to the matching counter of acc.
func (rc ReferralCredit) Apply(acc *Account) {
	switch rc.Field {
	case FieldBalance:
		acc.Balance += rc.Amount
	case FieldSpinCount:
		acc.SpinCount += rc.Amount
	case FieldPerkCount:
		acc.PerkCount += rc.Amount
	}
	acc.ReferralCount++
	acc.UpdatedAt = rc.Now
}
