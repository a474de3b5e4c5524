package models

// CreateAccountRequest is the body of POST /accounts.
// @Description Account creation input
type CreateAccountRequest struct {
	PlayerID      string `json:"player_id" binding:"required" example:"123456789"`
	WalletAddress string `json:"wallet_address,omitempty" example:"EQD4FPq-PRD4YtG87wgL7AErgQwHUMFQ-JxyYw8jzBPhqjfH"`
	ReferralCode  string `json:"referral_code,omitempty" example:"7F3A9C21BE"`
}

// Delta is a set of signed increments plus optional absolute sets.
// @Description Ledger mutation applied atomically
type Delta struct {
	Balance   int64 `json:"balance,omitempty" example:"50"`
	Energy    int64 `json:"energy,omitempty" example:"-1"`
	Spin      int64 `json:"spin,omitempty"`
	Perk      int64 `json:"perk,omitempty"`
	TapPower  int64 `json:"tap_power,omitempty"`
	IsCheckIn bool  `json:"is_check_in,omitempty"`

	Level         *int64  `json:"level,omitempty"`
	TotalEnergy   *int64  `json:"total_energy,omitempty"`
	WalletAddress *string `json:"wallet_address,omitempty"`
	Premium       *bool   `json:"premium,omitempty"`

	// CheckIn as a raw counter is rejected; check-ins go through IsCheckIn.
	CheckIn *int64 `json:"check_in,omitempty" swaggerignore:"true"`
}

// IsEmpty reports whether the delta carries no change at all.
func (d Delta) IsEmpty() bool {
	return d.Balance == 0 && d.Energy == 0 && d.Spin == 0 && d.Perk == 0 && d.TapPower == 0 &&
		!d.IsCheckIn && d.Level == nil && d.TotalEnergy == nil && d.WalletAddress == nil &&
		d.Premium == nil && d.CheckIn == nil
}

// BoosterRequest is the body of POST /accounts/{id}/booster.
type BoosterRequest struct {
	EnergyGain int64 `json:"energy_gain" example:"20"`
	Price      int64 `json:"price" example:"60"`
	TapGain    int64 `json:"tap_gain" example:"1"`
}

// PremiumRequest is the body of POST /accounts/{id}/premium.
type PremiumRequest struct {
	Price int64 `json:"price" example:"1000"`
}

// WalletRequest is the body of POST /accounts/{id}/wallet.
type WalletRequest struct {
	Address string `json:"address" binding:"required"`
	Relink  bool   `json:"relink"`
}

// ProgressRequest is the body of POST /accounts/{id}/progress. Level and
// total energy are absolute, perks are added to the current count.
type ProgressRequest struct {
	Level         *int64 `json:"level,omitempty"`
	PerkIncrement int64  `json:"perk_increment,omitempty"`
	TotalEnergy   *int64 `json:"total_energy,omitempty"`
}

// CreateAccountResponse carries the stored account and whether this call created it.
type CreateAccountResponse struct {
	Account *Account `json:"account"`
	Created bool     `json:"created"`
}

// ResetAllResponse reports the outcome of a bulk energy reset.
type ResetAllResponse struct {
	Updated int64 `json:"updated"`
}
