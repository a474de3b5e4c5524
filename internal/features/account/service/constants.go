package service

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000

	// MaxDeltaMagnitude bounds every increment, absolute set and price.
	MaxDeltaMagnitude int64 = 1_000_000_000_000

	referralCodeLength   = 10
	referralCodeAttempts = 5

	defaultTapPower = 1
)

// Operation names used for metrics and logs.
const (
	opCreate         = "create_account"
	opGet            = "get_account"
	opList           = "list_accounts"
	opApplyDelta     = "apply_delta"
	opBooster        = "purchase_booster"
	opPremium        = "purchase_premium"
	opCheckIn        = "check_in"
	opLinkWallet     = "link_wallet"
	opProgress       = "update_progress"
	opResetEnergy    = "reset_energy"
	opResetEnergyAll = "reset_energy_all"
	opCreditReferral = "credit_referral"
	opMarkReferral   = "mark_referral"
	opLookupReferral = "lookup_referral"
)
