package repository

import (
	"context"
	"errors"
	"time"

	"tapgame-backend/internal/features/account/models"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrDuplicate         = errors.New("account already exists")
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrUnavailable marks timeouts and connectivity failures of the backing store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConditionFailed is matched by the *models.ConditionError returned from Apply.
	ErrConditionFailed = models.ErrConditionFailed
)

//go:generate mockgen -source=repository.go -destination=mock/repository.go -package=mock

// AccountRepository is the account store. Every mutating method is a single
// atomic write on one record.
type AccountRepository interface {
	// Create inserts acc unless the id exists. It returns the stored record and
	// whether this call inserted it.
	Create(ctx context.Context, acc *models.Account) (*models.Account, bool, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByReferralCode(ctx context.Context, code string) (*models.Account, error)
	// List returns accounts ordered by creation time.
	List(ctx context.Context, limit, offset int) ([]*models.Account, error)

	// Apply runs upd as one conditional write and returns the post-write record.
	Apply(ctx context.Context, id string, upd *models.Update) (*models.Account, error)
	ResetEnergy(ctx context.Context, id string, now time.Time) (*models.Account, error)
	// ResetEnergyAll refills every account and returns how many were written.
	ResetEnergyAll(ctx context.Context, now time.Time) (int64, error)

	// CreditReferral applies credit to the referrer unless refereeID was already
	// credited. It reports whether this call applied it.
	CreditReferral(ctx context.Context, referrerID, refereeID string, credit models.ReferralCredit) (bool, error)
	MarkReferralCredited(ctx context.Context, refereeID string, now time.Time) error
}
