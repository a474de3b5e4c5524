package service

import (
	"context"

	"tapgame-backend/internal/features/account/models"
)

type AccountService interface {
	// CreateAccount is idempotent per player id. The bool is true only for the
	// call that inserted the record.
	CreateAccount(ctx context.Context, playerID, walletAddress, referralCode string) (*models.Account, bool, error)
	GetAccount(ctx context.Context, playerID string) (*models.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]*models.Account, error)

	ApplyDelta(ctx context.Context, playerID string, delta models.Delta) (*models.Account, error)
	PurchaseBooster(ctx context.Context, playerID string, energyGain, price, tapGain int64) (*models.Account, error)
	PurchasePremium(ctx context.Context, playerID string, price int64) (*models.Account, error)
	CheckIn(ctx context.Context, playerID string) (*models.Account, error)
	LinkWallet(ctx context.Context, playerID, address string, relink bool) (*models.Account, error)
	UpdateProgress(ctx context.Context, playerID string, req models.ProgressRequest) (*models.Account, error)

	ResetEnergy(ctx context.Context, playerID string) (*models.Account, error)
	ResetEnergyForAll(ctx context.Context) (int64, error)
}
