package repository

import (
	"context"
	"errors"

	"tapgame-backend/internal/features/transaction/models"
)

var (
	ErrDuplicate   = errors.New("transaction already recorded")
	ErrUnavailable = errors.New("store unavailable")
)

type TransactionRepository interface {
	// Append stores tx once per transaction id.
	Append(ctx context.Context, tx *models.Transaction) error
	// ListByPlayer returns the newest records first.
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]*models.Transaction, error)
}
