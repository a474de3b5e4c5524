package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"tapgame-backend/internal/common/logger"
	"tapgame-backend/internal/common/metrics"
	"tapgame-backend/internal/common/validation"
	"tapgame-backend/internal/features/transaction/models"
	"tapgame-backend/internal/features/transaction/repository"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicate          = errors.New("transaction already recorded")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// TransactionService records payment transactions for audit. The account
// ledger never reads them.
type TransactionService interface {
	Record(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error)
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]*models.Transaction, error)
}

type transactionService struct {
	repo    repository.TransactionRepository
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewTransactionService(repo repository.TransactionRepository, timeout time.Duration, m *metrics.Metrics) TransactionService {
	return &transactionService{
		repo:    repo,
		timeout: timeout,
		metrics: m,
		log:     logger.With("transaction-service"),
	}
}

func (s *transactionService) Record(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error) {
	playerID, err := validation.ValidatePlayerID(req.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	txID, err := validation.ValidateTransactionID(req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tx := &models.Transaction{
		TransactionID: txID,
		PlayerID:      playerID,
		Amount:        req.Amount,
		CreatedAt:     time.Now().UTC(),
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return nil, fmt.Errorf("%w: amount must be a finite number", ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.repo.Append(ctx, tx)
	switch {
	case err == nil:
		s.metrics.ObserveTransaction("recorded")
		s.log.Info().
			Str("player_id", tx.PlayerID).
			Str("transaction_id", tx.TransactionID).
			Float64("amount", tx.Amount).
			Msg("Transaction recorded")
		return tx, nil
	case errors.Is(err, repository.ErrDuplicate):
		s.metrics.ObserveTransaction("duplicate")
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, tx.TransactionID)
	default:
		s.metrics.ObserveTransaction("error")
		return nil, unavailable(err)
	}
}

func (s *transactionService) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*models.Transaction, error) {
	playerID, err := validation.ValidatePlayerID(playerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	txs, err := s.repo.ListByPlayer(ctx, playerID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return txs, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repository.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}
