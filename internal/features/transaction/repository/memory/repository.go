package memory

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"tapgame-backend/internal/features/transaction/models"
	"tapgame-backend/internal/features/transaction/repository"
)

type Repository struct {
	byID     *xsync.MapOf[string, *models.Transaction]
	byPlayer *xsync.MapOf[string, []*models.Transaction]
}

func NewRepository() *Repository {
	return &Repository{
		byID:     xsync.NewMapOf[string, *models.Transaction](),
		byPlayer: xsync.NewMapOf[string, []*models.Transaction](),
	}
}

var _ repository.TransactionRepository = (*Repository)(nil)

func (r *Repository) Append(ctx context.Context, tx *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *tx
	if _, loaded := r.byID.LoadOrStore(tx.TransactionID, &stored); loaded {
		return repository.ErrDuplicate
	}
	r.byPlayer.Compute(tx.PlayerID, func(old []*models.Transaction, _ bool) ([]*models.Transaction, bool) {
		next := make([]*models.Transaction, 0, len(old)+1)
		next = append(next, &stored)
		next = append(next, old...)
		return next, false
	})
	return nil
}

func (r *Repository) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, _ := r.byPlayer.Load(playerID)
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]*models.Transaction, 0, limit)
	for _, tx := range list[:limit] {
		c := *tx
		out = append(out, &c)
	}
	return out, nil
}
