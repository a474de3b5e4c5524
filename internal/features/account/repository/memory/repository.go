package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository"
)

var errFull = errors.New("energy already full")

type record struct {
	acc      *models.Account
	credited map[string]struct{}
}

// Repository keeps accounts in process memory. Each record is replaced
// copy-on-write inside MapOf.Compute, so writes to one id are serialized and
// readers never observe a partial update.
type Repository struct {
	accounts *xsync.MapOf[string, *record]
	codes    *xsync.MapOf[string, string]
}

func NewRepository() *Repository {
	return &Repository{
		accounts: xsync.NewMapOf[string, *record](),
		codes:    xsync.NewMapOf[string, string](),
	}
}

var _ repository.AccountRepository = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, acc *models.Account) (*models.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var (
		created bool
		codeErr error
	)
	rec, _ := r.accounts.Compute(acc.ID, func(old *record, loaded bool) (*record, bool) {
		if loaded {
			return old, false
		}
		if owner, taken := r.codes.LoadOrStore(acc.ReferralCode, acc.ID); taken && owner != acc.ID {
			codeErr = repository.ErrReferralCodeTaken
			// Returning delete=true leaves the id absent.
			return nil, true
		}
		created = true
		return &record{acc: acc.Clone(), credited: map[string]struct{}{}}, false
	})
	if codeErr != nil {
		return nil, false, codeErr
	}
	return rec.acc.Clone(), created, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := r.accounts.Load(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.acc.Clone(), nil
}

func (r *Repository) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	id, ok := r.codes.Load(code)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := make([]*models.Account, 0, r.accounts.Size())
	r.accounts.Range(func(_ string, rec *record) bool {
		all = append(all, rec.acc.Clone())
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*models.Account{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// mutate applies fn to a copy of the record under the key lock. fn returning
// an error discards the copy.
func (r *Repository) mutate(ctx context.Context, id string, fn func(rec *record) error) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var fnErr error
	rec, ok := r.accounts.Compute(id, func(old *record, loaded bool) (*record, bool) {
		if !loaded {
			fnErr = repository.ErrNotFound
			return nil, true
		}
		next := &record{acc: old.acc.Clone(), credited: old.credited}
		if err := fn(next); err != nil {
			fnErr = err
			return old, false
		}
		return next, false
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.acc.Clone(), nil
}

func (r *Repository) Apply(ctx context.Context, id string, upd *models.Update) (*models.Account, error) {
	return r.mutate(ctx, id, func(rec *record) error {
		if err := upd.Check(rec.acc); err != nil {
			return err
		}
		upd.ApplyTo(rec.acc)
		return nil
	})
}

func (r *Repository) ResetEnergy(ctx context.Context, id string, now time.Time) (*models.Account, error) {
	return r.mutate(ctx, id, func(rec *record) error {
		rec.acc.AvailableEnergy = rec.acc.TotalEnergy
		rec.acc.UpdatedAt = now
		return nil
	})
}

func (r *Repository) ResetEnergyAll(ctx context.Context, now time.Time) (int64, error) {
	var ids []string
	r.accounts.Range(func(id string, _ *record) bool {
		ids = append(ids, id)
		return true
	})

	var n int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, err := r.mutate(ctx, id, func(rec *record) error {
			if rec.acc.AvailableEnergy >= rec.acc.TotalEnergy {
				return errFull
			}
			rec.acc.AvailableEnergy = rec.acc.TotalEnergy
			rec.acc.UpdatedAt = now
			return nil
		})
		if err != nil {
			continue
		}
		n++
	}
	return n, nil
}

func (r *Repository) CreditReferral(ctx context.Context, referrerID, refereeID string, credit models.ReferralCredit) (bool, error) {
	applied := false
	_, err := r.mutate(ctx, referrerID, func(rec *record) error {
		if _, done := rec.credited[refereeID]; done {
			return nil
		}
		credited := make(map[string]struct{}, len(rec.credited)+1)
		for k := range rec.credited {
			credited[k] = struct{}{}
		}
		credited[refereeID] = struct{}{}
		rec.credited = credited
		credit.Apply(rec.acc)
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *Repository) MarkReferralCredited(ctx context.Context, refereeID string, now time.Time) error {
	_, err := r.mutate(ctx, refereeID, func(rec *record) error {
		if rec.acc.ReferralCredited {
			return nil
		}
		rec.acc.ReferralCredited = true
		rec.acc.UpdatedAt = now
		return nil
	})
	return err
}
