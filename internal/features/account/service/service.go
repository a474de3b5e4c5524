package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"tapgame-backend/internal/common/logger"
	"tapgame-backend/internal/common/metrics"
	"tapgame-backend/internal/common/validation"
	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository"
)

// Options are the ledger tunables.
type Options struct {
	StartingEnergy       int64
	StartingLevel        int64
	CheckInCooldown      time.Duration
	CheckInRewardBalance int64
	CheckInRewardSpins   int64
	ReferralBonusField   models.Field
	ReferralBonusAmount  int64
	StoreTimeout         time.Duration
	CodeCacheSize        int

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

type accountService struct {
	repo    repository.AccountRepository
	opts    Options
	codes   *lru.Cache
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewAccountService(repo repository.AccountRepository, opts Options, m *metrics.Metrics) (AccountService, error) {
	if !opts.ReferralBonusField.Valid() {
		return nil, fmt.Errorf("invalid referral bonus field %q", opts.ReferralBonusField)
	}
	if opts.StoreTimeout <= 0 {
		return nil, fmt.Errorf("store timeout must be positive")
	}
	size := opts.CodeCacheSize
	if size <= 0 {
		size = 1
	}
	codes, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("referral code cache: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &accountService{
		repo:    repo,
		opts:    opts,
		codes:   codes,
		metrics: m,
		log:     logger.With("account-service"),
		now:     func() time.Time { return now().UTC() },
	}, nil
}

// storeCall bounds one store round trip by the configured timeout and turns
// timeouts and connectivity failures into ErrStorageUnavailable.
func storeCall[T any](ctx context.Context, s *accountService, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	s.metrics.ObserveStore(op, time.Since(start))

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repository.ErrUnavailable)) {
		return v, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	return v, err
}

// translate maps store errors onto the service sentinels.
func translate(err error) error {
	var condErr *models.ConditionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStorageUnavailable):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.As(err, &condErr):
		switch condErr.Condition {
		case models.CondBalance:
			return ErrInsufficientBalance
		case models.CondEnergy:
			return ErrInsufficientEnergy
		case models.CondCheckIn:
			return ErrCheckInTooSoon
		case models.CondWallet:
			return ErrWalletAlreadyLinked
		default:
			return fmt.Errorf("%w: %s would drop below its minimum", ErrInvalidDelta, condErr.Condition)
		}
	default:
		return err
	}
}

func (s *accountService) record(op string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveOp(op, "ok")
	case errors.Is(err, ErrStorageUnavailable):
		s.metrics.ObserveOp(op, "unavailable")
	case isRejection(err):
		s.metrics.ObserveOp(op, "rejected")
	default:
		s.metrics.ObserveOp(op, "error")
		s.log.Error().Err(err).Str("op", op).Msg("Ledger operation failed")
	}
}

func isRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidInput, ErrNotFound, ErrInvalidReferral, ErrInvalidDelta,
		ErrInsufficientBalance, ErrInsufficientEnergy, ErrCheckInTooSoon, ErrWalletAlreadyLinked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func normalizeID(playerID string) (string, error) {
	id, err := validation.ValidatePlayerID(playerID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return id, nil
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:referralCodeLength])
}

func (s *accountService) CreateAccount(ctx context.Context, playerID, walletAddress, referralCode string) (acc *models.Account, created bool, err error) {
	defer func() { s.record(opCreate, err) }()

	id, err := normalizeID(playerID)
	if err != nil {
		return nil, false, err
	}
	var wallet string
	if strings.TrimSpace(walletAddress) != "" {
		if wallet, err = NormalizeWallet(walletAddress); err != nil {
			return nil, false, err
		}
	}

	existing, err := storeCall(ctx, s, opGet, func(ctx context.Context) (*models.Account, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err == nil {
		existing, err = s.resumeReferral(ctx, existing)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, translate(err)
	}

	code, err := validation.ValidateReferralCode(referralCode)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidReferral, err)
	}

	var referrerID string
	if code = strings.ToUpper(code); code != "" {
		if referrerID, err = s.resolveReferralCode(ctx, code); err != nil {
			return nil, false, err
		}
		if referrerID == id {
			return nil, false, fmt.Errorf("%w: self referral", ErrInvalidReferral)
		}
	}

	now := s.now()
	candidate := &models.Account{
		ID:              id,
		WalletAddress:   wallet,
		AvailableEnergy: s.opts.StartingEnergy,
		TotalEnergy:     s.opts.StartingEnergy,
		TapPower:        defaultTapPower,
		Level:           s.opts.StartingLevel,
		ReferredBy:      referrerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		candidate.ReferralCode = newReferralCode()
		acc, err = storeCall(ctx, s, opCreate, func(ctx context.Context) (*models.Account, error) {
			stored, inserted, err := s.repo.Create(ctx, candidate)
			created = inserted
			return stored, err
		})
		if !errors.Is(err, repository.ErrReferralCodeTaken) {
			break
		}
		s.log.Warn().Str("player_id", id).Int("attempt", attempt+1).Msg("Referral code collision, regenerating")
	}
	if err != nil {
		if errors.Is(err, repository.ErrReferralCodeTaken) {
			return nil, false, fmt.Errorf("allocate referral code: %w", err)
		}
		return nil, false, translate(err)
	}

	if created {
		s.codes.Add(acc.ReferralCode, acc.ID)
		s.log.Info().Str("player_id", acc.ID).Str("referred_by", acc.ReferredBy).Msg("Account created")
	}

	acc, err = s.resumeReferral(ctx, acc)
	if err != nil {
		return nil, false, err
	}
	return acc, created, nil
}

// resolveReferralCode returns the id owning code. The mapping never changes
// once written, so hits are served from the cache.
func (s *accountService) resolveReferralCode(ctx context.Context, code string) (string, error) {
	if v, ok := s.codes.Get(code); ok {
		return v.(string), nil
	}
	referrer, err := storeCall(ctx, s, opLookupReferral, func(ctx context.Context) (*models.Account, error) {
		return s.repo.GetByReferralCode(ctx, code)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown code %s", ErrInvalidReferral, code)
	}
	if err != nil {
		return "", translate(err)
	}
	s.codes.Add(code, referrer.ID)
	return referrer.ID, nil
}

// resumeReferral finishes the referral saga for acc when its referrer has not
// been confirmed as credited. The credit is keyed by the referee id, so
// repeating it after a partial failure never pays twice.
func (s *accountService) resumeReferral(ctx context.Context, acc *models.Account) (*models.Account, error) {
	if acc.ReferredBy == "" || acc.ReferralCredited {
		return acc, nil
	}

	credit := models.ReferralCredit{
		Field:  s.opts.ReferralBonusField,
		Amount: s.opts.ReferralBonusAmount,
		Now:    s.now(),
	}
	applied, err := storeCall(ctx, s, opCreditReferral, func(ctx context.Context) (bool, error) {
		return s.repo.CreditReferral(ctx, acc.ReferredBy, acc.ID, credit)
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("player_id", acc.ID).
			Str("referrer_id", acc.ReferredBy).
			Msg("Referral credit failed, will resume on retry")
		return nil, fmt.Errorf("credit referrer: %w", translate(err))
	}
	if applied {
		s.metrics.ReferralCredited()
		s.log.Info().
			Str("player_id", acc.ID).
			Str("referrer_id", acc.ReferredBy).
			Str("field", string(credit.Field)).
			Int64("amount", credit.Amount).
			Msg("Referral bonus credited")
	}

	_, err = storeCall(ctx, s, opMarkReferral, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.MarkReferralCredited(ctx, acc.ID, credit.Now)
	})
	if err != nil {
		return nil, fmt.Errorf("mark referral credited: %w", translate(err))
	}

	out := acc.Clone()
	out.ReferralCredited = true
	return out, nil
}

func (s *accountService) GetAccount(ctx context.Context, playerID string) (acc *models.Account, err error) {
	defer func() { s.record(opGet, err) }()

	id, err := normalizeID(playerID)
	if err != nil {
		return nil, err
	}
	acc, err = storeCall(ctx, s, opGet, func(ctx context.Context) (*models.Account, error) {
		return s.repo.GetByID(ctx, id)
	})
	return acc, translate(err)
}

func (s *accountService) ListAccounts(ctx context.Context, limit, offset int) (accounts []*models.Account, err error) {
	defer func() { s.record(opList, err) }()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be non-negative", ErrInvalidInput)
	}
	accounts, err = storeCall(ctx, s, opList, func(ctx context.Context) ([]*models.Account, error) {
		return s.repo.List(ctx, limit, offset)
	})
	return accounts, translate(err)
}

// compileDelta validates d and converts it into a store update.
func (s *accountService) compileDelta(d models.Delta, now time.Time) (*models.Update, error) {
	if d.IsEmpty() {
		return nil, fmt.Errorf("%w: empty delta", ErrInvalidDelta)
	}
	if d.CheckIn != nil {
		return nil, fmt.Errorf("%w: check-in count is not directly writable, use is_check_in", ErrInvalidDelta)
	}
	if d.Level != nil && *d.Level < 0 {
		return nil, fmt.Errorf("%w: level must be non-negative", ErrInvalidDelta)
	}
	if d.TotalEnergy != nil && *d.TotalEnergy < 0 {
		return nil, fmt.Errorf("%w: total energy must be non-negative", ErrInvalidDelta)
	}
	if d.Premium != nil && !*d.Premium {
		return nil, fmt.Errorf("%w: premium cannot be revoked", ErrInvalidDelta)
	}
	if !withinMagnitude(d.Balance, d.Energy, d.TapPower, d.Spin, d.Perk, deref(d.Level), deref(d.TotalEnergy)) {
		return nil, fmt.Errorf("%w: values cannot exceed %d in magnitude", ErrInvalidDelta, MaxDeltaMagnitude)
	}

	upd := &models.Update{
		Inc: models.Increments{
			Balance:         d.Balance,
			AvailableEnergy: d.Energy,
			TapPower:        d.TapPower,
			Spin:            d.Spin,
			Perk:            d.Perk,
		},
		SetLevel:       d.Level,
		SetTotalEnergy: d.TotalEnergy,
		SetPremium:     d.Premium != nil,
		Now:            now,
	}
	if d.WalletAddress != nil {
		wallet, err := NormalizeWallet(*d.WalletAddress)
		if err != nil {
			return nil, err
		}
		upd.SetWallet = &wallet
	}
	if d.IsCheckIn {
		upd.CheckIn = &models.CheckIn{NotAfter: now.Add(-s.opts.CheckInCooldown)}
	}
	return upd, nil
}

func withinMagnitude(values ...int64) bool {
	for _, v := range values {
		if v > MaxDeltaMagnitude || v < -MaxDeltaMagnitude {
			return false
		}
	}
	return true
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func (s *accountService) apply(ctx context.Context, playerID string, upd *models.Update) (*models.Account, error) {
	id, err := normalizeID(playerID)
	if err != nil {
		return nil, err
	}
	acc, err := storeCall(ctx, s, opApplyDelta, func(ctx context.Context) (*models.Account, error) {
		return s.repo.Apply(ctx, id, upd)
	})
	return acc, translate(err)
}

func (s *accountService) ApplyDelta(ctx context.Context, playerID string, delta models.Delta) (acc *models.Account, err error) {
	defer func() { s.record(opApplyDelta, err) }()

	upd, err := s.compileDelta(delta, s.now())
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, playerID, upd)
}

func (s *accountService) PurchaseBooster(ctx context.Context, playerID string, energyGain, price, tapGain int64) (acc *models.Account, err error) {
	defer func() { s.record(opBooster, err) }()

	if energyGain <= 0 || price <= 0 || tapGain <= 0 {
		return nil, fmt.Errorf("%w: energy gain, price and tap gain must be positive", ErrInvalidInput)
	}
	if !withinMagnitude(energyGain, price, tapGain) {
		return nil, fmt.Errorf("%w: booster values cannot exceed %d", ErrInvalidInput, MaxDeltaMagnitude)
	}
	return s.apply(ctx, playerID, &models.Update{
		Inc: models.Increments{
			Balance:         -price,
			AvailableEnergy: energyGain,
			TotalEnergy:     energyGain,
			TapPower:        tapGain,
		},
		Now: s.now(),
	})
}

// PurchasePremium charges price and flips premium in one write. An account
// that is already premium is returned as is and not charged.
func (s *accountService) PurchasePremium(ctx context.Context, playerID string, price int64) (acc *models.Account, err error) {
	defer func() { s.record(opPremium, err) }()

	if price < 0 || price > MaxDeltaMagnitude {
		return nil, fmt.Errorf("%w: price must be between 0 and %d", ErrInvalidInput, MaxDeltaMagnitude)
	}
	notPremium := false
	upd := &models.Update{
		Inc:            models.Increments{Balance: -price},
		SetPremium:     true,
		RequirePremium: &notPremium,
		Now:            s.now(),
	}

	id, err := normalizeID(playerID)
	if err != nil {
		return nil, err
	}
	acc, err = storeCall(ctx, s, opPremium, func(ctx context.Context) (*models.Account, error) {
		return s.repo.Apply(ctx, id, upd)
	})

	var condErr *models.ConditionError
	if errors.As(err, &condErr) && condErr.Condition == models.CondPremium {
		acc, err = storeCall(ctx, s, opGet, func(ctx context.Context) (*models.Account, error) {
			return s.repo.GetByID(ctx, id)
		})
	}
	return acc, translate(err)
}

func (s *accountService) CheckIn(ctx context.Context, playerID string) (acc *models.Account, err error) {
	defer func() { s.record(opCheckIn, err) }()

	now := s.now()
	return s.apply(ctx, playerID, &models.Update{
		Inc: models.Increments{
			Balance: s.opts.CheckInRewardBalance,
			Spin:    s.opts.CheckInRewardSpins,
		},
		CheckIn: &models.CheckIn{NotAfter: now.Add(-s.opts.CheckInCooldown)},
		Now:     now,
	})
}

func (s *accountService) LinkWallet(ctx context.Context, playerID, address string, relink bool) (acc *models.Account, err error) {
	defer func() { s.record(opLinkWallet, err) }()

	wallet, err := NormalizeWallet(address)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, playerID, &models.Update{
		SetWallet: &wallet,
		Relink:    relink,
		Now:       s.now(),
	})
}

func (s *accountService) UpdateProgress(ctx context.Context, playerID string, req models.ProgressRequest) (acc *models.Account, err error) {
	defer func() { s.record(opProgress, err) }()

	upd, err := s.compileDelta(models.Delta{
		Level:       req.Level,
		Perk:        req.PerkIncrement,
		TotalEnergy: req.TotalEnergy,
	}, s.now())
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, playerID, upd)
}

func (s *accountService) ResetEnergy(ctx context.Context, playerID string) (acc *models.Account, err error) {
	defer func() { s.record(opResetEnergy, err) }()

	id, err := normalizeID(playerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	acc, err = storeCall(ctx, s, opResetEnergy, func(ctx context.Context) (*models.Account, error) {
		return s.repo.ResetEnergy(ctx, id, now)
	})
	return acc, translate(err)
}

// ResetEnergyForAll refills every account. The sweep is bounded by ctx rather
// than the per-call store timeout.
func (s *accountService) ResetEnergyForAll(ctx context.Context) (n int64, err error) {
	defer func() { s.record(opResetEnergyAll, err) }()

	start := time.Now()
	n, err = s.repo.ResetEnergyAll(ctx, s.now())
	s.metrics.ObserveStore(opResetEnergyAll, time.Since(start))
	s.metrics.ObserveSweep(time.Since(start), n)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repository.ErrUnavailable) {
			return n, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, opResetEnergyAll, err)
		}
		return n, err
	}
	return n, nil
}
