package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository"
)

const (
	accountsKey = "ledger:accounts"

	sweepBatch       = 500
	sweepParallelism = 16
)

func accountKey(id string) string  { return fmt.Sprintf("ledger:account:{%s}", id) }
func refereesKey(id string) string { return fmt.Sprintf("ledger:referees:{%s}", id) }
func codeKey(code string) string   { return "ledger:code:" + code }

// accountRepository stores each account as a hash. Mutations run as Lua
// scripts so the precondition check and the write are one server-side step.
// The create script touches keys in different slots and expects a standalone
// server.
type accountRepository struct {
	client *redis.Client
}

func NewAccountRepository(client *redis.Client) repository.AccountRepository {
	return &accountRepository{client: client}
}

func (r *accountRepository) Create(ctx context.Context, acc *models.Account) (*models.Account, bool, error) {
	args := append([]interface{}{acc.ID, acc.CreatedAt.UnixMilli()}, toHash(acc)...)
	res, err := createScript.Run(ctx, r.client,
		[]string{accountKey(acc.ID), codeKey(acc.ReferralCode), accountsKey},
		args...,
	).Slice()
	if err != nil {
		return nil, false, mapError(err)
	}

	switch status(res) {
	case "code_taken":
		return nil, false, repository.ErrReferralCodeTaken
	case "created", "exists":
		stored, err := decodeReply(res)
		if err != nil {
			return nil, false, err
		}
		return stored, status(res) == "created", nil
	default:
		return nil, false, fmt.Errorf("unexpected create reply %v", res)
	}
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	fields, err := r.client.HGetAll(ctx, accountKey(id)).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return fromHash(fields)
}

func (r *accountRepository) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	id, err := r.client.Get(ctx, codeKey(code)).Result()
	if err != nil {
		return nil, mapError(err)
	}
	return r.GetByID(ctx, id)
}

func (r *accountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	ids, err := r.client.ZRange(ctx, accountsKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, mapError(err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, accountKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, mapError(err)
		}
	}

	accounts := make([]*models.Account, 0, len(ids))
	for _, cmd := range cmds {
		acc, err := fromHash(cmd.Val())
		if err != nil {
			continue
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// scriptUpdate is the JSON form of models.Update read by applyScript.
// Zero increments are omitted and read back as 0.
type scriptUpdate struct {
	Balance        int64   `json:"balance,omitempty"`
	Energy         int64   `json:"energy,omitempty"`
	TotalEnergy    int64   `json:"total_energy,omitempty"`
	TapPower       int64   `json:"tap_power,omitempty"`
	Spin           int64   `json:"spin,omitempty"`
	Perk           int64   `json:"perk,omitempty"`
	SetTotal       *int64  `json:"set_total,omitempty"`
	SetLevel       *int64  `json:"set_level,omitempty"`
	SetWallet      *string `json:"set_wallet,omitempty"`
	Relink         bool    `json:"relink,omitempty"`
	SetPremium     bool    `json:"set_premium,omitempty"`
	CheckIn        bool    `json:"check_in,omitempty"`
	NotAfter       int64   `json:"not_after,omitempty"`
	RequirePremium *bool   `json:"require_premium,omitempty"`
	Now            int64   `json:"now"`
}

func encodeUpdate(upd *models.Update) ([]byte, error) {
	su := scriptUpdate{
		Balance:        upd.Inc.Balance,
		Energy:         upd.Inc.AvailableEnergy,
		TotalEnergy:    upd.Inc.TotalEnergy,
		TapPower:       upd.Inc.TapPower,
		Spin:           upd.Inc.Spin,
		Perk:           upd.Inc.Perk,
		SetTotal:       upd.SetTotalEnergy,
		SetLevel:       upd.SetLevel,
		SetWallet:      upd.SetWallet,
		Relink:         upd.Relink,
		SetPremium:     upd.SetPremium,
		RequirePremium: upd.RequirePremium,
		Now:            upd.Now.UnixMilli(),
	}
	if upd.CheckIn != nil {
		su.CheckIn = true
		su.NotAfter = upd.CheckIn.NotAfter.UnixMilli()
	}
	return json.Marshal(su)
}

func (r *accountRepository) Apply(ctx context.Context, id string, upd *models.Update) (*models.Account, error) {
	payload, err := encodeUpdate(upd)
	if err != nil {
		return nil, err
	}

	res, err := applyScript.Run(ctx, r.client, []string{accountKey(id)}, string(payload)).Slice()
	if err != nil {
		return nil, mapError(err)
	}

	switch status(res) {
	case "missing":
		return nil, repository.ErrNotFound
	case "fail":
		cond, _ := res[1].(string)
		return nil, &models.ConditionError{Condition: models.Condition(cond)}
	case "ok":
		return decodeReply(res)
	default:
		return nil, fmt.Errorf("unexpected apply reply %v", res)
	}
}

func (r *accountRepository) ResetEnergy(ctx context.Context, id string, now time.Time) (*models.Account, error) {
	res, err := resetScript.Run(ctx, r.client, []string{accountKey(id)}, now.UnixMilli(), "0").Slice()
	if err != nil {
		return nil, mapError(err)
	}
	if status(res) == "missing" {
		return nil, repository.ErrNotFound
	}
	return decodeReply(res)
}

// ResetEnergyAll walks the accounts index and refills each account with its
// own script call, several in flight at a time.
func (r *accountRepository) ResetEnergyAll(ctx context.Context, now time.Time) (int64, error) {
	var (
		updated atomic.Int64
		cursor  uint64
	)
	for {
		// ZSCAN replies alternate member and score.
		page, next, err := r.client.ZScan(ctx, accountsKey, cursor, "", sweepBatch).Result()
		if err != nil {
			return updated.Load(), mapError(err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepParallelism)
		for i := 0; i < len(page); i += 2 {
			id := page[i]
			g.Go(func() error {
				res, err := resetScript.Run(gctx, r.client, []string{accountKey(id)}, now.UnixMilli(), "1").Slice()
				if err != nil {
					return mapError(err)
				}
				if status(res) == "ok" {
					updated.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return updated.Load(), err
		}

		cursor = next
		if cursor == 0 {
			return updated.Load(), nil
		}
	}
}

func (r *accountRepository) CreditReferral(ctx context.Context, referrerID, refereeID string, credit models.ReferralCredit) (bool, error) {
	n, err := creditScript.Run(ctx, r.client,
		[]string{accountKey(referrerID), refereesKey(referrerID)},
		refereeID, string(credit.Field), credit.Amount, credit.Now.UnixMilli(),
	).Int64()
	if err != nil {
		return false, mapError(err)
	}
	if n < 0 {
		return false, repository.ErrNotFound
	}
	return n == 1, nil
}

func (r *accountRepository) MarkReferralCredited(ctx context.Context, refereeID string, now time.Time) error {
	n, err := markCreditedScript.Run(ctx, r.client, []string{accountKey(refereeID)}, now.UnixMilli()).Int64()
	if err != nil {
		return mapError(err)
	}
	if n < 0 {
		return repository.ErrNotFound
	}
	return nil
}

func status(res []interface{}) string {
	if len(res) == 0 {
		return ""
	}
	s, _ := res[0].(string)
	return s
}

func decodeReply(res []interface{}) (*models.Account, error) {
	if len(res) < 2 {
		return nil, fmt.Errorf("short script reply %v", res)
	}
	flat, ok := res[1].([]interface{})
	if !ok {
		return nil, fmt.Errorf("bad script reply %v", res)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return fromHash(fields)
}

func toHash(acc *models.Account) []interface{} {
	h := []interface{}{
		"id", acc.ID,
		"balance", acc.Balance,
		"available_energy", acc.AvailableEnergy,
		"total_energy", acc.TotalEnergy,
		"tap_power", acc.TapPower,
		"spin_count", acc.SpinCount,
		"perk_count", acc.PerkCount,
		"level", acc.Level,
		"check_in_count", acc.CheckInCount,
		"premium", boolFlag(acc.Premium),
		"referral_code", acc.ReferralCode,
		"referral_count", acc.ReferralCount,
		"referral_credited", boolFlag(acc.ReferralCredited),
		"created_at", acc.CreatedAt.UnixMilli(),
		"updated_at", acc.UpdatedAt.UnixMilli(),
	}
	if acc.WalletAddress != "" {
		h = append(h, "wallet_address", acc.WalletAddress)
	}
	if acc.ReferredBy != "" {
		h = append(h, "referred_by", acc.ReferredBy)
	}
	if acc.LastCheckInAt != nil {
		h = append(h, "last_check_in_at", acc.LastCheckInAt.UnixMilli())
	}
	return h
}

func fromHash(h map[string]string) (*models.Account, error) {
	if len(h) == 0 || h["id"] == "" {
		return nil, repository.ErrNotFound
	}

	var parseErr error
	num := func(field string) int64 {
		v, ok := h[field]
		if !ok || v == "" {
			return 0
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("field %s: %w", field, err)
		}
		return n
	}
	ms := func(field string) time.Time {
		return time.UnixMilli(num(field)).UTC()
	}

	acc := &models.Account{
		ID:               h["id"],
		WalletAddress:    h["wallet_address"],
		Balance:          num("balance"),
		AvailableEnergy:  num("available_energy"),
		TotalEnergy:      num("total_energy"),
		TapPower:         num("tap_power"),
		SpinCount:        num("spin_count"),
		PerkCount:        num("perk_count"),
		Level:            num("level"),
		CheckInCount:     num("check_in_count"),
		Premium:          h["premium"] == "1",
		ReferredBy:       h["referred_by"],
		ReferralCode:     h["referral_code"],
		ReferralCount:    num("referral_count"),
		ReferralCredited: h["referral_credited"] == "1",
		CreatedAt:        ms("created_at"),
		UpdatedAt:        ms("updated_at"),
	}
	if v := h["last_check_in_at"]; v != "" {
		t := ms("last_check_in_at")
		acc.LastCheckInAt = &t
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return acc, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func mapError(err error) error {
	if errors.Is(err, redis.Nil) {
		return repository.ErrNotFound
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		// Server-side reply errors (script bugs, WRONGTYPE) are not transient.
		return err
	}
	return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
}
