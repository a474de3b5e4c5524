package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"

	"tapgame-backend/internal/common/metrics"
	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository/memory"
)

const (
	testStartingEnergy = 1000
	testRewardBalance  = 100000
	testRewardSpins    = 100
	testReferralBonus  = 5000
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOptions(clock *testClock) Options {
	return Options{
		StartingEnergy:       testStartingEnergy,
		StartingLevel:        1,
		CheckInCooldown:      24 * time.Hour,
		CheckInRewardBalance: testRewardBalance,
		CheckInRewardSpins:   testRewardSpins,
		ReferralBonusField:   models.FieldBalance,
		ReferralBonusAmount:  testReferralBonus,
		StoreTimeout:         time.Second,
		CodeCacheSize:        128,
		Now:                  clock.Now,
	}
}

func newTestService(t *testing.T) (AccountService, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc, err := NewAccountService(memory.NewRepository(), testOptions(clock), metrics.New())
	require.NoError(t, err)
	return svc, clock
}

func mustCreate(t *testing.T, svc AccountService, id string) *models.Account {
	t.Helper()
	acc, created, err := svc.CreateAccount(context.Background(), id, "", "")
	require.NoError(t, err)
	require.True(t, created)
	return acc
}

func rawWallet(b byte) string {
	return "0:" + strings.Repeat(string("0123456789abcdef"[b%16]), 64)
}

func TestNewAccountService_RejectsBadOptions(t *testing.T) {
	opts := testOptions(&testClock{})
	opts.ReferralBonusField = "level"
	_, err := NewAccountService(memory.NewRepository(), opts, nil)
	assert.Error(t, err)

	opts = testOptions(&testClock{})
	opts.StoreTimeout = 0
	_, err = NewAccountService(memory.NewRepository(), opts, nil)
	assert.Error(t, err)
}

func TestCreateAccount_Defaults(t *testing.T) {
	svc, clock := newTestService(t)

	acc := mustCreate(t, svc, "  1001 ")

	assert.Equal(t, "1001", acc.ID)
	assert.Equal(t, int64(testStartingEnergy), acc.AvailableEnergy)
	assert.Equal(t, int64(testStartingEnergy), acc.TotalEnergy)
	assert.Equal(t, int64(1), acc.TapPower)
	assert.Equal(t, int64(1), acc.Level)
	assert.Zero(t, acc.Balance)
	assert.False(t, acc.Premium)
	assert.Len(t, acc.ReferralCode, referralCodeLength)
	assert.Equal(t, clock.Now(), acc.CreatedAt)
}

func TestCreateAccount_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, svc, "1001")
	_, err := svc.ApplyDelta(ctx, "1001", models.Delta{Balance: 10})
	require.NoError(t, err)

	again, created, err := svc.CreateAccount(ctx, "1001", "", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ReferralCode, again.ReferralCode)
	assert.Equal(t, int64(10), again.Balance)
}

func TestCreateAccount_ConcurrentSameID(t *testing.T) {
	svc, _ := newTestService(t)

	var createdCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := svc.CreateAccount(context.Background(), "1001", "", "")
			assert.NoError(t, err)
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load())
}

func TestCreateAccount_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.CreateAccount(ctx, "   ", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.CreateAccount(ctx, "1001", "not-a-wallet", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.CreateAccount(ctx, "1001", "", "NOPE000000")
	assert.ErrorIs(t, err, ErrInvalidReferral)

	_, _, err = svc.CreateAccount(ctx, "1001", "", "bad code")
	assert.ErrorIs(t, err, ErrInvalidReferral)

	_, err = svc.GetAccount(ctx, "1001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAccount_WithWallet(t *testing.T) {
	svc, _ := newTestService(t)
	raw := rawWallet(1)
	want, err := address.ParseRawAddr(raw)
	require.NoError(t, err)

	acc, created, err := svc.CreateAccount(context.Background(), "1001", raw, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, want.String(), acc.WalletAddress)
}

func TestCreateAccount_ReferralCreditedOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	referrer := mustCreate(t, svc, "1")

	referee, created, err := svc.CreateAccount(ctx, "2", "", strings.ToLower(referrer.ReferralCode))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "1", referee.ReferredBy)
	assert.True(t, referee.ReferralCredited)

	for i := 0; i < 3; i++ {
		_, created, err = svc.CreateAccount(ctx, "2", "", referrer.ReferralCode)
		require.NoError(t, err)
		assert.False(t, created)
	}

	got, err := svc.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(testReferralBonus), got.Balance)
	assert.Equal(t, int64(1), got.ReferralCount)

	stored, err := svc.GetAccount(ctx, "2")
	require.NoError(t, err)
	assert.True(t, stored.ReferralCredited)
}

func TestCreateAccount_ConcurrentReferees(t *testing.T) {
	svc, _ := newTestService(t)
	referrer := mustCreate(t, svc, "ref")

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.CreateAccount(context.Background(), "player-"+string(rune('a'+i)), "", referrer.ReferralCode)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := svc.GetAccount(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.ReferralCount)
	assert.Equal(t, int64(n*testReferralBonus), got.Balance)
}

func TestApplyDelta_ConcurrentSpins(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "1001")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyDelta(context.Background(), "1001", models.Delta{Spin: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := svc.GetAccount(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(n), acc.SpinCount)
}

func TestApplyDelta_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "1001")
	neg := int64(-1)
	no := false
	count := int64(3)
	huge := MaxDeltaMagnitude + 1

	tests := []struct {
		name  string
		delta models.Delta
		want  error
	}{
		{name: "empty", delta: models.Delta{}, want: ErrInvalidDelta},
		{name: "overspend", delta: models.Delta{Balance: -1}, want: ErrInsufficientBalance},
		{name: "energy underflow", delta: models.Delta{Energy: -testStartingEnergy - 1}, want: ErrInsufficientEnergy},
		{name: "tap power below one", delta: models.Delta{TapPower: -1}, want: ErrInvalidDelta},
		{name: "spin underflow", delta: models.Delta{Spin: -1}, want: ErrInvalidDelta},
		{name: "negative level", delta: models.Delta{Level: &neg}, want: ErrInvalidDelta},
		{name: "negative total energy", delta: models.Delta{TotalEnergy: &neg}, want: ErrInvalidDelta},
		{name: "premium revoke", delta: models.Delta{Premium: &no}, want: ErrInvalidDelta},
		{name: "raw check-in counter", delta: models.Delta{CheckIn: &count}, want: ErrInvalidDelta},
		{name: "huge balance", delta: models.Delta{Balance: math.MaxInt64}, want: ErrInvalidDelta},
		{name: "huge energy", delta: models.Delta{Energy: math.MaxInt64}, want: ErrInvalidDelta},
		{name: "huge negative spin", delta: models.Delta{Spin: math.MinInt64}, want: ErrInvalidDelta},
		{name: "huge level", delta: models.Delta{Level: &huge}, want: ErrInvalidDelta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyDelta(ctx, "1001", tt.delta)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	acc, err := svc.GetAccount(ctx, "1001")
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
	assert.Equal(t, int64(testStartingEnergy), acc.AvailableEnergy)

	_, err = svc.ApplyDelta(ctx, "missing", models.Delta{Spin: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDelta_TapSpendsEnergy(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "1001")

	acc, err := svc.ApplyDelta(context.Background(), "1001", models.Delta{Balance: 5, Energy: -5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), acc.Balance)
	assert.Equal(t, int64(testStartingEnergy-5), acc.AvailableEnergy)
}

func TestPurchaseBooster_ExactlyOneWinsExactBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "1001")
	_, err := svc.ApplyDelta(ctx, "1001", models.Delta{Balance: 60})
	require.NoError(t, err)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PurchaseBooster(ctx, "1001", 20, 60, 1)
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, ErrInsufficientBalance):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), rejected.Load())

	acc, err := svc.GetAccount(ctx, "1001")
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
	assert.Equal(t, int64(testStartingEnergy+20), acc.TotalEnergy)
	assert.Equal(t, int64(testStartingEnergy+20), acc.AvailableEnergy)
	assert.Equal(t, int64(2), acc.TapPower)
}

func TestPurchaseBooster_InvalidArguments(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "1001")

	_, err := svc.PurchaseBooster(context.Background(), "1001", 0, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.PurchaseBooster(context.Background(), "1001", 10, -1, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.PurchaseBooster(context.Background(), "1001", math.MaxInt64, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.PurchasePremium(context.Background(), "1001", math.MaxInt64)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPurchasePremium_OneWayAndChargedOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "1001")

	_, err := svc.PurchasePremium(ctx, "1001", 1000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = svc.ApplyDelta(ctx, "1001", models.Delta{Balance: 1000})
	require.NoError(t, err)

	acc, err := svc.PurchasePremium(ctx, "1001", 1000)
	require.NoError(t, err)
	assert.True(t, acc.Premium)
	assert.Zero(t, acc.Balance)

	acc, err = svc.PurchasePremium(ctx, "1001", 1000)
	require.NoError(t, err)
	assert.True(t, acc.Premium)
	assert.Zero(t, acc.Balance)

	_, err = svc.PurchasePremium(ctx, "1001", -5)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCheckIn_Cooldown(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "1001")

	acc, err := svc.CheckIn(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.CheckInCount)
	assert.Equal(t, int64(testRewardBalance), acc.Balance)
	assert.Equal(t, int64(testRewardSpins), acc.SpinCount)

	_, err = svc.CheckIn(ctx, "1001")
	assert.ErrorIs(t, err, ErrCheckInTooSoon)

	clock.Advance(23 * time.Hour)
	_, err = svc.ApplyDelta(ctx, "1001", models.Delta{IsCheckIn: true})
	assert.ErrorIs(t, err, ErrCheckInTooSoon)

	clock.Advance(time.Hour)
	acc, err = svc.CheckIn(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.CheckInCount)
	assert.Equal(t, int64(2*testRewardBalance), acc.Balance)
}

func TestCheckIn_ConcurrentOnlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "1001")

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CheckIn(context.Background(), "1001"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
}

func TestLinkWallet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "1001")

	first, err := address.ParseRawAddr(rawWallet(1))
	require.NoError(t, err)
	second, err := address.ParseRawAddr(rawWallet(2))
	require.NoError(t, err)

	acc, err := svc.LinkWallet(ctx, "1001", rawWallet(1), false)
	require.NoError(t, err)
	assert.Equal(t, first.String(), acc.WalletAddress)

	// Friendly form of the same address is not a conflict.
	_, err = svc.LinkWallet(ctx, "1001", first.String(), false)
	require.NoError(t, err)

	_, err = svc.LinkWallet(ctx, "1001", rawWallet(2), false)
	assert.ErrorIs(t, err, ErrWalletAlreadyLinked)

	wallet := rawWallet(2)
	_, err = svc.ApplyDelta(ctx, "1001", models.Delta{WalletAddress: &wallet})
	assert.ErrorIs(t, err, ErrWalletAlreadyLinked)

	acc, err = svc.LinkWallet(ctx, "1001", rawWallet(2), true)
	require.NoError(t, err)
	assert.Equal(t, second.String(), acc.WalletAddress)

	_, err = svc.LinkWallet(ctx, "1001", "garbage", true)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateProgress(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "1001")
	level, total := int64(4), int64(300)

	acc, err := svc.UpdateProgress(context.Background(), "1001", models.ProgressRequest{Level: &level, PerkIncrement: 2, TotalEnergy: &total})
	require.NoError(t, err)
	assert.Equal(t, level, acc.Level)
	assert.Equal(t, int64(2), acc.PerkCount)
	assert.Equal(t, total, acc.TotalEnergy)
	assert.Equal(t, total, acc.AvailableEnergy)

	// Level stays absolute while perks accumulate.
	acc, err = svc.UpdateProgress(context.Background(), "1001", models.ProgressRequest{Level: &level, PerkIncrement: 3})
	require.NoError(t, err)
	assert.Equal(t, level, acc.Level)
	assert.Equal(t, int64(5), acc.PerkCount)

	_, err = svc.UpdateProgress(context.Background(), "1001", models.ProgressRequest{})
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func TestResetEnergy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		mustCreate(t, svc, id)
	}
	_, err := svc.ApplyDelta(ctx, "1", models.Delta{Energy: -100})
	require.NoError(t, err)
	_, err = svc.ApplyDelta(ctx, "2", models.Delta{Energy: -1})
	require.NoError(t, err)

	acc, err := svc.ResetEnergy(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, acc.TotalEnergy, acc.AvailableEnergy)

	n, err := svc.ResetEnergyForAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.ResetEnergy(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetEnergyForAll_RacesMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const players, opsPerPlayer, sweeps = 8, 300, 40
	ids := make([]string, players)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", 2000+i)
		mustCreate(t, svc, ids[i])
		_, err := svc.ApplyDelta(ctx, ids[i], models.Delta{Balance: 2000})
		require.NoError(t, err)
	}

	expected := func(err error, allowed ...error) bool {
		if err == nil {
			return true
		}
		for _, a := range allowed {
			if errors.Is(err, a) {
				return true
			}
		}
		return false
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(seed int64, id string) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for n := 0; n < opsPerPlayer; n++ {
				var err error
				switch rnd.Intn(4) {
				case 0:
					_, err = svc.ApplyDelta(ctx, id, models.Delta{Energy: -(rnd.Int63n(400) + 1)})
				case 1:
					_, err = svc.PurchaseBooster(ctx, id, rnd.Int63n(50)+1, rnd.Int63n(300)+1, 1)
				case 2:
					_, err = svc.ApplyDelta(ctx, id, models.Delta{Balance: rnd.Int63n(100) + 1, Energy: -(rnd.Int63n(50) + 1)})
				default:
					_, err = svc.ApplyDelta(ctx, id, models.Delta{Balance: -(rnd.Int63n(200) + 1)})
				}
				assert.True(t, expected(err, ErrInsufficientBalance, ErrInsufficientEnergy), "unexpected error: %v", err)
			}
		}(int64(i+1), id)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < sweeps; n++ {
			_, err := svc.ResetEnergyForAll(ctx)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	all, err := svc.ListAccounts(ctx, MaxListLimit, 0)
	require.NoError(t, err)
	require.Len(t, all, players)
	for _, acc := range all {
		assert.GreaterOrEqual(t, acc.Balance, int64(0), acc.ID)
		assert.GreaterOrEqual(t, acc.AvailableEnergy, int64(0), acc.ID)
		assert.LessOrEqual(t, acc.AvailableEnergy, acc.TotalEnergy, acc.ID)
		assert.GreaterOrEqual(t, acc.TapPower, int64(1), acc.ID)
	}
}

func TestListAccounts(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		mustCreate(t, svc, id)
		clock.Advance(time.Second)
	}

	all, err := svc.ListAccounts(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, err := svc.ListAccounts(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	_, err = svc.ListAccounts(ctx, 10, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
