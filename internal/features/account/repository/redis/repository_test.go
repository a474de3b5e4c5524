package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository"
)

func hashOf(fields []interface{}) map[string]string {
	h := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		h[fields[i].(string)] = fmt.Sprint(fields[i+1])
	}
	return h
}

func TestHashKeepsMillisecondTimestamps(t *testing.T) {
	checkIn := time.Date(2026, 2, 1, 8, 30, 0, 123_456_789, time.UTC)
	acc := &models.Account{
		ID:               "42",
		WalletAddress:    "EQwallet",
		AvailableEnergy:  7,
		TotalEnergy:      10,
		TapPower:         2,
		SpinCount:        3,
		Level:            4,
		CheckInCount:     1,
		LastCheckInAt:    &checkIn,
		Premium:          true,
		ReferredBy:       "7",
		ReferralCode:     "ABCDEF1234",
		ReferralCredited: true,
		CreatedAt:        checkIn,
		UpdatedAt:        checkIn,
	}

	got, err := fromHash(hashOf(toHash(acc)))
	require.NoError(t, err)

	want := acc.Clone()
	truncated := checkIn.Truncate(time.Millisecond)
	want.LastCheckInAt = &truncated
	want.CreatedAt = truncated
	want.UpdatedAt = truncated
	assert.Equal(t, want, got)
}

func TestFromHash(t *testing.T) {
	_, err := fromHash(map[string]string{})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = fromHash(map[string]string{"id": "1", "balance": "lots"})
	assert.Error(t, err)

	acc, err := fromHash(map[string]string{"id": "1", "premium": "0"})
	require.NoError(t, err)
	assert.False(t, acc.Premium)
	assert.Nil(t, acc.LastCheckInAt)
	assert.Empty(t, acc.WalletAddress)
}

func TestEncodeUpdate(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000).UTC()
	wallet := "EQwallet"
	no := false
	raw, err := encodeUpdate(&models.Update{
		Inc:            models.Increments{Balance: -5},
		SetWallet:      &wallet,
		RequirePremium: &no,
		CheckIn:        &models.CheckIn{NotAfter: now.Add(-time.Hour)},
		Now:            now,
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]interface{}{
		"balance":         float64(-5),
		"set_wallet":      wallet,
		"require_premium": false,
		"check_in":        true,
		"not_after":       float64(now.Add(-time.Hour).UnixMilli()),
		"now":             float64(now.UnixMilli()),
	}, got)
}

func TestDecodeReply(t *testing.T) {
	acc, err := decodeReply([]interface{}{"ok", []interface{}{"id", "9", "balance", "12"}})
	require.NoError(t, err)
	assert.Equal(t, "9", acc.ID)
	assert.Equal(t, int64(12), acc.Balance)

	_, err = decodeReply([]interface{}{"ok"})
	assert.Error(t, err)
	assert.Equal(t, "ok", status([]interface{}{"ok"}))
	assert.Equal(t, "", status(nil))
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(redis.Nil), repository.ErrNotFound)
	assert.ErrorIs(t, mapError(errors.New("dial tcp: connection refused")), repository.ErrUnavailable)
}

func TestKeysShareHashSlot(t *testing.T) {
	assert.Equal(t, "ledger:account:{42}", accountKey("42"))
	assert.Equal(t, "ledger:referees:{42}", refereesKey("42"))
}
