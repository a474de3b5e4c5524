package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository"
)

func TestBuildFilter_NoPreconditions(t *testing.T) {
	upd := &models.Update{Inc: models.Increments{Balance: 10, Spin: 1}}
	assert.Equal(t, bson.M{"_id": "42"}, BuildFilter("42", upd))
}

func TestBuildFilter_Minimums(t *testing.T) {
	upd := &models.Update{Inc: models.Increments{Balance: -60, AvailableEnergy: -5, TapPower: -1, Spin: 2}}

	filter := BuildFilter("42", upd)

	conds, ok := filter["$and"].(bson.A)
	require.True(t, ok)
	assert.Equal(t, bson.A{
		bson.M{"_id": "42"},
		bson.M{"balance": bson.M{"$gte": int64(60)}},
		bson.M{"available_energy": bson.M{"$gte": int64(5)}},
		bson.M{"tap_power": bson.M{"$gte": int64(2)}},
	}, conds)
}

func TestBuildFilter_CheckInPremiumWallet(t *testing.T) {
	notAfter := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	no := false
	wallet := "EQwallet"
	upd := &models.Update{
		CheckIn:        &models.CheckIn{NotAfter: notAfter},
		RequirePremium: &no,
		SetWallet:      &wallet,
	}

	conds := BuildFilter("42", upd)["$and"].(bson.A)
	require.Len(t, conds, 4)
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"last_check_in_at": nil},
		bson.M{"last_check_in_at": bson.M{"$lte": notAfter}},
	}}, conds[1])
	assert.Equal(t, bson.M{"premium": false}, conds[2])
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"wallet_address": bson.M{"$in": bson.A{nil, ""}}},
		bson.M{"wallet_address": wallet},
	}}, conds[3])

	upd.Relink = true
	assert.Len(t, BuildFilter("42", upd)["$and"].(bson.A), 3)
}

func TestBuildPipeline_Stages(t *testing.T) {
	now := time.Now().UTC()
	total := int64(500)
	level := int64(3)
	upd := &models.Update{
		Inc:            models.Increments{Balance: -10, AvailableEnergy: 20, TotalEnergy: 20},
		SetTotalEnergy: &total,
		SetLevel:       &level,
		SetPremium:     true,
		Now:            now,
	}

	p := BuildPipeline(upd)
	require.Len(t, p, 2)

	first := p[0][0]
	assert.Equal(t, "$set", first.Key)
	assert.Equal(t, bson.M{"total_energy": bson.M{"$max": bson.A{
		int64(0),
		bson.M{"$add": bson.A{int64(500), int64(20)}},
	}}}, first.Value)

	second := p[1][0]
	require.Equal(t, "$set", second.Key)
	set := second.Value.(bson.D).Map()
	assert.Contains(t, set, "available_energy")
	assert.Equal(t, bson.M{"$add": bson.A{"$balance", int64(-10)}}, set["balance"])
	assert.Equal(t, bson.M{"$literal": int64(3)}, set["level"])
	assert.Equal(t, true, set["premium"])
	assert.Equal(t, now, set["updated_at"])
	assert.NotContains(t, set, "spin_count")
	assert.NotContains(t, set, "last_check_in_at")
}

func TestBuildPipeline_CheckIn(t *testing.T) {
	now := time.Now().UTC()
	p := BuildPipeline(&models.Update{CheckIn: &models.CheckIn{NotAfter: now}, Now: now})

	set := p[1][0].Value.(bson.D).Map()
	assert.Equal(t, now, set["last_check_in_at"])
	assert.Contains(t, set, "check_in_count")
	assert.Equal(t, bson.M{"total_energy": bson.M{"$max": bson.A{int64(0), "$total_energy"}}}, p[0][0].Value)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(mongo.ErrNoDocuments), repository.ErrNotFound)
	assert.ErrorIs(t, mapError(context.DeadlineExceeded), repository.ErrUnavailable)

	other := errors.New("write conflict")
	assert.Equal(t, other, mapError(other))
}
