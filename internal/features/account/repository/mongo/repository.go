package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tapgame-backend/internal/features/account/models"
	"tapgame-backend/internal/features/account/repository"
)

const (
	CollectionName = "accounts"

	fieldCredited = "credited_referees"

	// A filter miss whose re-read passes Check means another writer moved the
	// record in between; the write is retried this many times in total.
	applyAttempts = 3
)

// errContention is returned when every attempt raced with another writer.
var errContention = errors.New("account update contention")

type accountRepository struct {
	coll *mongo.Collection
}

func NewAccountRepository(db *mongo.Database) repository.AccountRepository {
	return &accountRepository{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique referral code index and the listing index.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "referral_code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		},
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// The credited set is never part of the returned record.
var accountProjection = bson.M{fieldCredited: 0}

func (r *accountRepository) Create(ctx context.Context, acc *models.Account) (*models.Account, bool, error) {
	_, err := r.coll.InsertOne(ctx, acc)
	if err == nil {
		return acc.Clone(), true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, mapError(err)
	}
	if strings.Contains(err.Error(), "referral_code") {
		// The id may have been inserted concurrently with a different code.
		existing, getErr := r.GetByID(ctx, acc.ID)
		if getErr == nil {
			return existing, false, nil
		}
		return nil, false, repository.ErrReferralCodeTaken
	}

	existing, err := r.GetByID(ctx, acc.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *accountRepository) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	var acc models.Account
	err := r.coll.FindOne(ctx, filter, options.FindOne().SetProjection(accountProjection)).Decode(&acc)
	if err != nil {
		return nil, mapError(err)
	}
	return &acc, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *accountRepository) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"referral_code": code})
}

func (r *accountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(accountProjection)

	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer cur.Close(ctx)

	accounts := make([]*models.Account, 0, limit)
	if err := cur.All(ctx, &accounts); err != nil {
		return nil, mapError(err)
	}
	return accounts, nil
}

func (r *accountRepository) Apply(ctx context.Context, id string, upd *models.Update) (*models.Account, error) {
	filter := BuildFilter(id, upd)
	pipeline := BuildPipeline(upd)
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(accountProjection)

	for attempt := 0; attempt < applyAttempts; attempt++ {
		var acc models.Account
		err := r.coll.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&acc)
		if err == nil {
			return &acc, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mapError(err)
		}

		// Filter miss: either the id is absent or a precondition failed.
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := upd.Check(current); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", repository.ErrUnavailable, errContention)
}

func (r *accountRepository) ResetEnergy(ctx context.Context, id string, now time.Time) (*models.Account, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(accountProjection)

	var acc models.Account
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, resetPipeline(now), opts).Decode(&acc)
	if err != nil {
		return nil, mapError(err)
	}
	return &acc, nil
}

// ResetEnergyAll refills only accounts below their total energy.
func (r *accountRepository) ResetEnergyAll(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{"$expr": bson.M{"$lt": bson.A{"$available_energy", "$total_energy"}}}
	res, err := r.coll.UpdateMany(ctx, filter, resetPipeline(now))
	if err != nil {
		return 0, mapError(err)
	}
	return res.ModifiedCount, nil
}

func (r *accountRepository) CreditReferral(ctx context.Context, referrerID, refereeID string, credit models.ReferralCredit) (bool, error) {
	filter := bson.M{
		"_id":         referrerID,
		fieldCredited: bson.M{"$ne": refereeID},
	}
	update := bson.M{
		"$inc": bson.M{
			string(credit.Field): credit.Amount,
			"referral_count":     int64(1),
		},
		"$addToSet": bson.M{fieldCredited: refereeID},
		"$set":      bson.M{"updated_at": credit.Now},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mapError(err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": referrerID})
	if err != nil {
		return false, mapError(err)
	}
	if n == 0 {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (r *accountRepository) MarkReferralCredited(ctx context.Context, refereeID string, now time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": refereeID},
		bson.M{"$set": bson.M{"referral_credited": true, "updated_at": now}},
	)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// BuildFilter expresses the preconditions of upd as a query filter. The
// filter matches exactly when upd.Check would pass.
func BuildFilter(id string, upd *models.Update) bson.M {
	conds := bson.A{bson.M{"_id": id}}

	minimum := func(field string, inc, floor int64) {
		if inc < 0 {
			conds = append(conds, bson.M{field: bson.M{"$gte": floor - inc}})
		}
	}
	minimum("balance", upd.Inc.Balance, 0)
	minimum("available_energy", upd.Inc.AvailableEnergy, 0)
	minimum("tap_power", upd.Inc.TapPower, 1)
	minimum("spin_count", upd.Inc.Spin, 0)
	minimum("perk_count", upd.Inc.Perk, 0)

	if upd.CheckIn != nil {
		conds = append(conds, bson.M{"$or": bson.A{
			bson.M{"last_check_in_at": nil},
			bson.M{"last_check_in_at": bson.M{"$lte": upd.CheckIn.NotAfter}},
		}})
	}
	if upd.RequirePremium != nil {
		conds = append(conds, bson.M{"premium": *upd.RequirePremium})
	}
	if upd.SetWallet != nil && !upd.Relink {
		conds = append(conds, bson.M{"$or": bson.A{
			bson.M{"wallet_address": bson.M{"$in": bson.A{nil, ""}}},
			bson.M{"wallet_address": *upd.SetWallet},
		}})
	}

	if len(conds) == 1 {
		return bson.M{"_id": id}
	}
	return bson.M{"$and": conds}
}

// BuildPipeline renders upd as an update pipeline. The first stage settles
// total_energy so the second can clamp available_energy against it.
func BuildPipeline(upd *models.Update) mongo.Pipeline {
	var total interface{} = "$total_energy"
	if upd.SetTotalEnergy != nil {
		total = *upd.SetTotalEnergy
	}
	if upd.Inc.TotalEnergy != 0 {
		total = bson.M{"$add": bson.A{total, upd.Inc.TotalEnergy}}
	}

	set := bson.D{
		{Key: "available_energy", Value: bson.M{"$max": bson.A{
			int64(0),
			bson.M{"$min": bson.A{
				bson.M{"$add": bson.A{"$available_energy", upd.Inc.AvailableEnergy}},
				"$total_energy",
			}},
		}}},
	}
	add := func(field string, inc int64) {
		if inc != 0 {
			set = append(set, bson.E{Key: field, Value: bson.M{"$add": bson.A{"$" + field, inc}}})
		}
	}
	add("balance", upd.Inc.Balance)
	add("tap_power", upd.Inc.TapPower)
	add("spin_count", upd.Inc.Spin)
	add("perk_count", upd.Inc.Perk)

	if upd.SetLevel != nil {
		set = append(set, bson.E{Key: "level", Value: bson.M{"$literal": *upd.SetLevel}})
	}
	if upd.SetWallet != nil {
		set = append(set, bson.E{Key: "wallet_address", Value: bson.M{"$literal": *upd.SetWallet}})
	}
	if upd.SetPremium {
		set = append(set, bson.E{Key: "premium", Value: true})
	}
	if upd.CheckIn != nil {
		set = append(set,
			bson.E{Key: "check_in_count", Value: bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$check_in_count", int64(0)}}, int64(1)}}},
			bson.E{Key: "last_check_in_at", Value: upd.Now},
		)
	}
	set = append(set, bson.E{Key: "updated_at", Value: upd.Now})

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"total_energy": bson.M{"$max": bson.A{int64(0), total}}}}},
		{{Key: "$set", Value: set}},
	}
}

func resetPipeline(now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"available_energy": "$total_energy",
			"updated_at":       now,
		}}},
	}
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	default:
		return err
	}
}
