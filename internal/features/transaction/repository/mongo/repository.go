package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tapgame-backend/internal/features/transaction/models"
	"tapgame-backend/internal/features/transaction/repository"
)

const CollectionName = "transactions"

type transactionRepository struct {
	coll *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) repository.TransactionRepository {
	return &transactionRepository{coll: db.Collection(CollectionName)}
}

func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(CollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "player_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return mapError(err)
}

func (r *transactionRepository) Append(ctx context.Context, tx *models.Transaction) error {
	_, err := r.coll.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	return mapError(err)
}

func (r *transactionRepository) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*models.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, bson.M{"player_id": playerID}, opts)
	if err != nil {
		return nil, mapError(err)
	}
	defer cur.Close(ctx)

	txs := make([]*models.Transaction, 0, limit)
	if err := cur.All(ctx, &txs); err != nil {
		return nil, mapError(err)
	}
	return txs, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	default:
		return err
	}
}
