package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tapgame-backend/internal/features/transaction/models"
	"tapgame-backend/internal/features/transaction/repository"
)

const (
	// StreamKey receives every appended transaction for downstream consumers.
	StreamKey    = "ledger:transactions"
	streamMaxLen = 100_000
)

func txKey(id string) string             { return "ledger:tx:" + id }
func playerTxKey(playerID string) string { return "ledger:tx:player:" + playerID }

type transactionRepository struct {
	client *redis.Client
}

func NewTransactionRepository(client *redis.Client) repository.TransactionRepository {
	return &transactionRepository{client: client}
}

// KEYS[1] dedupe key, KEYS[2] player list, KEYS[3] stream.
// ARGV[1] payload, ARGV[2] stream max length, ARGV[3..] stream field/value pairs.
var appendScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') == false then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('XADD', KEYS[3], 'MAXLEN', '~', ARGV[2], '*', unpack(ARGV, 3))
return 1
`)

// Append records tx in the dedupe key, the player list and the stream in one
// script call, so a failed call leaves none of them behind.
func (r *transactionRepository) Append(ctx context.Context, tx *models.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	values := StreamValues(tx)
	args := []interface{}{string(payload), streamMaxLen}
	for _, field := range streamFields {
		args = append(args, field, values[field])
	}
	n, err := appendScript.Run(ctx, r.client,
		[]string{txKey(tx.TransactionID), playerTxKey(tx.PlayerID), StreamKey},
		args...,
	).Int64()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

func (r *transactionRepository) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*models.Transaction, error) {
	raw, err := r.client.LRange(ctx, playerTxKey(playerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, mapError(err)
	}
	txs := make([]*models.Transaction, 0, len(raw))
	for _, item := range raw {
		var tx models.Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			continue
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}

var streamFields = []string{"transaction_id", "player_id", "amount", "created_at"}

// StreamValues is the stream entry layout of a transaction.
func StreamValues(tx *models.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": tx.TransactionID,
		"player_id":      tx.PlayerID,
		"amount":         strconv.FormatFloat(tx.Amount, 'f', -1, 64),
		"created_at":     tx.CreatedAt.UnixMilli(),
	}
}

// FromStreamValues decodes an entry written by StreamValues.
func FromStreamValues(values map[string]interface{}) (*models.Transaction, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	tx := &models.Transaction{
		TransactionID: str("transaction_id"),
		PlayerID:      str("player_id"),
	}
	if tx.TransactionID == "" || tx.PlayerID == "" {
		return nil, fmt.Errorf("stream entry without ids: %v", values)
	}
	amount, err := strconv.ParseFloat(str("amount"), 64)
	if err != nil {
		return nil, fmt.Errorf("stream entry amount: %w", err)
	}
	ms, err := strconv.ParseInt(str("created_at"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stream entry created_at: %w", err)
	}
	tx.Amount = amount
	tx.CreatedAt = time.UnixMilli(ms).UTC()
	return tx, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) && !errors.Is(err, redis.Nil) {
		return err
	}
	return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
}
