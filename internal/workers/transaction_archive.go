package workers

import (
	"context"
	"errors"
	"os"
	"time"

	go_redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tapgame-backend/internal/common/logger"
	"tapgame-backend/internal/features/transaction/repository"
	txredis "tapgame-backend/internal/features/transaction/repository/redis"
)

const (
	archiveGroup     = "ledger-archive"
	archiveBatchSize = 100
	archiveBlock     = 5 * time.Second
	archiveRetry     = time.Second
)

// TransactionArchiveWorker copies the Redis transaction stream into a durable
// transaction repository. Appends are idempotent by transaction id, so an
// entry delivered twice is stored once.
type TransactionArchiveWorker struct {
	rdb      *go_redis.Client
	archive  repository.TransactionRepository
	consumer string
	log      zerolog.Logger

	block      time.Duration
	retryDelay time.Duration
	done       chan struct{}
}

func NewTransactionArchiveWorker(rdb *go_redis.Client, archive repository.TransactionRepository) *TransactionArchiveWorker {
	consumer, err := os.Hostname()
	if err != nil || consumer == "" {
		consumer = "archive-worker"
	}
	return &TransactionArchiveWorker{
		rdb:        rdb,
		archive:    archive,
		consumer:   consumer,
		log:        logger.With("transaction-archive-worker"),
		block:      archiveBlock,
		retryDelay: archiveRetry,
		done:       make(chan struct{}),
	}
}

// Start consumes the stream until ctx is cancelled. Entries left pending, by a
// previous run or by a failed archive write, are replayed before new ones are
// read.
func (w *TransactionArchiveWorker) Start(ctx context.Context) {
	defer close(w.done)

	err := w.rdb.XGroupCreateMkStream(ctx, txredis.StreamKey, archiveGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		w.log.Error().Err(err).Msg("Error creating consumer group")
	}

	w.log.Info().Str("consumer", w.consumer).Msg("Starting transaction archive worker")

	pending := true
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping transaction archive worker")
			return
		default:
		}

		id := ">"
		if pending {
			id = "0"
		}
		entries, err := w.rdb.XReadGroup(ctx, &go_redis.XReadGroupArgs{
			Group:    archiveGroup,
			Consumer: w.consumer,
			Streams:  []string{txredis.StreamKey, id},
			Count:    archiveBatchSize,
			Block:    w.block,
		}).Result()
		if err != nil {
			if errors.Is(err, go_redis.Nil) {
				pending = false
			} else if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Error reading from stream")
				w.sleep(ctx)
			}
			continue
		}

		processed, failed := 0, 0
		for _, stream := range entries {
			for _, msg := range stream.Messages {
				processed++
				if w.processMessage(ctx, msg) {
					w.rdb.XAck(ctx, txredis.StreamKey, archiveGroup, msg.ID)
				} else {
					failed++
				}
			}
		}

		switch {
		case failed > 0:
			pending = true
			w.sleep(ctx)
		case pending:
			pending = processed == archiveBatchSize
		}
	}
}

// Done is closed once Start has returned.
func (w *TransactionArchiveWorker) Done() <-chan struct{} {
	return w.done
}

func (w *TransactionArchiveWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.retryDelay):
	}
}

// processMessage reports whether the entry may be acknowledged.
func (w *TransactionArchiveWorker) processMessage(ctx context.Context, msg go_redis.XMessage) bool {
	tx, err := txredis.FromStreamValues(msg.Values)
	if err != nil {
		w.log.Warn().Err(err).Str("entry_id", msg.ID).Msg("Dropping malformed stream entry")
		return true
	}

	err = w.archive.Append(ctx, tx)
	switch {
	case err == nil, errors.Is(err, repository.ErrDuplicate):
		return true
	default:
		w.log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to archive transaction")
		return false
	}
}
