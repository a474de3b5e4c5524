package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapgame-backend/internal/features/transaction/models"
	"tapgame-backend/internal/features/transaction/repository/memory"
)

func newTestService() TransactionService {
	return NewTransactionService(memory.NewRepository(), time.Second, nil)
}

func TestRecord(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tx, err := svc.Record(ctx, models.CreateTransactionRequest{PlayerID: " 7 ", TransactionID: "tx-1", Amount: 1.5})
	require.NoError(t, err)
	assert.Equal(t, "7", tx.PlayerID)
	assert.False(t, tx.CreatedAt.IsZero())

	_, err = svc.Record(ctx, models.CreateTransactionRequest{PlayerID: "8", TransactionID: "tx-1", Amount: 3})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRecord_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, req := range []models.CreateTransactionRequest{
		{PlayerID: "", TransactionID: "tx"},
		{PlayerID: "7", TransactionID: " "},
		{PlayerID: "7", TransactionID: "tx", Amount: math.NaN()},
		{PlayerID: "7", TransactionID: "tx", Amount: math.Inf(1)},
	} {
		_, err := svc.Record(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestListByPlayer_NewestFirstAndLimit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Record(ctx, models.CreateTransactionRequest{PlayerID: "7", TransactionID: fmt.Sprintf("tx-%d", i), Amount: float64(i)})
		require.NoError(t, err)
	}

	txs, err := svc.ListByPlayer(ctx, "7", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-2", txs[0].TransactionID)
	assert.Equal(t, "tx-1", txs[1].TransactionID)

	txs, err = svc.ListByPlayer(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = svc.ListByPlayer(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
