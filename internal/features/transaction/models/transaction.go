package models

import "time"

// Transaction is an append-only audit record of an external payment.
// @Description Transaction log entry
type Transaction struct {
	TransactionID string    `json:"transaction_id" bson:"_id" example:"b5f1c0de-7d1a-4c55-9a54-2f0c9e1f0a11"`
	PlayerID      string    `json:"player_id" bson:"player_id" example:"123456789"`
	Amount        float64   `json:"amount" bson:"amount" example:"1.5"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// CreateTransactionRequest is the body of POST /transactions.
type CreateTransactionRequest struct {
	PlayerID      string  `json:"player_id" binding:"required"`
	TransactionID string  `json:"transaction_id" binding:"required"`
	Amount        float64 `json:"amount"`
}
