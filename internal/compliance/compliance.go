package compliance

import (
	"backend/internal/logger"
	"backend/internal/storage"

	"go.uber.org/zap"
)

const (
	EventPurchase = "purchase"
	EventPayout   = "payout"
	EventRefund   = "refund"
	EventTokens   = "tokens"
)

// Recorder keeps the append-only money-movement trail. It is a derived
// record: an append failure is logged and never fails the lifecycle
// operation that produced it.
type Recorder struct {
	storage storage.Storage
}

func NewRecorder(st storage.Storage) *Recorder {
	return &Recorder{storage: st}
}

func (r *Recorder) Record(raffleID string, event string, role string, recipient string, amount int64, receiptRef string) {
	logger.Info(
		"compliance event",
		zap.String("raffle", raffleID),
		zap.String("event", event),
		zap.String("role", role),
		zap.String("recipient", recipient),
		zap.Int64("amount", amount),
		zap.String("receipt", receiptRef),
	)

	err := r.storage.AppendTransactionLog(&storage.TransactionLog{
		RaffleID:   raffleID,
		Event:      event,
		Role:       role,
		Recipient:  recipient,
		Amount:     amount,
		ReceiptRef: receiptRef,
	})
	if err != nil {
		logger.Error("compliance append failed", zap.String("raffle", raffleID), zap.Error(err))
	}
}

func (r *Recorder) List(raffleID string) ([]*storage.TransactionLog, error) {
	return r.storage.ListTransactionLogs(raffleID)
}
