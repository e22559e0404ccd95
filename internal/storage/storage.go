package storage

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Storage is the ledger contract. All raffle mutations go through
// conditional writes keyed on the version previously read, so concurrent
// writers never overwrite each other's accounting.
type Storage interface {
	// raffle
	CreateRaffle(raffle *Raffle) error
	GetRaffle(raffleID string) (*Raffle, error)
	UpdateRaffle(raffle *Raffle, expectedVersion int64) error
	ListRafflesByStatus(status RaffleStatus) ([]*Raffle, error)

	// ticket purchase
	AppendPurchase(purchase *TicketPurchase, raffle *Raffle, expectedVersion int64) error
	GetPurchase(purchaseID string) (*TicketPurchase, error)
	ListPurchases(raffleID string) ([]*TicketPurchase, error)
	ListProvisionalPurchases(paymentType PaymentType) ([]*TicketPurchase, error)
	MarkPurchaseConfirmed(purchaseID string, settlementRef string) error
	MarkPurchaseRefunded(purchaseID string) error

	// payout leg
	UpsertPayoutLegs(legs []*PayoutLeg) error
	ListPayoutLegs(raffleID string) ([]*PayoutLeg, error)
	MarkPayoutLegSent(raffleID string, role string, receiptRef string) error

	// compliance log
	AppendTransactionLog(entry *TransactionLog) error
	ListTransactionLogs(raffleID string) ([]*TransactionLog, error)
}

type RaffleStatus = string

const (
	RaffleStatusActive          RaffleStatus = "active"
	RaffleStatusCompleted       RaffleStatus = "completed"
	RaffleStatusPendingTransfer RaffleStatus = "pending_transfer"
	RaffleStatusPaid            RaffleStatus = "paid"
	RaffleStatusCancelled       RaffleStatus = "cancelled"
)

type PaymentType = string

const (
	PaymentTypeFiat    PaymentType = "fiat"
	PaymentTypeOnchain PaymentType = "onchain"
)

type LegKind = string

const (
	LegKindFunds  LegKind = "funds"
	LegKindTokens LegKind = "tokens"
)

type LegStatus = string

const (
	LegStatusPending LegStatus = "pending"
	LegStatusSent    LegStatus = "sent"
)
