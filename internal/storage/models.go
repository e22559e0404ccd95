package storage

import "time"

type Raffle struct {
	RaffleID           string       `gorm:"primaryKey"`
	PropertyID         string       `gorm:"not null"`
	SellerAddress      string       `gorm:"not null"`
	AssetValue         int64        `gorm:"not null"`
	TicketPrice        int64        `gorm:"not null"`
	MaxTickets         int64        `gorm:"not null"`
	TicketsSold        int64        `gorm:"default:0"`
	FundsRaised        int64        `gorm:"default:0"`
	AllowFractional    bool         `gorm:"default:false"`
	EarlyClosed        bool         `gorm:"default:false"`
	Status             RaffleStatus `gorm:"default:active"`
	WinnerID           string       `gorm:"default:''"`
	CharityTransferred int64        `gorm:"default:0"`
	PaymentType        PaymentType  `gorm:"not null"`
	Version            int64        `gorm:"default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type TicketPurchase struct {
	PurchaseID   string      `gorm:"primaryKey"`
	RaffleID     string      `gorm:"index;not null"`
	Seq          int64       `gorm:"not null"`
	UserID       string      `gorm:"not null"`
	PayerAddress string      `gorm:"not null"`
	TicketCount  int64       `gorm:"not null"`
	Amount       int64       `gorm:"not null"`
	PaymentType  PaymentType `gorm:"not null"`
	SessionRef   string      `gorm:"default:''"`
	Provisional  bool        `gorm:"default:false"`
	Refunded     bool        `gorm:"default:false"`
	CreatedAt    time.Time
}

type PayoutLeg struct {
	RaffleID       string    `gorm:"primaryKey"`
	Role           string    `gorm:"primaryKey"`
	Kind           LegKind   `gorm:"not null"`
	Recipient      string    `gorm:"not null"`
	Amount         int64     `gorm:"not null"`
	IdempotencyKey string    `gorm:"not null"`
	Status         LegStatus `gorm:"default:pending"`
	ReceiptRef     string    `gorm:"default:''"`
	UpdatedAt      time.Time
}

type TransactionLog struct {
	ID         int64  `gorm:"primaryKey"`
	RaffleID   string `gorm:"index;not null"`
	Event      string `gorm:"not null"`
	Role       string `gorm:"default:''"`
	Recipient  string `gorm:"default:''"`
	Amount     int64  `gorm:"not null"`
	ReceiptRef string `gorm:"default:''"`
	CreatedAt  time.Time
}
