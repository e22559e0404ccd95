package storage

import (
	"backend/internal/logger"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) *SqliteStorage {

	logger.Debug("initializing database...")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		panic(err)
	}

	err = db.AutoMigrate(
		&Raffle{},
		&TicketPurchase{},
		&PayoutLeg{},
		&TransactionLog{},
	)

	if err != nil {
		panic(err)
	}

	return &SqliteStorage{
		db: db,
	}
}

func (s *SqliteStorage) CreateRaffle(raffle *Raffle) error {
	logger.Debug("creating raffle record...")

	err := s.db.Create(raffle).Error
	if err != nil {
		return err
	}

	logger.Debug("creating raffle record... done")
	return nil
}

func (s *SqliteStorage) GetRaffle(raffleID string) (*Raffle, error) {

	var raffle Raffle
	err := s.db.Where("raffle_id = ?", raffleID).First(&raffle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &raffle, nil
}

// raffleUpdateColumns lists every mutable raffle column. Conditional writes
// replace the whole mutable state so the row always reflects one consistent
// read-modify-write cycle.
func raffleUpdateColumns(raffle *Raffle, expectedVersion int64) map[string]interface{} {
	return map[string]interface{}{
		"tickets_sold":        raffle.TicketsSold,
		"funds_raised":        raffle.FundsRaised,
		"status":              raffle.Status,
		"winner_id":           raffle.WinnerID,
		"early_closed":        raffle.EarlyClosed,
		"charity_transferred": raffle.CharityTransferred,
		"version":             expectedVersion + 1,
		"updated_at":          time.Now().UTC(),
	}
}

func (s *SqliteStorage) UpdateRaffle(raffle *Raffle, expectedVersion int64) error {
	logger.Debug("conditional raffle update...")

	tx := s.db.Model(&Raffle{}).
		Where("raffle_id = ? and version = ?", raffle.RaffleID, expectedVersion).
		Updates(raffleUpdateColumns(raffle, expectedVersion))
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrVersionConflict
	}

	raffle.Version = expectedVersion + 1

	logger.Debug("conditional raffle update... done")
	return nil
}

func (s *SqliteStorage) ListRafflesByStatus(status RaffleStatus) ([]*Raffle, error) {

	var raffles []*Raffle
	err := s.db.Where("status = ?", status).Order("created_at").Find(&raffles).Error
	if err != nil {
		return nil, err
	}

	return raffles, nil
}

func (s *SqliteStorage) AppendPurchase(purchase *TicketPurchase, raffle *Raffle, expectedVersion int64) error {
	logger.Debug("appending ticket purchase...")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Raffle{}).
			Where("raffle_id = ? and version = ?", raffle.RaffleID, expectedVersion).
			Updates(raffleUpdateColumns(raffle, expectedVersion))
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		return tx.Create(purchase).Error
	})

	if err != nil {
		return err
	}

	raffle.Version = expectedVersion + 1

	logger.Debug("appending ticket purchase... done")
	return nil
}

func (s *SqliteStorage) GetPurchase(purchaseID string) (*TicketPurchase, error) {

	var purchase TicketPurchase
	err := s.db.Where("purchase_id = ?", purchaseID).First(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &purchase, nil
}

func (s *SqliteStorage) ListPurchases(raffleID string) ([]*TicketPurchase, error) {

	var purchases []*TicketPurchase
	err := s.db.Where("raffle_id = ?", raffleID).Order("seq").Find(&purchases).Error
	if err != nil {
		return nil, err
	}

	return purchases, nil
}

func (s *SqliteStorage) ListProvisionalPurchases(paymentType PaymentType) ([]*TicketPurchase, error) {

	var purchases []*TicketPurchase
	err := s.db.Where("provisional = ? and payment_type = ?", true, paymentType).Order("created_at").Find(&purchases).Error
	if err != nil {
		return nil, err
	}

	return purchases, nil
}

func (s *SqliteStorage) MarkPurchaseConfirmed(purchaseID string, settlementRef string) error {
	logger.Debug("marking purchase confirmed...")

	columns := map[string]interface{}{"provisional": false}
	if settlementRef != "" {
		columns["session_ref"] = settlementRef
	}

	tx := s.db.Model(&TicketPurchase{}).
		Where("purchase_id = ?", purchaseID).
		Updates(columns)
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrNotFound
	}

	logger.Debug("marking purchase confirmed... done")
	return nil
}

func (s *SqliteStorage) MarkPurchaseRefunded(purchaseID string) error {
	logger.Debug("marking purchase refunded...")

	tx := s.db.Model(&TicketPurchase{}).
		Where("purchase_id = ?", purchaseID).
		Update("refunded", true)
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrNotFound
	}

	logger.Debug("marking purchase refunded... done")
	return nil
}

func (s *SqliteStorage) UpsertPayoutLegs(legs []*PayoutLeg) error {
	logger.Debug("upserting payout legs...")

	if len(legs) == 0 {
		logger.Debug("no payout legs to persist")
		return nil
	}

	// Existing rows keep their sent status: a settlement retry must never
	// reset a leg that already moved money.
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "raffle_id"}, {Name: "role"}},
		DoNothing: true,
	}).CreateInBatches(legs, 100).Error

	if err != nil {
		return err
	}

	logger.Debug("upserting payout legs... done")
	return nil
}

func (s *SqliteStorage) ListPayoutLegs(raffleID string) ([]*PayoutLeg, error) {

	var legs []*PayoutLeg
	err := s.db.Where("raffle_id = ?", raffleID).Order("role").Find(&legs).Error
	if err != nil {
		return nil, err
	}

	return legs, nil
}

func (s *SqliteStorage) MarkPayoutLegSent(raffleID string, role string, receiptRef string) error {
	logger.Debug("marking payout leg sent...")

	tx := s.db.Model(&PayoutLeg{}).
		Where("raffle_id = ? and role = ?", raffleID, role).
		Updates(map[string]interface{}{
			"status":      LegStatusSent,
			"receipt_ref": receiptRef,
			"updated_at":  time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrNotFound
	}

	logger.Debug("marking payout leg sent... done")
	return nil
}

func (s *SqliteStorage) AppendTransactionLog(entry *TransactionLog) error {
	return s.db.Create(entry).Error
}

func (s *SqliteStorage) ListTransactionLogs(raffleID string) ([]*TransactionLog, error) {

	var entries []*TransactionLog
	err := s.db.Where("raffle_id = ?", raffleID).Order("id").Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}
