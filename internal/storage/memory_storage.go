package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStorage implements Storage with the same conditional-write contract
// as the sqlite implementation. It backs package tests and local development.
type MemoryStorage struct {
	mu        sync.Mutex
	raffles   map[string]Raffle
	purchases map[string]TicketPurchase
	legs      map[string]map[string]PayoutLeg
	logs      map[string][]TransactionLog
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		raffles:   make(map[string]Raffle),
		purchases: make(map[string]TicketPurchase),
		legs:      make(map[string]map[string]PayoutLeg),
		logs:      make(map[string][]TransactionLog),
	}
}

func (s *MemoryStorage) CreateRaffle(raffle *Raffle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	raffle.CreatedAt = now
	raffle.UpdatedAt = now
	s.raffles[raffle.RaffleID] = *raffle
	return nil
}

func (s *MemoryStorage) GetRaffle(raffleID string) (*Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raffle, ok := s.raffles[raffleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &raffle, nil
}

func (s *MemoryStorage) UpdateRaffle(raffle *Raffle, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateRaffleLocked(raffle, expectedVersion)
}

func (s *MemoryStorage) updateRaffleLocked(raffle *Raffle, expectedVersion int64) error {
	current, ok := s.raffles[raffle.RaffleID]
	if !ok || current.Version != expectedVersion {
		return ErrVersionConflict
	}

	next := *raffle
	next.Version = expectedVersion + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.raffles[raffle.RaffleID] = next
	raffle.Version = next.Version
	return nil
}

func (s *MemoryStorage) ListRafflesByStatus(status RaffleStatus) ([]*Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raffles []*Raffle
	for _, raffle := range s.raffles {
		if raffle.Status == status {
			copied := raffle
			raffles = append(raffles, &copied)
		}
	}
	return raffles, nil
}

func (s *MemoryStorage) AppendPurchase(purchase *TicketPurchase, raffle *Raffle, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateRaffleLocked(raffle, expectedVersion); err != nil {
		return err
	}

	purchase.CreatedAt = time.Now().UTC()
	s.purchases[purchase.PurchaseID] = *purchase
	return nil
}

func (s *MemoryStorage) GetPurchase(purchaseID string) (*TicketPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[purchaseID]
	if !ok {
		return nil, ErrNotFound
	}
	return &purchase, nil
}

func (s *MemoryStorage) ListPurchases(raffleID string) ([]*TicketPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purchases []*TicketPurchase
	for _, purchase := range s.purchases {
		if purchase.RaffleID == raffleID {
			copied := purchase
			purchases = append(purchases, &copied)
		}
	}

	// map iteration order is random; callers rely on purchase order
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].Seq < purchases[j].Seq
	})
	return purchases, nil
}

func (s *MemoryStorage) ListProvisionalPurchases(paymentType PaymentType) ([]*TicketPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purchases []*TicketPurchase
	for _, purchase := range s.purchases {
		if purchase.Provisional && purchase.PaymentType == paymentType {
			copied := purchase
			purchases = append(purchases, &copied)
		}
	}

	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].Seq < purchases[j].Seq
	})
	return purchases, nil
}

func (s *MemoryStorage) MarkPurchaseConfirmed(purchaseID string, settlementRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[purchaseID]
	if !ok {
		return ErrNotFound
	}
	purchase.Provisional = false
	if settlementRef != "" {
		purchase.SessionRef = settlementRef
	}
	s.purchases[purchaseID] = purchase
	return nil
}

func (s *MemoryStorage) MarkPurchaseRefunded(purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[purchaseID]
	if !ok {
		return ErrNotFound
	}
	purchase.Refunded = true
	s.purchases[purchaseID] = purchase
	return nil
}

func (s *MemoryStorage) UpsertPayoutLegs(legs []*PayoutLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, leg := range legs {
		byRole, ok := s.legs[leg.RaffleID]
		if !ok {
			byRole = make(map[string]PayoutLeg)
			s.legs[leg.RaffleID] = byRole
		}
		if _, exists := byRole[leg.Role]; exists {
			continue
		}
		copied := *leg
		copied.UpdatedAt = time.Now().UTC()
		byRole[leg.Role] = copied
	}
	return nil
}

func (s *MemoryStorage) ListPayoutLegs(raffleID string) ([]*PayoutLeg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var legs []*PayoutLeg
	for _, leg := range s.legs[raffleID] {
		copied := leg
		legs = append(legs, &copied)
	}

	sort.Slice(legs, func(i, j int) bool {
		return legs[i].Role < legs[j].Role
	})
	return legs, nil
}

func (s *MemoryStorage) MarkPayoutLegSent(raffleID string, role string, receiptRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRole, ok := s.legs[raffleID]
	if !ok {
		return ErrNotFound
	}
	leg, ok := byRole[role]
	if !ok {
		return ErrNotFound
	}
	leg.Status = LegStatusSent
	leg.ReceiptRef = receiptRef
	leg.UpdatedAt = time.Now().UTC()
	byRole[role] = leg
	return nil
}

func (s *MemoryStorage) AppendTransactionLog(entry *TransactionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = int64(len(s.logs[entry.RaffleID]) + 1)
	entry.CreatedAt = time.Now().UTC()
	s.logs[entry.RaffleID] = append(s.logs[entry.RaffleID], *entry)
	return nil
}

func (s *MemoryStorage) ListTransactionLogs(raffleID string) ([]*TransactionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*TransactionLog
	for _, entry := range s.logs[raffleID] {
		copied := entry
		entries = append(entries, &copied)
	}
	return entries, nil
}
