package raffle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backend/internal/compliance"
	"backend/internal/gateway"
	"backend/internal/logger"
	"backend/internal/oracle"
	"backend/internal/storage"
)

// casAttempts bounds the optimistic-write retry loop for a single purchase
// request before the caller is asked to retry.
const casAttempts = 3

// RailAccounts holds the operator-side addresses for one payment rail.
type RailAccounts struct {
	Escrow   string
	Charity  string
	Platform string
}

// Service drives the raffle lifecycle: ticket sale accounting, the winner
// draw, payout settlement and refund fan-out. All money movement goes
// through the rail's Gateway with stable idempotency keys, so any two of
// these operations can be retried after a crash without double-spending.
type Service struct {
	storage    storage.Storage
	gateways   map[storage.PaymentType]gateway.Gateway
	accounts   map[storage.PaymentType]RailAccounts
	randomness oracle.RandomnessSource
	compliance *compliance.Recorder
	split      Split
}

func NewService(
	st storage.Storage,
	gateways map[storage.PaymentType]gateway.Gateway,
	accounts map[storage.PaymentType]RailAccounts,
	randomness oracle.RandomnessSource,
	recorder *compliance.Recorder,
	split Split,
) *Service {
	if split.Denominator == 0 {
		split = DefaultSplit
	}
	return &Service{
		storage:    st,
		gateways:   gateways,
		accounts:   accounts,
		randomness: randomness,
		compliance: recorder,
		split:      split,
	}
}

// CreateRaffleParams carries the immutable terms of a new raffle.
type CreateRaffleParams struct {
	PropertyID      string
	SellerAddress   string
	AssetValue      int64
	TicketPrice     int64
	MaxTickets      int64
	AllowFractional bool
	PaymentType     storage.PaymentType
}

func (s *Service) CreateRaffle(ctx context.Context, params CreateRaffleParams) (*storage.Raffle, error) {
	if params.TicketPrice <= 0 || params.MaxTickets <= 0 {
		return nil, fmt.Errorf("ticket price and cap must be positive")
	}
	if _, ok := s.gateways[params.PaymentType]; !ok {
		return nil, fmt.Errorf("%w: unknown rail %q", ErrPaymentTypeMismatch, params.PaymentType)
	}

	raffle := &storage.Raffle{
		RaffleID:        uuid.NewString(),
		PropertyID:      params.PropertyID,
		SellerAddress:   params.SellerAddress,
		AssetValue:      params.AssetValue,
		TicketPrice:     params.TicketPrice,
		MaxTickets:      params.MaxTickets,
		AllowFractional: params.AllowFractional,
		Status:          storage.RaffleStatusActive,
		PaymentType:     params.PaymentType,
	}
	if err := s.storage.CreateRaffle(raffle); err != nil {
		return nil, err
	}
	logger.Info("raffle created",
		zap.String("raffle_id", raffle.RaffleID),
		zap.String("property_id", raffle.PropertyID),
		zap.Int64("max_tickets", raffle.MaxTickets))
	return raffle, nil
}

func (s *Service) GetRaffle(raffleID string) (*storage.Raffle, error) {
	raffle, err := s.storage.GetRaffle(raffleID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRaffleNotFound
	}
	return raffle, err
}

func (s *Service) ListRafflesByStatus(status storage.RaffleStatus) ([]*storage.Raffle, error) {
	return s.storage.ListRafflesByStatus(status)
}

func (s *Service) ListPurchases(raffleID string) ([]*storage.TicketPurchase, error) {
	return s.storage.ListPurchases(raffleID)
}

// PurchaseTicketParams identifies the buyer and the size of the purchase.
type PurchaseTicketParams struct {
	RaffleID     string
	UserID       string
	PayerAddress string
	TicketCount  int64
	PaymentType  storage.PaymentType
}

// PurchaseResult reports the recorded purchase. RedirectURL is set on the
// fiat rail: the purchase stays provisional until the checkout webhook
// confirms it.
type PurchaseResult struct {
	Purchase    *storage.TicketPurchase
	Raffle      *storage.Raffle
	RedirectURL string
}

// PurchaseTicket reserves count tickets on an active raffle. The raffle
// counters move under a version check, so two buyers racing for the last
// tickets can never oversell; the loser of the race re-reads and retries up
// to casAttempts times. When the purchase fills the cap the raffle flips to
// completed in the same write.
func (s *Service) PurchaseTicket(ctx context.Context, params PurchaseTicketParams) (*PurchaseResult, error) {
	if params.TicketCount <= 0 {
		return nil, ErrInvalidTicketCount
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		raffle, err := s.GetRaffle(params.RaffleID)
		if err != nil {
			return nil, err
		}
		if raffle.Status != storage.RaffleStatusActive {
			return nil, ErrRaffleNotActive
		}
		if params.PaymentType != raffle.PaymentType {
			return nil, ErrPaymentTypeMismatch
		}
		remaining := raffle.MaxTickets - raffle.TicketsSold
		if params.TicketCount > remaining {
			return nil, fmt.Errorf("%w: %d requested, %d left", ErrSoldOut, params.TicketCount, remaining)
		}

		amount := params.TicketCount * raffle.TicketPrice
		rail := s.gateways[raffle.PaymentType]

		purchaseID := uuid.NewString()
		authorization, err := rail.AuthorizePurchase(ctx, params.PayerAddress, amount, purchaseID)
		if err != nil {
			if errors.Is(err, gateway.ErrInsufficientBalance) {
				return nil, ErrInsufficientFunds
			}
			return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
		}

		purchase := &storage.TicketPurchase{
			PurchaseID:   purchaseID,
			RaffleID:     raffle.RaffleID,
			Seq:          raffle.TicketsSold,
			UserID:       params.UserID,
			PayerAddress: params.PayerAddress,
			TicketCount:  params.TicketCount,
			Amount:       amount,
			PaymentType:  raffle.PaymentType,
			SessionRef:   authorization.Reference,
			Provisional:  authorization.Provisional,
		}

		expected := raffle.Version
		raffle.TicketsSold += params.TicketCount
		raffle.FundsRaised += amount
		if raffle.TicketsSold == raffle.MaxTickets {
			raffle.Status = storage.RaffleStatusCompleted
		}

		err = s.storage.AppendPurchase(purchase, raffle, expected)
		if errors.Is(err, storage.ErrVersionConflict) {
			logger.Debug("purchase lost version race, retrying",
				zap.String("raffle_id", raffle.RaffleID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		s.compliance.Record(raffle.RaffleID, compliance.EventPurchase, "", params.UserID, amount, authorization.Reference)
		logger.Info("ticket purchase recorded",
			zap.String("raffle_id", raffle.RaffleID),
			zap.String("purchase_id", purchase.PurchaseID),
			zap.Int64("tickets", params.TicketCount),
			zap.Int64("sold", raffle.TicketsSold),
			zap.Bool("provisional", purchase.Provisional))
		return &PurchaseResult{
			Purchase:    purchase,
			Raffle:      raffle,
			RedirectURL: authorization.RedirectURL,
		}, nil
	}
	return nil, ErrContention
}

// ConfirmPurchase marks a provisional fiat purchase as settled once the
// checkout webhook lands. Confirming twice is a no-op.
func (s *Service) ConfirmPurchase(ctx context.Context, purchaseID string, settlementRef string) error {
	purchase, err := s.storage.GetPurchase(purchaseID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrPurchaseNotFound
	}
	if err != nil {
		return err
	}
	if purchase.Refunded {
		// The raffle was cancelled while this payment was in flight. The
		// refund fan-out already voided the purchase, so send the money
		// straight back instead of confirming it into a dead raffle.
		rail, ok := s.gateways[purchase.PaymentType]
		if !ok {
			return ErrPaymentTypeMismatch
		}
		reference := settlementRef
		if reference == "" {
			reference = refundReference(purchase)
		}
		receipt, err := rail.Refund(ctx, reference, purchase.Amount, "refund:"+purchase.PurchaseID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
		}
		s.compliance.Record(purchase.RaffleID, compliance.EventRefund, "", purchase.UserID, purchase.Amount, receipt.Reference)
		logger.Warn("late payment for voided purchase sent back",
			zap.String("purchase_id", purchaseID),
			zap.String("settlement_ref", settlementRef))
		return nil
	}
	if !purchase.Provisional {
		logger.Debug("purchase already confirmed", zap.String("purchase_id", purchaseID))
		return nil
	}
	if err := s.storage.MarkPurchaseConfirmed(purchaseID, settlementRef); err != nil {
		return err
	}
	logger.Info("purchase confirmed",
		zap.String("purchase_id", purchaseID),
		zap.String("settlement_ref", settlementRef))
	return nil
}

// DrawWinner selects the winning ticket for a completed raffle. Every sold
// ticket carries equal weight: a random index in [0, ticketsSold) maps into
// the purchase whose cumulative range covers it. The result is written under
// a version check, so a concurrent draw observes AlreadyDrawn instead of
// overwriting.
func (s *Service) DrawWinner(ctx context.Context, raffleID string) (*storage.Raffle, error) {
	raffle, err := s.GetRaffle(raffleID)
	if err != nil {
		return nil, err
	}
	if raffle.WinnerID != "" {
		return nil, ErrAlreadyDrawn
	}
	if raffle.Status != storage.RaffleStatusCompleted {
		return nil, ErrRaffleNotCompleted
	}
	if raffle.TicketsSold == 0 {
		return nil, ErrNoParticipants
	}

	index, err := s.randomness.Draw(ctx, raffle.TicketsSold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}

	purchases, err := s.storage.ListPurchases(raffleID)
	if err != nil {
		return nil, err
	}
	winner, err := ticketHolderAt(purchases, index)
	if err != nil {
		return nil, err
	}

	expected := raffle.Version
	raffle.WinnerID = winner
	raffle.Status = storage.RaffleStatusPendingTransfer
	if err := s.storage.UpdateRaffle(raffle, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, ErrAlreadyDrawn
		}
		return nil, err
	}

	logger.Info("winner drawn",
		zap.String("raffle_id", raffleID),
		zap.String("winner_id", winner),
		zap.Int64("ticket_index", index))
	return raffle, nil
}

// ticketHolderAt maps a ticket index into the purchase log: purchases are
// ordered by seq and each one covers [seq, seq+count).
func ticketHolderAt(purchases []*storage.TicketPurchase, index int64) (string, error) {
	cursor := int64(0)
	for _, purchase := range purchases {
		if purchase.Refunded {
			continue
		}
		if index < cursor+purchase.TicketCount {
			return purchase.UserID, nil
		}
		cursor += purchase.TicketCount
	}
	return "", fmt.Errorf("ticket index %d outside sold range %d", index, cursor)
}

// CloseEarly ends ticket sales before the cap is reached and routes the
// raffle to fractional settlement. Only raffles approved for fractional
// ownership can close this way; anything else has to be cancelled.
func (s *Service) CloseEarly(ctx context.Context, raffleID string) (*storage.Raffle, error) {
	raffle, err := s.GetRaffle(raffleID)
	if err != nil {
		return nil, err
	}
	if raffle.Status != storage.RaffleStatusActive {
		return nil, ErrRaffleNotActive
	}
	if !raffle.AllowFractional {
		return nil, ErrFractionalNotAllowed
	}
	if raffle.TicketsSold == 0 {
		return nil, ErrNoParticipants
	}

	expected := raffle.Version
	raffle.Status = storage.RaffleStatusPendingTransfer
	raffle.EarlyClosed = true
	if err := s.storage.UpdateRaffle(raffle, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// a purchase slipped in; caller re-reads and decides again
			return nil, ErrContention
		}
		return nil, err
	}

	logger.Info("raffle closed early for fractional settlement",
		zap.String("raffle_id", raffleID),
		zap.Int64("tickets_sold", raffle.TicketsSold),
		zap.Int64("funds_raised", raffle.FundsRaised))
	return raffle, nil
}

// SettlePayout pays out a raffle in pending_transfer once the property
// transfer is confirmed off-system. Legs are computed once and persisted
// before any money moves; each run walks the pending legs in order and a
// leg that fails stops the run without undoing the ones already sent.
// Re-running resumes from the first pending leg.
func (s *Service) SettlePayout(ctx context.Context, raffleID string) (*storage.Raffle, error) {
	raffle, err := s.GetRaffle(raffleID)
	if err != nil {
		return nil, err
	}
	if raffle.Status == storage.RaffleStatusPaid {
		return nil, ErrAlreadyPaid
	}
	if raffle.Status != storage.RaffleStatusPendingTransfer {
		return nil, ErrRaffleNotReady
	}

	accounts := s.accounts[raffle.PaymentType]
	if err := s.ensureLegs(raffle, accounts); err != nil {
		return nil, err
	}

	legs, err := s.storage.ListPayoutLegs(raffleID)
	if err != nil {
		return nil, err
	}

	rail := s.gateways[raffle.PaymentType]
	charityDelta := int64(0)
	for _, leg := range legs {
		if leg.Status == storage.LegStatusSent {
			continue
		}
		receiptRef, err := s.sendLeg(ctx, rail, accounts, leg)
		if err != nil {
			s.applyCharityDelta(raffle, charityDelta)
			return nil, &TransferFailedError{Role: leg.Role, Err: err}
		}
		if err := s.storage.MarkPayoutLegSent(raffle.RaffleID, leg.Role, receiptRef); err != nil {
			s.applyCharityDelta(raffle, charityDelta)
			return nil, err
		}
		if leg.Role == RoleCharity {
			charityDelta += leg.Amount
		}
		event := compliance.EventPayout
		if leg.Kind == storage.LegKindTokens {
			event = compliance.EventTokens
		}
		s.compliance.Record(raffle.RaffleID, event, leg.Role, leg.Recipient, leg.Amount, receiptRef)
	}

	expected := raffle.Version
	raffle.Status = storage.RaffleStatusPaid
	raffle.CharityTransferred += charityDelta
	if err := s.storage.UpdateRaffle(raffle, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, ErrAlreadyPaid
		}
		return nil, err
	}

	logger.Info("raffle settled",
		zap.String("raffle_id", raffleID),
		zap.Int("legs", len(legs)),
		zap.Bool("fractional", raffle.EarlyClosed))
	return raffle, nil
}

// ensureLegs persists the payout plan if this is the first settlement
// attempt. The upsert ignores legs already on record, so a retry never
// recomputes amounts mid-flight.
func (s *Service) ensureLegs(raffle *storage.Raffle, accounts RailAccounts) error {
	var (
		legs []*storage.PayoutLeg
		err  error
	)
	if raffle.EarlyClosed {
		purchases, listErr := s.storage.ListPurchases(raffle.RaffleID)
		if listErr != nil {
			return listErr
		}
		legs, err = buildFractionalLegs(raffle, purchases, accounts, s.split)
		if err != nil {
			return err
		}
	} else {
		legs = buildFullSaleLegs(raffle, accounts, s.split)
	}
	return s.storage.UpsertPayoutLegs(legs)
}

// sendLeg moves one payout leg over the rail. Token legs represent ledger
// entries minted by this system, not gateway money movement, so they are
// recorded as sent with a synthetic receipt.
func (s *Service) sendLeg(ctx context.Context, rail gateway.Gateway, accounts RailAccounts, leg *storage.PayoutLeg) (string, error) {
	if leg.Kind == storage.LegKindTokens {
		return "tokens:" + leg.IdempotencyKey, nil
	}
	if leg.Amount == 0 {
		return "zero:" + leg.IdempotencyKey, nil
	}
	receipt, err := rail.Transfer(ctx, accounts.Escrow, leg.Recipient, leg.Amount, leg.IdempotencyKey)
	if err != nil {
		return "", err
	}
	return receipt.Reference, nil
}

// applyCharityDelta records charity amounts sent during a settlement run
// that failed partway, so the accumulator survives the retry.
func (s *Service) applyCharityDelta(raffle *storage.Raffle, delta int64) {
	if delta == 0 {
		return
	}
	expected := raffle.Version
	raffle.CharityTransferred += delta
	if err := s.storage.UpdateRaffle(raffle, expected); err != nil {
		logger.Warn("could not record partial charity transfer",
			zap.String("raffle_id", raffle.RaffleID),
			zap.Error(err))
	}
}

// CancelRaffle flips the raffle to cancelled, zeroes its sale accounting
// and refunds every purchase. The status write comes first so an
// interrupted fan-out is visible to the reconciler; purchases already
// refunded are skipped, so repeating the call retries only the failures.
func (s *Service) CancelRaffle(ctx context.Context, raffleID string) (*storage.Raffle, error) {
	raffle, err := s.GetRaffle(raffleID)
	if err != nil {
		return nil, err
	}
	// Only an active sale can be cancelled; re-invoking on a cancelled
	// raffle resumes an interrupted fan-out. Once the draw happened the
	// raised funds are committed to the payout, so refunding on top of
	// settlement legs would pay the pot out twice.
	switch raffle.Status {
	case storage.RaffleStatusActive, storage.RaffleStatusCancelled:
	case storage.RaffleStatusPaid:
		return nil, ErrAlreadyPaid
	default:
		return nil, ErrRaffleNotActive
	}

	if raffle.Status != storage.RaffleStatusCancelled {
		expected := raffle.Version
		raffle.Status = storage.RaffleStatusCancelled
		raffle.TicketsSold = 0
		raffle.FundsRaised = 0
		if err := s.storage.UpdateRaffle(raffle, expected); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				return nil, ErrContention
			}
			return nil, err
		}
	}

	purchases, err := s.storage.ListPurchases(raffleID)
	if err != nil {
		return nil, err
	}

	rail := s.gateways[raffle.PaymentType]
	var failures RefundErrors
	for _, purchase := range purchases {
		if purchase.Refunded {
			continue
		}
		if purchase.Provisional {
			// nothing was captured yet; void the reservation without
			// moving money
			if err := s.storage.MarkPurchaseRefunded(purchase.PurchaseID); err != nil {
				failures = append(failures, RefundFailure{PurchaseID: purchase.PurchaseID, Err: err})
			}
			continue
		}
		reference := refundReference(purchase)
		receipt, err := rail.Refund(ctx, reference, purchase.Amount, "refund:"+purchase.PurchaseID)
		if err != nil {
			logger.Warn("refund failed",
				zap.String("purchase_id", purchase.PurchaseID),
				zap.Error(err))
			failures = append(failures, RefundFailure{PurchaseID: purchase.PurchaseID, Err: err})
			continue
		}
		if err := s.storage.MarkPurchaseRefunded(purchase.PurchaseID); err != nil {
			failures = append(failures, RefundFailure{PurchaseID: purchase.PurchaseID, Err: err})
			continue
		}
		s.compliance.Record(raffleID, compliance.EventRefund, "", purchase.UserID, purchase.Amount, receipt.Reference)
	}

	if len(failures) > 0 {
		return raffle, failures
	}

	logger.Info("raffle cancelled, all purchases refunded",
		zap.String("raffle_id", raffleID),
		zap.Int("purchases", len(purchases)))
	return raffle, nil
}

// refundReference picks what the rail needs to reverse a purchase: the fiat
// rail refunds against the payment reference, the on-chain rail sends funds
// back to the payer address.
func refundReference(purchase *storage.TicketPurchase) string {
	if purchase.PaymentType == storage.PaymentTypeFiat {
		return purchase.SessionRef
	}
	return purchase.PayerAddress
}
