package raffle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"backend/internal/logger"
	"backend/internal/storage"
)

// Reconcile sweeps raffles left mid-settlement by a crash or a gateway
// outage and drives them forward: pending_transfer raffles with persisted
// payout legs get their remaining legs resent, cancelled raffles with
// unrefunded purchases get the refund fan-out retried. Raffles whose
// settlement has not started (no legs on record) are left for the operator
// to trigger once the property transfer is confirmed.
func (s *Service) Reconcile(ctx context.Context) error {
	pending, err := s.storage.ListRafflesByStatus(storage.RaffleStatusPendingTransfer)
	if err != nil {
		return err
	}
	for _, raffle := range pending {
		legs, err := s.storage.ListPayoutLegs(raffle.RaffleID)
		if err != nil {
			return err
		}
		if len(legs) == 0 {
			continue
		}
		if _, err := s.SettlePayout(ctx, raffle.RaffleID); err != nil {
			if errors.Is(err, ErrAlreadyPaid) {
				continue
			}
			logger.Warn("reconcile: settlement still failing",
				zap.String("raffle_id", raffle.RaffleID),
				zap.Error(err))
		} else {
			logger.Info("reconcile: settlement completed", zap.String("raffle_id", raffle.RaffleID))
		}
	}

	cancelled, err := s.storage.ListRafflesByStatus(storage.RaffleStatusCancelled)
	if err != nil {
		return err
	}
	for _, raffle := range cancelled {
		outstanding, err := s.hasUnrefunded(raffle.RaffleID)
		if err != nil {
			return err
		}
		if !outstanding {
			continue
		}
		if _, err := s.CancelRaffle(ctx, raffle.RaffleID); err != nil {
			logger.Warn("reconcile: refunds still failing",
				zap.String("raffle_id", raffle.RaffleID),
				zap.Error(err))
		} else {
			logger.Info("reconcile: refunds completed", zap.String("raffle_id", raffle.RaffleID))
		}
	}
	return nil
}

func (s *Service) hasUnrefunded(raffleID string) (bool, error) {
	purchases, err := s.storage.ListPurchases(raffleID)
	if err != nil {
		return false, err
	}
	for _, purchase := range purchases {
		if !purchase.Refunded {
			return true, nil
		}
	}
	return false, nil
}
