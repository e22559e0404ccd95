package tracker

import (
	"context"

	"github.com/tonkeeper/tonapi-go"
	"go.uber.org/zap"

	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/raffle"
	"backend/internal/storage"
)

const traceWindowSize = 50

// Tracker watches the escrow account for incoming deposits and confirms the
// provisional on-chain purchases they settle. Confirmation is idempotent, so
// rescanning a window after a restart is harmless.
type Tracker struct {
	ctx           context.Context
	storage       storage.Storage
	service       *raffle.Service
	client        *tonapi.Client
	escrowAddress string
	lastSeenLt    int64
}

func NewTracker(ctx context.Context, configuration config.Config, st storage.Storage, service *raffle.Service) *Tracker {
	logger.Debug("tracker initialization: tonapi client...")
	client, err := tonapi.NewClient(tonapi.TonApiURL, tonapi.WithToken(configuration.TonAPIToken))
	if err != nil {
		panic(err)
	}

	logger.Debug("tracker initialization... done", zap.String("escrow", configuration.EscrowAddress))
	return &Tracker{
		ctx:           ctx,
		storage:       st,
		service:       service,
		client:        client,
		escrowAddress: configuration.EscrowAddress,
	}
}

// Run performs one tracking pass: collect fresh escrow deposits, then match
// them against the provisional purchase backlog.
func (t *Tracker) Run() error {
	pending, err := t.storage.ListProvisionalPurchases(storage.PaymentTypeOnchain)
	if err != nil {
		logger.Error("tracker: cannot load provisional purchases", zap.Error(err))
		return err
	}
	if len(pending) == 0 {
		logger.Debug("tracker: no provisional purchases, skipping pass")
		return nil
	}

	deposits, err := t.collectEscrowDeposits()
	if err != nil {
		logger.Error("tracker: deposit collection failed", zap.Error(err))
		return err
	}

	confirmed := matchDeposits(pending, deposits)
	for purchaseID, transactionHash := range confirmed {
		if err := t.service.ConfirmPurchase(t.ctx, purchaseID, transactionHash); err != nil {
			logger.Error("tracker: cannot confirm purchase",
				zap.String("purchase_id", purchaseID),
				zap.Error(err))
			return err
		}
		logger.Info("tracker: purchase settled by escrow deposit",
			zap.String("purchase_id", purchaseID),
			zap.String("transaction", transactionHash))
	}
	return nil
}

func (t *Tracker) Finalize() {
	logger.Info("tracker stopped")
}

// deposit is one incoming transfer observed on the escrow account.
type deposit struct {
	sender          string
	amount          int64
	transactionLt   int64
	transactionHash string
}

// matchDeposits pairs provisional purchases with escrow deposits by payer
// and amount. Exact-amount pairs are resolved first so a large deposit is
// not consumed by a smaller purchase from the same payer; the second pass
// accepts overpayment. Purchases are walked in sale order and each deposit
// settles at most one purchase, so two identical purchases from the same
// payer need two deposits.
func matchDeposits(pending []*storage.TicketPurchase, deposits []deposit) map[string]string {
	confirmed := make(map[string]string)
	used := make([]bool, len(deposits))

	for _, exact := range []bool{true, false} {
		for _, purchase := range pending {
			if _, ok := confirmed[purchase.PurchaseID]; ok {
				continue
			}
			for i, d := range deposits {
				if used[i] || d.sender != purchase.PayerAddress {
					continue
				}
				if exact && d.amount != purchase.Amount {
					continue
				}
				if !exact && d.amount < purchase.Amount {
					continue
				}
				used[i] = true
				confirmed[purchase.PurchaseID] = d.transactionHash
				break
			}
		}
	}
	return confirmed
}
