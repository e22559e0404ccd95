package tracker

import (
	"github.com/tonkeeper/tonapi-go"
	"go.uber.org/zap"

	"backend/internal/logger"
	"backend/internal/tonx"
)

// collectEscrowDeposits walks the escrow account traces newest first and
// stops at the logical time of the previous pass.
func (t *Tracker) collectEscrowDeposits() ([]deposit, error) {
	logger.Debug("tracker: collecting escrow deposits...", zap.Int64("after lt", t.lastSeenLt))

	deposits := make([]deposit, 0)

	var transactionLt int64 = 0
	var maxTransactionLt int64 = 0
	var beforeLt int64 = 0

	for {
		accountTracesResult, err := tonx.InfinityRateLimitRetry(
			func() (*tonapi.TraceIDs, error) {
				return t.client.GetAccountTraces(t.ctx, tonapi.GetAccountTracesParams{
					AccountID: t.escrowAddress,
					Limit:     tonapi.NewOptInt(traceWindowSize),
					BeforeLt: tonapi.OptInt64{
						Value: beforeLt,
						Set:   beforeLt > 0,
					},
				})
			},
		)
		if err != nil {
			logger.Error("tracker: cannot get escrow account traces", zap.Error(err))
			return nil, err
		}

		for _, traceID := range accountTracesResult.GetTraces() {
			trace, err := tonx.InfinityRateLimitRetry(
				func() (*tonapi.Trace, error) {
					return t.client.GetTrace(t.ctx, tonapi.GetTraceParams{TraceID: traceID.GetID()})
				},
			)
			if err != nil {
				logger.Debug("tracker: collect trace details... failed", zap.Error(err))
				break
			}

			transactionLt = trace.Transaction.GetLt()
			maxTransactionLt = max(maxTransactionLt, transactionLt)
			beforeLt = transactionLt

			if transactionLt <= t.lastSeenLt {
				logger.Debug("tracker: last seen logical time reached")
				break
			}

			if incoming, ok := t.processDepositTrace(trace); ok {
				logger.Debug("tracker: deposit observed",
					zap.String("sender", incoming.sender),
					zap.Int64("amount", incoming.amount))
				deposits = append(deposits, incoming)
			}
		}

		if len(accountTracesResult.GetTraces()) < traceWindowSize || transactionLt <= t.lastSeenLt {
			logger.Debug("tracker: out of traces, finalizing results...")
			break
		}
	}

	t.lastSeenLt = max(t.lastSeenLt, maxTransactionLt)

	logger.Debug("tracker: collecting escrow deposits... done", zap.Int("count", len(deposits)))
	return deposits, nil
}

// processDepositTrace extracts the sender and value of a plain incoming
// transfer. Outgoing payout legs and bounced messages are skipped.
func (t *Tracker) processDepositTrace(trace *tonapi.Trace) (deposit, bool) {
	message, ok := trace.Transaction.GetInMsg().Get()
	if !ok {
		logger.Debug("tracker: missing incoming message... skip")
		return deposit{}, false
	}

	if !trace.Transaction.Success {
		logger.Debug("tracker: ignore unsuccessful incoming messages... skip")
		return deposit{}, false
	}

	source, ok := message.Source.Get()
	if !ok {
		logger.Debug("tracker: cannot get message source address... skip")
		return deposit{}, false
	}

	if message.Value <= 0 {
		logger.Debug("tracker: message carries no value... skip")
		return deposit{}, false
	}

	return deposit{
		sender:          source.Address,
		amount:          message.Value,
		transactionLt:   trace.Transaction.GetLt(),
		transactionHash: trace.Transaction.Hash,
	}, true
}
