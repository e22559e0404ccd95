package gateway

import (
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/tonx"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tonkeeper/tonapi-go"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
)

const settlementOpCode = 0x13370021

var WalletMap = map[string]int{
	"V1R1":         0,
	"V1R2":         1,
	"V1R3":         2,
	"V2R1":         3,
	"V2R2":         4,
	"V3R1":         5,
	"V3R2":         6,
	"V3R2Lockup":   7,
	"V4R1":         8,
	"V4R2":         9,
	"V5Beta":       10,
	"V5R1":         11,
	"HighLoadV1R1": 12,
	"HighLoadV1R2": 13,
	"HighLoadV2":   14,
	"HighLoadV2R1": 15,
	"HighLoadV2R2": 16,
}

// TonGateway moves settlement funds through the platform escrow wallet on
// the TON network.
type TonGateway struct {
	client        *tonapi.Client
	wallet        *wallet.Wallet
	escrowAddress string
}

func NewTonGateway(configuration config.Config) *TonGateway {
	logger.Debug("ton gateway initialization: tonapi client...")
	client, err := tonapi.NewClient(tonapi.TonApiURL, tonapi.WithToken(configuration.TonAPIToken))
	if err != nil {
		panic(err)
	}

	logger.Debug("ton gateway initialization: escrow wallet...")
	clientLite, err := liteapi.NewClientWithDefaultMainnet()
	if err != nil {
		panic(err)
	}

	pk, err := wallet.SeedToPrivateKey(configuration.WalletMnemonic)
	if err != nil {
		panic(err)
	}

	version := WalletMap[configuration.WalletVersion]
	logger.Debug("ton gateway initialization: wallet info", zap.String("version", configuration.WalletVersion), zap.Int("version index", version))

	escrowWallet, err := wallet.New(pk, wallet.Version(version), clientLite)
	if err != nil {
		panic(err)
	}

	logger.Debug("ton gateway initialization... done")
	return &TonGateway{
		client:        client,
		wallet:        &escrowWallet,
		escrowAddress: configuration.EscrowAddress,
	}
}

func (g *TonGateway) CheckBalance(ctx context.Context, payer string, amount int64) (bool, error) {
	logger.Debug("ton gateway: checking payer balance...", zap.String("payer", payer))

	if _, err := ton.ParseAccountID(payer); err != nil {
		return false, fmt.Errorf("invalid payer address: %w", err)
	}

	account, err := tonx.InfinityRateLimitRetry(
		func() (*tonapi.Account, error) {
			return g.client.GetAccount(ctx, tonapi.GetAccountParams{AccountID: payer})
		},
	)
	if err != nil {
		return false, err
	}

	logger.Debug("ton gateway: checking payer balance... done", zap.Int64("balance", account.GetBalance()))
	return account.GetBalance() >= amount, nil
}

func (g *TonGateway) AuthorizePurchase(ctx context.Context, payer string, amount int64, idempotencyKey string) (*Authorization, error) {
	sufficient, err := g.CheckBalance(ctx, payer, amount)
	if err != nil {
		return nil, err
	}
	if !sufficient {
		return nil, fmt.Errorf("%w: payer %s cannot cover %d", ErrInsufficientBalance, payer, amount)
	}

	// The buyer settles on-chain. The purchase stays provisional until the
	// deposit tracker observes the transfer landing on the escrow account.
	return &Authorization{
		Reference:   settlementReference(payer, g.escrowAddress, amount, idempotencyKey),
		Provisional: true,
	}, nil
}

func (g *TonGateway) Transfer(ctx context.Context, from string, to string, amount int64, idempotencyKey string) (*Receipt, error) {
	logger.Debug("ton gateway: sending transfer...", zap.String("to", to), zap.Int64("amount", amount))

	destination, err := ton.ParseAccountID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %w", err)
	}

	body, err := settlementBody(idempotencyKey)
	if err != nil {
		return nil, err
	}

	message := wallet.Message{
		Amount:  tlb.Grams(amount),
		Address: destination,
		Bounce:  true,
		Mode:    wallet.DefaultMessageMode,
		Body:    body,
	}

	_, err = g.wallet.SendV2(ctx, 60*time.Second, message)
	if err != nil {
		return nil, err
	}

	logger.Debug("ton gateway: sending transfer... done")
	return &Receipt{
		Reference: settlementReference(from, to, amount, idempotencyKey),
		Amount:    amount,
	}, nil
}

// Refund returns escrowed funds to the payer. The on-chain rail has no
// reversible charge, so the receipt reference is the payer account the
// deposit originated from.
func (g *TonGateway) Refund(ctx context.Context, receiptRef string, amount int64, idempotencyKey string) (*Receipt, error) {
	return g.Transfer(ctx, g.escrowAddress, receiptRef, amount, idempotencyKey)
}

// settlementBody tags the outgoing message with a digest of the idempotency
// key so duplicate sends are linkable during reconciliation.
func settlementBody(idempotencyKey string) (*boc.Cell, error) {
	digest := sha256.Sum256([]byte(idempotencyKey))

	cell := boc.NewCell()
	if err := cell.WriteUint(settlementOpCode, 32); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(binary.BigEndian.Uint64(digest[:8]), 64); err != nil {
		return nil, err
	}

	return cell, nil
}

func settlementReference(from string, to string, amount int64, idempotencyKey string) string {
	digest := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", from, to, amount, idempotencyKey))
	return hex.EncodeToString(digest[:])
}
