package raffle

import (
	"fmt"

	"backend/internal/storage"
)

const (
	RoleSeller   = "seller"
	RoleCharity  = "charity"
	RolePlatform = "platform"

	// TotalFractionalTokens is the fixed supply of ownership tokens minted
	// per raffle when fractional settlement applies.
	TotalFractionalTokens = 1_000_000
)

// BuyerRole names the payout leg owed to a single ticket holder under
// fractional settlement. One role per user keeps leg idempotency keys stable.
func BuyerRole(userID string) string {
	return "buyer:" + userID
}

// Split describes how raised funds divide between the seller, the charity
// and the platform. Shares are taken out of Denominator; integer division
// floors each cut and the remainder lands on the platform leg.
type Split struct {
	Seller      int64
	Charity     int64
	Platform    int64
	Denominator int64
}

// DefaultSplit is the 90/1/9 production split.
var DefaultSplit = Split{Seller: 90, Charity: 1, Platform: 9, Denominator: 100}

// Cut returns the seller, charity and platform amounts for total minor
// units. The three always sum to total exactly.
func (s Split) Cut(total int64) (seller, charity, platform int64) {
	seller = total * s.Seller / s.Denominator
	charity = total * s.Charity / s.Denominator
	platform = total - seller - charity
	return seller, charity, platform
}

// TokensPerTicket divides the fixed token supply evenly across the ticket
// cap. The division remainder stays with the seller.
func TokensPerTicket(maxTickets int64) int64 {
	if maxTickets <= 0 {
		return 0
	}
	return TotalFractionalTokens / maxTickets
}

func fundsLeg(raffleID, role, recipient string, amount int64) *storage.PayoutLeg {
	return &storage.PayoutLeg{
		RaffleID:       raffleID,
		Role:           role,
		Kind:           storage.LegKindFunds,
		Recipient:      recipient,
		Amount:         amount,
		IdempotencyKey: raffleID + ":" + role,
		Status:         storage.LegStatusPending,
	}
}

func tokenLeg(raffleID, role, recipient string, amount int64) *storage.PayoutLeg {
	leg := fundsLeg(raffleID, role, recipient, amount)
	leg.Kind = storage.LegKindTokens
	return leg
}

// buildFullSaleLegs produces the three payout legs for a sold-out raffle
// after property transfer: the whole pot split per s.
func buildFullSaleLegs(raffle *storage.Raffle, accounts RailAccounts, s Split) []*storage.PayoutLeg {
	seller, charity, platform := s.Cut(raffle.FundsRaised)
	return []*storage.PayoutLeg{
		fundsLeg(raffle.RaffleID, RoleSeller, raffle.SellerAddress, seller),
		fundsLeg(raffle.RaffleID, RoleCharity, accounts.Charity, charity),
		fundsLeg(raffle.RaffleID, RolePlatform, accounts.Platform, platform),
	}
}

// buildFractionalLegs produces the legs for an early-closed raffle settled
// fractionally: the sold-portion proceeds split per s, plus one token leg
// per buyer pro-rata to tickets held. Unsold tokens and the pro-rata
// remainder stay with the seller's token leg.
func buildFractionalLegs(raffle *storage.Raffle, purchases []*storage.TicketPurchase, accounts RailAccounts, s Split) ([]*storage.PayoutLeg, error) {
	seller, charity, platform := s.Cut(raffle.FundsRaised)
	legs := []*storage.PayoutLeg{
		fundsLeg(raffle.RaffleID, RoleSeller, raffle.SellerAddress, seller),
		fundsLeg(raffle.RaffleID, RoleCharity, accounts.Charity, charity),
		fundsLeg(raffle.RaffleID, RolePlatform, accounts.Platform, platform),
	}

	perTicket := TokensPerTicket(raffle.MaxTickets)
	if perTicket == 0 {
		return nil, fmt.Errorf("raffle %s has invalid ticket cap %d", raffle.RaffleID, raffle.MaxTickets)
	}

	// Aggregate tickets per user so each buyer gets exactly one token leg.
	order := make([]string, 0, len(purchases))
	tickets := make(map[string]int64, len(purchases))
	for _, purchase := range purchases {
		if purchase.Refunded {
			continue
		}
		if _, seen := tickets[purchase.UserID]; !seen {
			order = append(order, purchase.UserID)
		}
		tickets[purchase.UserID] += purchase.TicketCount
	}

	distributed := int64(0)
	for _, userID := range order {
		amount := tickets[userID] * perTicket
		distributed += amount
		recipient := recipientForUser(purchases, userID)
		legs = append(legs, tokenLeg(raffle.RaffleID, BuyerRole(userID), recipient, amount))
	}

	if remainder := int64(TotalFractionalTokens) - distributed; remainder > 0 {
		legs = append(legs, tokenLeg(raffle.RaffleID, RoleSeller+":tokens", raffle.SellerAddress, remainder))
	}
	return legs, nil
}

func recipientForUser(purchases []*storage.TicketPurchase, userID string) string {
	for _, purchase := range purchases {
		if purchase.UserID == userID && purchase.PayerAddress != "" {
			return purchase.PayerAddress
		}
	}
	return userID
}
