package raffle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"backend/internal/storage"
)

func TestSplitCut(t *testing.T) {
	seller, charity, platform := DefaultSplit.Cut(1000)
	require.EqualValues(t, 900, seller)
	require.EqualValues(t, 10, charity)
	require.EqualValues(t, 90, platform)

	// rounding remainder goes to the platform leg
	seller, charity, platform = DefaultSplit.Cut(1001)
	require.EqualValues(t, 900, seller)
	require.EqualValues(t, 10, charity)
	require.EqualValues(t, 91, platform)
	require.EqualValues(t, 1001, seller+charity+platform)
}

func TestSplitCutAlwaysSumsToTotal(t *testing.T) {
	for total := int64(0); total < 500; total++ {
		seller, charity, platform := DefaultSplit.Cut(total)
		require.EqualValues(t, total, seller+charity+platform, "total %d", total)
	}
}

func TestTokensPerTicket(t *testing.T) {
	require.EqualValues(t, 100, TokensPerTicket(10_000))
	require.EqualValues(t, 333, TokensPerTicket(3_000))
	require.EqualValues(t, 0, TokensPerTicket(0))
}

func TestBuildFullSaleLegs(t *testing.T) {
	raffle := &storage.Raffle{
		RaffleID:      "r-1",
		SellerAddress: "seller-addr",
		FundsRaised:   10_000,
	}
	accounts := RailAccounts{Charity: "charity-addr", Platform: "platform-addr"}

	legs := buildFullSaleLegs(raffle, accounts, DefaultSplit)
	require.Len(t, legs, 3)

	byRole := map[string]*storage.PayoutLeg{}
	for _, leg := range legs {
		byRole[leg.Role] = leg
	}
	require.EqualValues(t, 9_000, byRole[RoleSeller].Amount)
	require.EqualValues(t, 100, byRole[RoleCharity].Amount)
	require.EqualValues(t, 900, byRole[RolePlatform].Amount)
	require.Equal(t, "r-1:seller", byRole[RoleSeller].IdempotencyKey)
	require.Equal(t, "seller-addr", byRole[RoleSeller].Recipient)
	require.Equal(t, storage.LegKindFunds, byRole[RoleCharity].Kind)
}

func TestBuildFractionalLegs(t *testing.T) {
	raffle := &storage.Raffle{
		RaffleID:      "r-2",
		SellerAddress: "seller-addr",
		MaxTickets:    10_000,
		TicketsSold:   3_000,
		FundsRaised:   30_000,
	}
	purchases := []*storage.TicketPurchase{
		{PurchaseID: "p-1", UserID: "alice", PayerAddress: "alice-addr", TicketCount: 1_000},
		{PurchaseID: "p-2", UserID: "bob", PayerAddress: "bob-addr", TicketCount: 1_500},
		{PurchaseID: "p-3", UserID: "alice", PayerAddress: "alice-addr", TicketCount: 500},
	}
	accounts := RailAccounts{Charity: "charity-addr", Platform: "platform-addr"}

	legs, err := buildFractionalLegs(raffle, purchases, accounts, DefaultSplit)
	require.NoError(t, err)

	byRole := map[string]*storage.PayoutLeg{}
	for _, leg := range legs {
		byRole[leg.Role] = leg
	}

	// money splits on the sold-portion proceeds only
	require.EqualValues(t, 27_000, byRole[RoleSeller].Amount)
	require.EqualValues(t, 300, byRole[RoleCharity].Amount)
	require.EqualValues(t, 2_700, byRole[RolePlatform].Amount)

	// tokens: 100 per ticket, one leg per buyer, purchases aggregated
	alice := byRole[BuyerRole("alice")]
	require.NotNil(t, alice)
	require.Equal(t, storage.LegKindTokens, alice.Kind)
	require.EqualValues(t, 150_000, alice.Amount)
	require.Equal(t, "alice-addr", alice.Recipient)

	bob := byRole[BuyerRole("bob")]
	require.NotNil(t, bob)
	require.EqualValues(t, 150_000, bob.Amount)

	// unsold supply stays with the seller
	sellerTokens := byRole[RoleSeller+":tokens"]
	require.NotNil(t, sellerTokens)
	require.EqualValues(t, 700_000, sellerTokens.Amount)
	require.EqualValues(t, TotalFractionalTokens, alice.Amount+bob.Amount+sellerTokens.Amount)
}

func TestBuildFractionalLegsSkipsRefunded(t *testing.T) {
	raffle := &storage.Raffle{
		RaffleID:      "r-3",
		SellerAddress: "seller-addr",
		MaxTickets:    1_000,
		FundsRaised:   500,
	}
	purchases := []*storage.TicketPurchase{
		{PurchaseID: "p-1", UserID: "alice", TicketCount: 5},
		{PurchaseID: "p-2", UserID: "bob", TicketCount: 5, Refunded: true},
	}

	legs, err := buildFractionalLegs(raffle, purchases, RailAccounts{}, DefaultSplit)
	require.NoError(t, err)

	for _, leg := range legs {
		require.NotEqual(t, BuyerRole("bob"), leg.Role)
	}
}
