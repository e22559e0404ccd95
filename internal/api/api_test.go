package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"backend/internal/compliance"
	"backend/internal/gateway"
	"backend/internal/raffle"
	"backend/internal/storage"
)

const testSecret = "test-secret"

type stubOracle struct {
	rate decimal.Decimal
}

func (o *stubOracle) Rate(ctx context.Context, fromCurrency string, toCurrency string) (decimal.Decimal, error) {
	return o.rate, nil
}

type apiHarness struct {
	server  *httptest.Server
	onchain *raffle.MockGateway
	fiat    *raffle.MockGateway
	storage *storage.MemoryStorage
}

func newAPIHarness(t *testing.T, drawResults ...int64) *apiHarness {
	t.Helper()

	st := storage.NewMemoryStorage()
	onchain := raffle.NewMockGateway()
	fiat := raffle.NewMockGateway()
	fiat.SetProvisional(true)

	recorder := compliance.NewRecorder(st)
	accounts := raffle.RailAccounts{Escrow: "escrow", Charity: "charity", Platform: "platform"}
	service := raffle.NewService(
		st,
		map[storage.PaymentType]gateway.Gateway{
			storage.PaymentTypeOnchain: onchain,
			storage.PaymentTypeFiat:    fiat,
		},
		map[storage.PaymentType]raffle.RailAccounts{
			storage.PaymentTypeOnchain: accounts,
			storage.PaymentTypeFiat:    accounts,
		},
		raffle.NewMockRandomness(drawResults...),
		recorder,
		raffle.DefaultSplit,
	)

	server := httptest.NewServer(NewServer(service, recorder, &stubOracle{rate: decimal.NewFromInt(2)}, testSecret).Router())
	t.Cleanup(server.Close)
	return &apiHarness{server: server, onchain: onchain, fiat: fiat, storage: st}
}

func signToken(t *testing.T, userID string, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": role,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *apiHarness) request(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var buffer bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buffer).Encode(body))
	}
	request, err := http.NewRequest(method, h.server.URL+path, &buffer)
	require.NoError(t, err)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	return response
}

func decodeBody(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer response.Body.Close()
	require.NoError(t, json.NewDecoder(response.Body).Decode(target))
}

func (h *apiHarness) createRaffle(t *testing.T, paymentType string, price, maxTickets int64, fractional bool) raffleResponse {
	t.Helper()
	response := h.request(t, http.MethodPost, "/api/raffles", signToken(t, "operator", "admin"), createRaffleRequest{
		PropertyID:      "prop-1",
		SellerAddress:   "seller-addr",
		AssetValue:      price * maxTickets,
		TicketPrice:     price,
		MaxTickets:      maxTickets,
		AllowFractional: fractional,
		PaymentType:     paymentType,
	})
	require.Equal(t, http.StatusCreated, response.StatusCode)

	var created raffleResponse
	decodeBody(t, response, &created)
	return created
}

func TestCreateRaffleAuthorization(t *testing.T) {
	h := newAPIHarness(t)
	body := createRaffleRequest{
		PropertyID:    "prop-1",
		SellerAddress: "seller-addr",
		TicketPrice:   10,
		MaxTickets:    100,
		PaymentType:   storage.PaymentTypeOnchain,
	}

	response := h.request(t, http.MethodPost, "/api/raffles", "", body)
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	response.Body.Close()

	response = h.request(t, http.MethodPost, "/api/raffles", signToken(t, "alice", "user"), body)
	require.Equal(t, http.StatusForbidden, response.StatusCode)
	response.Body.Close()

	response = h.request(t, http.MethodPost, "/api/raffles", signToken(t, "operator", "admin"), body)
	require.Equal(t, http.StatusCreated, response.StatusCode)
	response.Body.Close()
}

func TestRaffleLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t, 0)
	created := h.createRaffle(t, storage.PaymentTypeOnchain, 100, 5, false)

	response := h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/tickets",
		signToken(t, "alice", "user"),
		purchaseTicketRequest{TicketCount: 5, PayerAddress: "alice-addr", PaymentType: storage.PaymentTypeOnchain})
	require.Equal(t, http.StatusCreated, response.StatusCode)

	var purchased purchaseTicketResponse
	decodeBody(t, response, &purchased)
	require.EqualValues(t, 500, purchased.Amount)
	require.Equal(t, storage.RaffleStatusCompleted, purchased.Raffle.Status)

	adminToken := signToken(t, "operator", "admin")

	response = h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/draw", adminToken, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var drawn raffleResponse
	decodeBody(t, response, &drawn)
	require.Equal(t, "alice", drawn.WinnerID)
	require.Equal(t, storage.RaffleStatusPendingTransfer, drawn.Status)

	response = h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/settle", adminToken, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var settled raffleResponse
	decodeBody(t, response, &settled)
	require.Equal(t, storage.RaffleStatusPaid, settled.Status)

	// a second draw conflicts instead of reassigning the winner
	response = h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/draw", adminToken, nil)
	require.Equal(t, http.StatusConflict, response.StatusCode)
	response.Body.Close()

	response = h.request(t, http.MethodGet, "/api/raffles/"+created.RaffleID+"/purchases", adminToken, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var purchases []purchaseView
	decodeBody(t, response, &purchases)
	require.Len(t, purchases, 1)
	require.Equal(t, "alice", purchases[0].UserID)

	response = h.request(t, http.MethodGet, "/api/raffles/"+created.RaffleID+"/transactions", adminToken, nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var entries []storage.TransactionLog
	decodeBody(t, response, &entries)
	require.NotEmpty(t, entries)
}

func TestPurchaseTicketStatusMapping(t *testing.T) {
	h := newAPIHarness(t)
	created := h.createRaffle(t, storage.PaymentTypeOnchain, 10, 3, false)
	token := signToken(t, "alice", "user")

	response := h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/tickets", token,
		purchaseTicketRequest{TicketCount: 5, PayerAddress: "alice-addr", PaymentType: storage.PaymentTypeOnchain})
	require.Equal(t, http.StatusConflict, response.StatusCode)
	response.Body.Close()

	response = h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/tickets", token,
		purchaseTicketRequest{TicketCount: 0, PayerAddress: "alice-addr", PaymentType: storage.PaymentTypeOnchain})
	require.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()

	response = h.request(t, http.MethodGet, "/api/raffles/missing", "", nil)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
	response.Body.Close()
}

func TestFiatWebhookConfirmsPurchase(t *testing.T) {
	h := newAPIHarness(t)
	created := h.createRaffle(t, storage.PaymentTypeFiat, 1000, 10, false)

	response := h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/tickets",
		signToken(t, "alice", "user"),
		purchaseTicketRequest{TicketCount: 1, PaymentType: storage.PaymentTypeFiat})
	require.Equal(t, http.StatusCreated, response.StatusCode)

	var purchased purchaseTicketResponse
	decodeBody(t, response, &purchased)
	require.True(t, purchased.Provisional)
	require.NotEmpty(t, purchased.RedirectURL)

	event := fmt.Sprintf(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"client_reference_id": %q,
			"payment_intent": "pi_123",
			"payment_status": "paid"
		}}
	}`, purchased.PurchaseID)

	webhookResponse, err := http.Post(h.server.URL+"/webhook/fiat", "application/json", bytes.NewBufferString(event))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, webhookResponse.StatusCode)
	webhookResponse.Body.Close()

	confirmed, err := h.storage.GetPurchase(purchased.PurchaseID)
	require.NoError(t, err)
	require.False(t, confirmed.Provisional)
	require.Equal(t, "pi_123", confirmed.SessionRef)
}

func TestFiatWebhookIgnoresOtherEvents(t *testing.T) {
	h := newAPIHarness(t)

	response, err := http.Post(h.server.URL+"/webhook/fiat", "application/json",
		bytes.NewBufferString(`{"type": "charge.updated", "data": {"object": {}}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
}

func TestGetPrice(t *testing.T) {
	h := newAPIHarness(t)

	onchain := h.createRaffle(t, storage.PaymentTypeOnchain, 5_000_000_000, 10, false)
	response := h.request(t, http.MethodGet, "/api/raffles/"+onchain.RaffleID+"/price?currency=usd", "", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var quote priceResponse
	decodeBody(t, response, &quote)
	require.Equal(t, "usd", quote.Currency)
	require.Equal(t, "10", quote.TicketPrice) // 5 TON at rate 2
	require.Equal(t, "2", quote.ExchangeRate)

	fiat := h.createRaffle(t, storage.PaymentTypeFiat, 2_500, 10, false)
	response = h.request(t, http.MethodGet, "/api/raffles/"+fiat.RaffleID+"/price", "", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	decodeBody(t, response, &quote)
	require.Equal(t, "25", quote.TicketPrice)
	require.Equal(t, "1", quote.ExchangeRate)
}

func TestCancelRaffleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	created := h.createRaffle(t, storage.PaymentTypeOnchain, 10, 100, false)

	response := h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/tickets",
		signToken(t, "alice", "user"),
		purchaseTicketRequest{TicketCount: 2, PayerAddress: "alice-addr", PaymentType: storage.PaymentTypeOnchain})
	require.Equal(t, http.StatusCreated, response.StatusCode)
	response.Body.Close()

	response = h.request(t, http.MethodPost, "/api/raffles/"+created.RaffleID+"/cancel",
		signToken(t, "operator", "admin"), nil)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var cancelled raffleResponse
	decodeBody(t, response, &cancelled)
	require.Equal(t, storage.RaffleStatusCancelled, cancelled.Status)
	require.EqualValues(t, 0, cancelled.TicketsSold)
	require.EqualValues(t, 0, cancelled.FundsRaised)
}
