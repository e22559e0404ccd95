package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"backend/internal/raffle"
	"backend/internal/storage"
)

type createRaffleRequest struct {
	PropertyID      string `json:"property_id"`
	SellerAddress   string `json:"seller_address"`
	AssetValue      int64  `json:"asset_value"`
	TicketPrice     int64  `json:"ticket_price"`
	MaxTickets      int64  `json:"max_tickets"`
	AllowFractional bool   `json:"allow_fractional"`
	PaymentType     string `json:"payment_type"`
}

func (s *Server) handleCreateRaffle(w http.ResponseWriter, r *http.Request) {
	var request createRaffleRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if request.PropertyID == "" || request.SellerAddress == "" {
		respondError(w, http.StatusBadRequest, "property_id and seller_address are required")
		return
	}
	if request.TicketPrice <= 0 || request.MaxTickets <= 0 {
		respondError(w, http.StatusBadRequest, "ticket_price and max_tickets must be positive")
		return
	}

	created, err := s.service.CreateRaffle(r.Context(), raffle.CreateRaffleParams{
		PropertyID:      request.PropertyID,
		SellerAddress:   request.SellerAddress,
		AssetValue:      request.AssetValue,
		TicketPrice:     request.TicketPrice,
		MaxTickets:      request.MaxTickets,
		AllowFractional: request.AllowFractional,
		PaymentType:     request.PaymentType,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toRaffleResponse(created))
}

func (s *Server) handleGetRaffle(w http.ResponseWriter, r *http.Request) {
	found, err := s.service.GetRaffle(chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRaffleResponse(found))
}

func (s *Server) handleListRaffles(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = storage.RaffleStatusActive
	}

	raffles, err := s.service.ListRafflesByStatus(status)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response := make([]raffleResponse, 0, len(raffles))
	for _, item := range raffles {
		response = append(response, toRaffleResponse(item))
	}
	respondJSON(w, http.StatusOK, response)
}

type purchaseTicketRequest struct {
	TicketCount  int64  `json:"ticket_count"`
	PayerAddress string `json:"payer_address"`
	PaymentType  string `json:"payment_type"`
}

type purchaseTicketResponse struct {
	PurchaseID  string         `json:"purchase_id"`
	Provisional bool           `json:"provisional"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Amount      int64          `json:"amount"`
	Raffle      raffleResponse `json:"raffle"`
}

func (s *Server) handlePurchaseTicket(w http.ResponseWriter, r *http.Request) {
	var request purchaseTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := s.service.PurchaseTicket(r.Context(), raffle.PurchaseTicketParams{
		RaffleID:     chi.URLParam(r, "raffleID"),
		UserID:       userIDFromContext(r.Context()),
		PayerAddress: request.PayerAddress,
		TicketCount:  request.TicketCount,
		PaymentType:  request.PaymentType,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, purchaseTicketResponse{
		PurchaseID:  result.Purchase.PurchaseID,
		Provisional: result.Purchase.Provisional,
		RedirectURL: result.RedirectURL,
		Amount:      result.Purchase.Amount,
		Raffle:      toRaffleResponse(result.Raffle),
	})
}

type purchaseView struct {
	PurchaseID  string `json:"purchase_id"`
	UserID      string `json:"user_id"`
	TicketCount int64  `json:"ticket_count"`
	Amount      int64  `json:"amount"`
	Provisional bool   `json:"provisional"`
	Refunded    bool   `json:"refunded"`
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	if _, err := s.service.GetRaffle(raffleID); err != nil {
		respondServiceError(w, err)
		return
	}

	purchases, err := s.service.ListPurchases(raffleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	response := make([]purchaseView, 0, len(purchases))
	for _, purchase := range purchases {
		response = append(response, purchaseView{
			PurchaseID:  purchase.PurchaseID,
			UserID:      purchase.UserID,
			TicketCount: purchase.TicketCount,
			Amount:      purchase.Amount,
			Provisional: purchase.Provisional,
			Refunded:    purchase.Refunded,
		})
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleDrawWinner(w http.ResponseWriter, r *http.Request) {
	drawn, err := s.service.DrawWinner(r.Context(), chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRaffleResponse(drawn))
}

func (s *Server) handleCloseEarly(w http.ResponseWriter, r *http.Request) {
	closed, err := s.service.CloseEarly(r.Context(), chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRaffleResponse(closed))
}

func (s *Server) handleSettlePayout(w http.ResponseWriter, r *http.Request) {
	settled, err := s.service.SettlePayout(r.Context(), chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRaffleResponse(settled))
}

func (s *Server) handleCancelRaffle(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.service.CancelRaffle(r.Context(), chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRaffleResponse(cancelled))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recorder.List(chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// tonPrice is the CoinGecko identifier for the on-chain settlement currency.
const tonPriceID = "the-open-network"

type priceResponse struct {
	Currency     string `json:"currency"`
	TicketPrice  string `json:"ticket_price"`
	ExchangeRate string `json:"exchange_rate"`
}

// handleGetPrice quotes the ticket price in a display currency. Quotes are
// presentation only; settlement always happens in the raffle's own rail
// units.
func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	found, err := s.service.GetRaffle(chi.URLParam(r, "raffleID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	currency := strings.ToLower(r.URL.Query().Get("currency"))
	if currency == "" {
		currency = "usd"
	}

	if found.PaymentType == storage.PaymentTypeFiat {
		respondJSON(w, http.StatusOK, priceResponse{
			Currency:     currency,
			TicketPrice:  decimal.NewFromInt(found.TicketPrice).Shift(-2).String(),
			ExchangeRate: "1",
		})
		return
	}

	rate, err := s.rates.Rate(r.Context(), tonPriceID, currency)
	if err != nil {
		respondError(w, http.StatusBadGateway, "exchange rate unavailable")
		return
	}

	// on-chain prices are nanoton
	display := decimal.NewFromInt(found.TicketPrice).Shift(-9).Mul(rate)
	respondJSON(w, http.StatusOK, priceResponse{
		Currency:     currency,
		TicketPrice:  display.String(),
		ExchangeRate: rate.String(),
	})
}

// fiatWebhookEvent is the slice of the provider event the confirmation flow
// needs: the session carries our purchase id in client_reference_id and the
// payment intent used for refunds.
type fiatWebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ClientReferenceID string `json:"client_reference_id"`
			PaymentIntent     string `json:"payment_intent"`
			PaymentStatus     string `json:"payment_status"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Server) handleFiatWebhook(w http.ResponseWriter, r *http.Request) {
	var event fiatWebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "malformed event")
		return
	}

	if event.Type != "checkout.session.completed" || event.Data.Object.PaymentStatus != "paid" {
		// not a confirmation; acknowledge so the provider stops retrying
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	err := s.service.ConfirmPurchase(r.Context(), event.Data.Object.ClientReferenceID, event.Data.Object.PaymentIntent)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
