package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"backend/internal/compliance"
	"backend/internal/logger"
	"backend/internal/oracle"
	"backend/internal/raffle"
	"backend/internal/storage"
)

// Server exposes the raffle lifecycle over HTTP.
type Server struct {
	service   *raffle.Service
	recorder  *compliance.Recorder
	rates     oracle.RateOracle
	jwtSecret string
}

func NewServer(service *raffle.Service, recorder *compliance.Recorder, rates oracle.RateOracle, jwtSecret string) *Server {
	return &Server{
		service:   service,
		recorder:  recorder,
		rates:     rates,
		jwtSecret: jwtSecret,
	}
}

func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Get("/raffles", s.handleListRaffles)
		r.Get("/raffles/{raffleID}", s.handleGetRaffle)
		r.Get("/raffles/{raffleID}/price", s.handleGetPrice)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/raffles/{raffleID}/tickets", s.handlePurchaseTicket)
			r.Get("/raffles/{raffleID}/purchases", s.handleListPurchases)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, s.requireAdmin)
			r.Post("/raffles", s.handleCreateRaffle)
			r.Post("/raffles/{raffleID}/draw", s.handleDrawWinner)
			r.Post("/raffles/{raffleID}/close", s.handleCloseEarly)
			r.Post("/raffles/{raffleID}/settle", s.handleSettlePayout)
			r.Post("/raffles/{raffleID}/cancel", s.handleCancelRaffle)
			r.Get("/raffles/{raffleID}/transactions", s.handleListTransactions)
		})

	})

	router.Post("/webhook/fiat", s.handleFiatWebhook)
	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.Status()),
			zap.Duration("elapsed", time.Since(started)))
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps lifecycle errors onto HTTP statuses. Anything
// unmapped is a 500 with a generic body so internals do not leak.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, raffle.ErrRaffleNotFound), errors.Is(err, raffle.ErrPurchaseNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, raffle.ErrInvalidTicketCount),
		errors.Is(err, raffle.ErrPaymentTypeMismatch),
		errors.Is(err, raffle.ErrFractionalNotAllowed),
		errors.Is(err, raffle.ErrNoParticipants):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, raffle.ErrSoldOut), errors.Is(err, raffle.ErrInvalidStateTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, raffle.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, raffle.ErrContention):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, raffle.ErrGatewayFailure), errors.Is(err, raffle.ErrRandomnessUnavailable):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		var transferErr *raffle.TransferFailedError
		var refundErrs raffle.RefundErrors
		if errors.As(err, &transferErr) || errors.As(err, &refundErrs) {
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		logger.Error("unhandled service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type raffleResponse struct {
	RaffleID           string `json:"raffle_id"`
	PropertyID         string `json:"property_id"`
	SellerAddress      string `json:"seller_address"`
	AssetValue         int64  `json:"asset_value"`
	TicketPrice        int64  `json:"ticket_price"`
	MaxTickets         int64  `json:"max_tickets"`
	TicketsSold        int64  `json:"tickets_sold"`
	FundsRaised        int64  `json:"funds_raised"`
	AllowFractional    bool   `json:"allow_fractional"`
	EarlyClosed        bool   `json:"early_closed"`
	Status             string `json:"status"`
	WinnerID           string `json:"winner_id,omitempty"`
	CharityTransferred int64  `json:"charity_transferred"`
	PaymentType        string `json:"payment_type"`
}

func toRaffleResponse(r *storage.Raffle) raffleResponse {
	return raffleResponse{
		RaffleID:           r.RaffleID,
		PropertyID:         r.PropertyID,
		SellerAddress:      r.SellerAddress,
		AssetValue:         r.AssetValue,
		TicketPrice:        r.TicketPrice,
		MaxTickets:         r.MaxTickets,
		TicketsSold:        r.TicketsSold,
		FundsRaised:        r.FundsRaised,
		AllowFractional:    r.AllowFractional,
		EarlyClosed:        r.EarlyClosed,
		Status:             r.Status,
		WinnerID:           r.WinnerID,
		CharityTransferred: r.CharityTransferred,
		PaymentType:        r.PaymentType,
	}
}
