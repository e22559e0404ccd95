package oracle

import (
	"backend/internal/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateOracle quotes the fiat-equivalent price of the settlement currency.
// Quotes are presentation only and never enter settlement arithmetic.
type RateOracle interface {
	Rate(ctx context.Context, fromCurrency string, toCurrency string) (decimal.Decimal, error)
}

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

type CoinGeckoOracle struct {
	client  *http.Client
	baseURL string
}

func NewCoinGeckoOracle() *CoinGeckoOracle {
	return &CoinGeckoOracle{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: coinGeckoBaseURL,
	}
}

func (o *CoinGeckoOracle) Rate(ctx context.Context, fromCurrency string, toCurrency string) (decimal.Decimal, error) {
	logger.Debug("rate oracle: fetching rate...", zap.String("from", fromCurrency), zap.String("to", toCurrency))

	query := url.Values{}
	query.Set("ids", fromCurrency)
	query.Set("vs_currencies", toCurrency)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}

	response, err := o.client.Do(request)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrRateUnavailable, response.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	quote, ok := payload[fromCurrency][toCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s/%s", ErrRateUnavailable, fromCurrency, toCurrency)
	}

	rate, err := decimal.NewFromString(quote.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	logger.Debug("rate oracle: fetching rate... done", zap.String("rate", rate.String()))
	return rate, nil
}
