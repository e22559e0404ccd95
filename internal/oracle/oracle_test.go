package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoinGeckoOracleRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "the-open-network", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"the-open-network": {"usd": 5.43}}`))
	}))
	defer server.Close()

	oracle := &CoinGeckoOracle{
		client:  &http.Client{Timeout: time.Second},
		baseURL: server.URL,
	}

	rate, err := oracle.Rate(context.Background(), "the-open-network", "usd")
	require.NoError(t, err)
	require.Equal(t, "5.43", rate.String())
}

func TestCoinGeckoOracleMissingQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	oracle := &CoinGeckoOracle{
		client:  &http.Client{Timeout: time.Second},
		baseURL: server.URL,
	}

	_, err := oracle.Rate(context.Background(), "the-open-network", "usd")
	require.ErrorIs(t, err, ErrRateUnavailable)
}

func TestCoinGeckoOracleUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	oracle := &CoinGeckoOracle{
		client:  &http.Client{Timeout: time.Second},
		baseURL: server.URL,
	}

	_, err := oracle.Rate(context.Background(), "the-open-network", "usd")
	require.ErrorIs(t, err, ErrRateUnavailable)
}

func TestCryptoSourceDrawBounds(t *testing.T) {
	source := NewCryptoSource()

	for i := 0; i < 100; i++ {
		value, err := source.Draw(context.Background(), 7)
		require.NoError(t, err)
		require.GreaterOrEqual(t, value, int64(0))
		require.Less(t, value, int64(7))
	}

	_, err := source.Draw(context.Background(), 0)
	require.ErrorIs(t, err, ErrRandomnessUnavailable)
}
