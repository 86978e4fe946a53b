package polymarket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const wallet = "0x1111111111111111111111111111111111111111"

func TestFetchWalletTrades(t *testing.T) {
	data := fixture(t, "data_activity.json")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activity", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, wallet, q.Get("user"))
		assert.Equal(t, "TRADE", q.Get("type"))
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, "100", q.Get("offset"))
		assert.Equal(t, "DESC", q.Get("sortDirection"))
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}))
	defer srv.Close()

	client := newTestClient(nil, nil, srv)
	trades, err := client.FetchWalletTrades(context.Background(), wallet, 50, 100)
	require.NoError(t, err)
	require.Len(t, trades, 2, "REDEEM y precio fuera de rango se descartan")

	buy := trades[0]
	assert.Equal(t, "0xtx02:token_yes_001:BUY", buy.ID)
	assert.Equal(t, domain.Buy, buy.Side)
	assert.Equal(t, "0xmarket01", buy.MarketID)
	assert.Equal(t, "Yes", buy.Outcome)
	assert.InDelta(t, 0.46, buy.Price, 1e-9)
	assert.InDelta(t, 200, buy.Size, 1e-9)
	assert.Equal(t, time.Unix(1760000100, 0).UTC(), buy.Timestamp)
	assert.Equal(t, wallet, buy.Wallet)

	sell := trades[1]
	assert.Equal(t, domain.Sell, sell.Side)
	assert.InDelta(t, 50, sell.Size, 1e-9, "sin size se deriva de usdcSize/price")
}

func TestFetchWalletTrades_ForbiddenIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(nil, nil, srv)
	_, err := client.FetchWalletTrades(context.Background(), wallet, 50, 0)
	require.Error(t, err)
	var apiErr *httpclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.False(t, domain.IsFatal(err), "la data-api es pública: un 403 no invalida credenciales")
}

func TestFetchWalletExposure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, wallet, q.Get("user"))
		assert.Equal(t, "0xmarket01", q.Get("market"))
		w.Write([]byte(`[
			{"conditionId":"0xmarket01","outcome":"Up","outcomeIndex":0,"size":"70"},
			{"conditionId":"0xmarket01","outcome":"Down","outcomeIndex":1,"size":30.5},
			{"conditionId":"0xother","outcome":"Up","outcomeIndex":0,"size":"999"},
			{"conditionId":"0xmarket01","outcome":"Down","outcomeIndex":1,"size":"0"}
		]`))
	}))
	defer srv.Close()

	client := newTestClient(nil, nil, srv)
	exp, err := client.FetchWalletExposure(context.Background(), wallet, "0xmarket01")
	require.NoError(t, err)

	assert.Equal(t, "0xmarket01", exp.MarketID)
	assert.InDelta(t, 100.5, exp.Total(), 1e-9)
	assert.InDelta(t, 70/100.5, exp.Allocation("up"), 1e-9)
	assert.InDelta(t, 30.5/100.5, exp.Allocation("Down"), 1e-9)
}
