package polymarket_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/internal/adapters/polymarket"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

// Clave de prueba pública (cuenta #0 de hardhat).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type clobStub struct {
	derives atomic.Int32
	orders  atomic.Int32
	status  int
	reply   string
	last    map[string]any
}

func (s *clobStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/derive-api-key":
			s.derives.Add(1)
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			assert.Equal(t, "0", r.Header.Get("POLY_NONCE"))
			w.Write([]byte(`{"apiKey":"key-1","secret":"c2VjcmV0","passphrase":"pass"}`))
		case "/order":
			s.orders.Add(1)
			assert.Equal(t, "key-1", r.Header.Get("POLY_API_KEY"))
			assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
			s.last = map[string]any{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&s.last))
			if s.status != 0 {
				w.WriteHeader(s.status)
			}
			w.Write([]byte(s.reply))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTrading(t *testing.T, base string, rpc polymarket.ContractCaller) *polymarket.TradingClient {
	t.Helper()
	signer, err := polymarket.NewSigner(testKey, 137)
	require.NoError(t, err)
	return polymarket.NewTradingClient(signer, base, rpc, "")
}

func TestPlaceOrder_MatchedBuy(t *testing.T) {
	stub := &clobStub{reply: `{"success":true,"orderID":"0xorder","status":"matched",
		"makingAmount":"9.2","takingAmount":"20","transactionsHashes":["0xhash"]}`}
	srv := stub.server(t)
	defer srv.Close()

	tc := newTrading(t, srv.URL, nil)
	placed, err := tc.PlaceOrder(context.Background(), domain.LimitOrder{
		TokenID: "123456", Side: domain.Buy, Price: 0.46, Size: 20, Type: domain.OrderFAK,
	})
	require.NoError(t, err)

	assert.Equal(t, "0xorder", placed.OrderID)
	assert.Equal(t, "matched", placed.Status)
	assert.InDelta(t, 20, placed.MatchedSize, 1e-9)
	assert.InDelta(t, 0.46, placed.AvgPrice, 1e-9)
	assert.Equal(t, []string{"0xhash"}, placed.TxHashes)

	assert.Equal(t, "FAK", stub.last["orderType"])
	order := stub.last["order"].(map[string]any)
	assert.Equal(t, "BUY", order["side"])
	assert.Equal(t, "9200000", order["makerAmount"])
	assert.Equal(t, "20000000", order["takerAmount"])
}

func TestPlaceOrder_CredsDerivedOnce(t *testing.T) {
	stub := &clobStub{reply: `{"success":true,"orderID":"0x1","status":"unmatched"}`}
	srv := stub.server(t)
	defer srv.Close()

	tc := newTrading(t, srv.URL, nil)
	for i := 0; i < 2; i++ {
		placed, err := tc.PlaceOrder(context.Background(), domain.LimitOrder{
			TokenID: "123456", Side: domain.Sell, Price: 0.5, Size: 10,
		})
		require.NoError(t, err)
		assert.Zero(t, placed.MatchedSize)
	}
	assert.Equal(t, int32(1), stub.derives.Load())
	assert.Equal(t, int32(2), stub.orders.Load())
}

func TestPlaceOrder_ErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		want   error
	}{
		{"balance", http.StatusBadRequest, `{"error":"not enough balance / allowance"}`, domain.ErrInsufficientBalance},
		{"rejected", http.StatusBadRequest, `{"error":"invalid tick size"}`, domain.ErrRejected},
		{"unauthorized", http.StatusUnauthorized, `{"error":"Unauthorized/Invalid api key"}`, domain.ErrUnauthorized},
		{"server", http.StatusServiceUnavailable, `{}`, domain.ErrTransient},
		{"success false", http.StatusOK, `{"success":false,"errorMsg":"order couldn't be fully filled"}`, domain.ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &clobStub{status: tt.status, reply: tt.reply}
			srv := stub.server(t)
			defer srv.Close()

			tc := newTrading(t, srv.URL, nil)
			_, err := tc.PlaceOrder(context.Background(), domain.LimitOrder{
				TokenID: "123456", Side: domain.Buy, Price: 0.3, Size: 10,
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, int32(1), stub.orders.Load(), "un solo intento")
		})
	}
}

func TestEnsureCreds_ForbiddenIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"invalid L1 signature"}`))
	}))
	defer srv.Close()

	tc := newTrading(t, srv.URL, nil)
	_, err := tc.PlaceOrder(context.Background(), domain.LimitOrder{
		TokenID: "123456", Side: domain.Buy, Price: 0.3, Size: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.True(t, domain.IsFatal(err))
}

type fakeCaller struct{ raw *big.Int }

func (f fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("bad call")
	}
	return common.LeftPadBytes(f.raw.Bytes(), 32), nil
}

func TestGetBalance(t *testing.T) {
	tc := newTrading(t, "http://unused", fakeCaller{raw: big.NewInt(12_500_000)})
	bal, err := tc.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, bal, 1e-9)
}
