package polymarket

// trading.go: ejecución real de órdenes vía el CLOB de Polymarket.
//
// Implementa ports.OrderPlacer. Cada PlaceOrder es un único intento: los
// reintentos los decide el executor según la clase de error.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	orderPath     = "/order"
	deriveKeyPath = "/auth/derive-api-key"
	usdcEAddress  = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	TakingAmount       string   `json:"takingAmount"`
	MakingAmount       string   `json:"makingAmount"`
	Status             string   `json:"status"`
	Success            bool     `json:"success"`
	TransactionsHashes []string `json:"transactionsHashes"`
}

var balanceOfABI abi.ABI

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
}

// ContractCaller es el subconjunto de ethclient.Client que usa GetBalance.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TradingClient implementa ports.OrderPlacer.
type TradingClient struct {
	signer   *Signer
	http     *httpclient.Client
	clobBase string
	limiter  *rate.Limiter
	rpc      ContractCaller
	funder   common.Address
}

// NewTradingClient crea un TradingClient. rpc se usa para el balance on-chain;
// funder vacío usa la dirección del signer.
func NewTradingClient(signer *Signer, clobBase string, rpc ContractCaller, funder string, opts ...httpclient.Option) *TradingClient {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	addr := signer.Address()
	if funder != "" {
		addr = common.HexToAddress(funder)
	}
	opts = append([]httpclient.Option{httpclient.WithRetries(0)}, opts...)
	return &TradingClient{
		signer:   signer,
		http:     httpclient.New(opts...),
		clobBase: clobBase,
		limiter:  rate.NewLimiter(generalRatePerSec, 50),
		rpc:      rpc,
		funder:   addr,
	}
}

// EnsureCreds deriva las credenciales L2 vía L1. Se cachean.
func (tc *TradingClient) EnsureCreds(ctx context.Context) error {
	if _, ok := tc.signer.getCreds(); ok {
		return nil
	}
	var creds apiCredentials
	err := tc.http.Do(ctx, tc.limiter, httpclient.Request{
		Method: http.MethodGet,
		URL:    tc.clobBase + deriveKeyPath,
		Header: tc.signer.l1Headers,
	}, &creds)
	if err != nil {
		return fmt.Errorf("trading.EnsureCreds: %w", authError(err))
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return fmt.Errorf("trading.EnsureCreds: empty credentials: %w", domain.ErrUnauthorized)
	}
	tc.signer.setCreds(creds)
	return nil
}

// PlaceOrder firma y envía una orden. Errores:
//   - domain.ErrTransient: timeout, 429, 5xx
//   - domain.ErrUnauthorized: 401/403 o credenciales inválidas
//   - domain.ErrInsufficientBalance: balance o allowance insuficiente
//   - domain.ErrRejected: cualquier otro rechazo del CLOB
func (tc *TradingClient) PlaceOrder(ctx context.Context, order domain.LimitOrder) (domain.PlacedOrder, error) {
	if err := tc.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: %w", err)
	}
	creds, _ := tc.signer.getCreds()

	signed, err := tc.signer.buildSignedOrder(order)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: sign: %w", err)
	}
	orderType := order.Type
	if orderType == "" {
		orderType = domain.OrderFAK
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       order.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(order.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     creds.APIKey,
		OrderType: string(orderType),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: marshal: %w", err)
	}

	submitted := time.Now()
	var resp clobOrderResponse
	err = tc.http.Do(ctx, tc.limiter, httpclient.Request{
		Method: http.MethodPost,
		URL:    tc.clobBase + orderPath,
		Body:   json.RawMessage(raw),
		Header: func() (http.Header, error) {
			return tc.signer.l2Headers(http.MethodPost, orderPath, string(raw))
		},
	}, &resp)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: %w", classifyOrderError(err))
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("place order: %w", rejectionError(resp.ErrorMsg))
	}

	return placedFromResponse(order, resp, submitted), nil
}

// placedFromResponse convierte la respuesta en shares casadas y precio medio.
func placedFromResponse(order domain.LimitOrder, resp clobOrderResponse, submitted time.Time) domain.PlacedOrder {
	making := parseAmount(resp.MakingAmount)
	taking := parseAmount(resp.TakingAmount)

	shares, usdc := taking, making
	if order.Side == domain.Sell {
		shares, usdc = making, taking
	}
	placed := domain.PlacedOrder{
		OrderID:     resp.OrderID,
		Status:      strings.ToLower(resp.Status),
		TxHashes:    resp.TransactionsHashes,
		SubmittedAt: submitted,
	}
	if placed.Status == "matched" && shares > 0 {
		placed.MatchedSize = shares
		placed.AvgPrice = usdc / shares
	}
	return placed
}

// authError marca los 401/403 de los endpoints autenticados como fatales.
func authError(err error) error {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		return fmt.Errorf("%w: %w", err, domain.ErrUnauthorized)
	}
	return err
}

func classifyOrderError(err error) error {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Unauthorized() {
			return authError(err)
		}
		return rejectionError(apiErr.Body)
	}
	if errors.Is(err, domain.ErrMalformed) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

func rejectionError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "balance") || strings.Contains(lower, "allowance") {
		return fmt.Errorf("%s: %w", msg, domain.ErrInsufficientBalance)
	}
	return fmt.Errorf("%s: %w", msg, domain.ErrRejected)
}

// parseAmount convierte los amounts decimales de la respuesta ("9.2").
func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// GetBalance devuelve el balance on-chain de USDC.e del funder.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	if tc.rpc == nil {
		return 0, errors.New("get balance: no rpc client")
	}
	callData, err := balanceOfABI.Pack("balanceOf", tc.funder)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w: %w", domain.ErrTransient, err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("get balance: unexpected type %T", vals[0])
	}
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return bal, nil
}
