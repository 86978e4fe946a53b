package polymarket

// auth.go: autenticación del CLOB de Polymarket.
//
// Dos niveles:
//   L1: firma EIP-712 con la private key → deriva credenciales de API
//   L2: HMAC-SHA256 de cada request autenticado

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// Taker cero = orden pública
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

var errNoCreds = errors.New("auth: credentials not derived yet")

// apiCredentials son las credenciales L2 derivadas de la wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Signer firma órdenes y requests con la private key de la wallet.
type Signer struct {
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      int64
	orderBuilder builder.ExchangeOrderBuilder
	now          func() time.Time

	mu    sync.RWMutex
	creds *apiCredentials
}

// NewSigner crea un Signer. privateKeyHex puede llevar o no el prefijo 0x.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &Signer{
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), nil),
		now:          time.Now,
	}, nil
}

// Address devuelve la dirección de la wallet.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey expone la key para el redeemer on-chain.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

func (s *Signer) setCreds(c apiCredentials) {
	s.mu.Lock()
	s.creds = &c
	s.mu.Unlock()
}

func (s *Signer) getCreds() (apiCredentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return apiCredentials{}, false
	}
	return *s.creds, true
}

// Hashes de tipos EIP-712 (calculados una vez).
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

func (s *Signer) clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(s.chainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// l1Headers firma ClobAuth y devuelve las cabeceras de derive-api-key.
func (s *Signer) l1Headers() (http.Header, error) {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	sig, err := s.signClobAuth(ts, 0)
	if err != nil {
		return nil, fmt.Errorf("auth: sign l1: %w", err)
	}
	h := http.Header{}
	h.Set("POLY_ADDRESS", s.address.Hex())
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_NONCE", "0")
	return h, nil
}

// signClobAuth firma el typed data ClobAuth para L1.
func (s *Signer) signClobAuth(timestamp string, nonce int64) (string, error) {
	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(s.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, s.clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), s.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig), nil
}

// l2Headers devuelve las cabeceras HMAC de un request L2. Se llama en cada
// intento para que el timestamp sea fresco.
func (s *Signer) l2Headers(method, path, body string) (http.Header, error) {
	creds, ok := s.getCreds()
	if !ok {
		return nil, errNoCreds
	}

	ts := strconv.FormatInt(s.now().Unix(), 10)
	sig, err := hmacSignature(creds.Secret, ts+strings.ToUpper(method)+path+body)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("POLY_ADDRESS", s.address.Hex())
	h.Set("POLY_SIGNATURE", sig)
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_API_KEY", creds.APIKey)
	h.Set("POLY_PASSPHRASE", creds.Passphrase)
	return h, nil
}

func hmacSignature(secret, msg string) (string, error) {
	secretBytes, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: decode secret: %w", err)
	}
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// orderAmounts calcula maker/taker amounts en unidades de 1e6.
// Aritmética entera: el CLOB verifica makerAmount == price * takerAmount exacto.
//   BUY:  maker entrega USDC, taker entrega shares
//   SELL: maker entrega shares, taker entrega USDC
func orderAmounts(side domain.Side, price, shares float64) (maker, taker int64, err error) {
	pricePrecision := detectPricePrecision(price)
	priceInt := int64(math.Round(price * float64(pricePrecision)))
	sharesCents := int64(math.Floor(shares*100 + 1e-9))

	amountFactor := int64(1_000_000) / (100 * pricePrecision)
	usdc := sharesCents * priceInt * amountFactor
	units := sharesCents * 10000

	if usdc <= 0 || units <= 0 {
		return 0, 0, fmt.Errorf("invalid amounts: usdc=%d shares=%d (price=%.4f size=%.4f): %w",
			usdc, units, price, shares, domain.ErrRejected)
	}
	if side == domain.Sell {
		return units, usdc, nil
	}
	return usdc, units, nil
}

// buildSignedOrder crea una orden EIP-712 firmada. order.Size va en shares.
func (s *Signer) buildSignedOrder(order domain.LimitOrder) (*gomodel.SignedOrder, error) {
	maker, taker, err := orderAmounts(order.Side, order.Price, order.Size)
	if err != nil {
		return nil, err
	}

	verifyingContract := gomodel.CTFExchange
	if order.NegRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	}
	side := gomodel.BUY
	if order.Side == domain.Sell {
		side = gomodel.SELL
	}

	orderData := &gomodel.OrderData{
		Maker:         s.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       order.TokenID,
		MakerAmount:   strconv.FormatInt(maker, 10),
		TakerAmount:   strconv.FormatInt(taker, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        s.address.Hex(),
		Expiration:    "0",
		Side:          side,
		SignatureType: gomodel.EOA,
	}

	signed, err := s.orderBuilder.BuildSignedOrder(s.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// detectPricePrecision devuelve el multiplicador del tick del mercado.
// p.ej. price=0.60 → 100 (tick 0.01), price=0.673 → 1000 (tick 0.001).
func detectPricePrecision(price float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		rounded := math.Round(price * float64(prec))
		if math.Abs(rounded/float64(prec)-price) < 1e-10 {
			return prec
		}
	}
	return 100
}
