package polymarket

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polycopy/internal/adapters/httpclient"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"
	defaultDataBase  = "https://data-api.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// CLOB /books: 500/10s → 300/10s → 30/s
	booksRatePerSec = 30
	// Gamma /markets: 300/10s → 180/10s → 18/s
	gammaRatePerSec = 18
	// Data API /activity: 200/10s → 120/10s → 12/s
	dataRatePerSec = 12
	// CLOB general (order, auth): 9000/10s → 5400/10s → 540/s
	generalRatePerSec = 540
)

// Endpoints agrupa los base URLs de las tres APIs.
type Endpoints struct {
	CLOB  string
	Gamma string
	Data  string
}

// Client es el cliente de lectura de Polymarket: actividad de wallets,
// mercados de Gamma y orderbooks del CLOB.
type Client struct {
	http         *httpclient.Client
	clobBase     string
	gammaBase    string
	dataBase     string
	clobLimiter  *rate.Limiter
	gammaLimiter *rate.Limiter
	booksLimiter *rate.Limiter
	dataLimiter  *rate.Limiter
	now          func() time.Time
}

// NewClient crea un Client. Los base URLs vacíos usan los de producción.
func NewClient(ep Endpoints, opts ...httpclient.Option) *Client {
	if ep.CLOB == "" {
		ep.CLOB = defaultCLOBBase
	}
	if ep.Gamma == "" {
		ep.Gamma = defaultGammaBase
	}
	if ep.Data == "" {
		ep.Data = defaultDataBase
	}
	return &Client{
		http:         httpclient.New(opts...),
		clobBase:     ep.CLOB,
		gammaBase:    ep.Gamma,
		dataBase:     ep.Data,
		clobLimiter:  rate.NewLimiter(generalRatePerSec, 50),
		gammaLimiter: rate.NewLimiter(gammaRatePerSec, 10),
		booksLimiter: rate.NewLimiter(booksRatePerSec, 5),
		dataLimiter:  rate.NewLimiter(dataRatePerSec, 5),
		now:          time.Now,
	}
}
