package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Bot        Settings         `yaml:"bot"`
	Activity   ActivityConfig   `yaml:"activity"`
	Resolution ResolutionConfig `yaml:"resolution"`
	Paper      PaperConfig      `yaml:"paper"`
	Live       LiveConfig       `yaml:"live"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Log        LogConfig        `yaml:"log"`
}

// ActivityConfig controla el poller de actividad de la wallet objetivo.
type ActivityConfig struct {
	PageSize           int  `yaml:"page_size"`
	MaxPages           int  `yaml:"max_pages"`
	SeenCapacity       int  `yaml:"seen_capacity"`
	SkipHistoryOnStart bool `yaml:"skip_history_on_start"` // el primer poll sólo marca como vistos
}

// ResolutionConfig controla el agregador de oráculos y la liquidación.
type ResolutionConfig struct {
	Enabled               bool     `yaml:"enabled"`
	OracleIntervalSeconds int      `yaml:"oracle_interval_seconds"`
	SettleIntervalSeconds int      `yaml:"settle_interval_seconds"`
	OracleTimeoutSeconds  int      `yaml:"oracle_timeout_seconds"`
	Workers               int      `yaml:"workers"`
	CandidateLimit        int      `yaml:"candidate_limit"`
	LikelyPrice           float64  `yaml:"likely_price"`    // consenso: precio líder para LIKELY
	EffectivePrice        float64  `yaml:"effective_price"` // consenso: precio líder tras el cierre para EFFECTIVELY_RESOLVED
	MinPriceMove          float64  `yaml:"min_price_move"`  // price feed: movimiento relativo mínimo para confianza alta
	Leagues               []string `yaml:"leagues"`         // ESPN: "football/nfl", "basketball/nba", ...
}

// PaperConfig controla la simulación de fills.
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	SlippageModel  string  `yaml:"slippage_model"` // none | tiered
	SmallBps       float64 `yaml:"small_bps"`      // notional <= 10
	MediumBps      float64 `yaml:"medium_bps"`     // notional <= 50
	LargeBps       float64 `yaml:"large_bps"`      // notional > 50
}

// LiveConfig contiene credenciales y parámetros de ejecución real.
type LiveConfig struct {
	PrivateKey    string `yaml:"-"` // sólo desde POLY_PRIVATE_KEY
	Funder        string `yaml:"funder"`
	RPCURL        string `yaml:"rpc_url"`
	ChainID       int64  `yaml:"chain_id"`
	OrderAttempts int    `yaml:"order_attempts"`
	BaseDelayMs   int    `yaml:"base_delay_ms"`
	MaxDelayMs    int    `yaml:"max_delay_ms"`
	AutoRedeem    bool   `yaml:"auto_redeem"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase    string `yaml:"clob_base"`
	GammaBase   string `yaml:"gamma_base"`
	DataBase    string `yaml:"data_base"`
	BinanceBase string `yaml:"binance_base"`
	ESPNBase    string `yaml:"espn_base"`
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// DashboardConfig controla la superficie HTTP/WebSocket.
type DashboardConfig struct {
	Addr        string `yaml:"addr"` // sin autenticación: por defecto solo loopback
	HistorySize int    `yaml:"history_size"`
}

// TelegramConfig activa el notificador de Telegram cuando token y chat están presentes.
type TelegramConfig struct {
	Token  string `yaml:"-"`
	ChatID int64  `yaml:"chat_id"`
}

// Enabled devuelve true si hay credenciales de Telegram.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default devuelve la configuración por defecto. Load parte de ella, así las
// keys ausentes del YAML conservan su valor (incluidos los bool a true).
func Default() Config {
	return Config{
		Bot: DefaultSettings(),
		Activity: ActivityConfig{
			PageSize:           50,
			MaxPages:           3,
			SeenCapacity:       10000,
			SkipHistoryOnStart: true,
		},
		Resolution: ResolutionConfig{
			Enabled:               true,
			OracleIntervalSeconds: 30,
			SettleIntervalSeconds: 60,
			OracleTimeoutSeconds:  8,
			Workers:               4,
			CandidateLimit:        100,
			LikelyPrice:           0.80,
			EffectivePrice:        0.95,
			MinPriceMove:          0.001,
			Leagues: []string{
				"football/nfl", "basketball/nba", "baseball/mlb", "hockey/nhl",
				"football/college-football", "basketball/mens-college-basketball",
			},
		},
		Paper: PaperConfig{
			InitialBalance: 1000,
			SlippageModel:  "tiered",
			SmallBps:       55,
			MediumBps:      115,
			LargeBps:       225,
		},
		Live: LiveConfig{
			RPCURL:        "https://polygon-rpc.com",
			ChainID:       137,
			OrderAttempts: 4,
			BaseDelayMs:   500,
			MaxDelayMs:    5000,
			AutoRedeem:    true,
		},
		Dashboard: DashboardConfig{Addr: "127.0.0.1:8080", HistorySize: 200},
	}
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Bot.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// OracleInterval devuelve el intervalo del poll de oráculos.
func (c *Config) OracleInterval() time.Duration {
	return time.Duration(c.Resolution.OracleIntervalSeconds) * time.Second
}

// SettleInterval devuelve el intervalo del chequeo de mercados resueltos.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.Resolution.SettleIntervalSeconds) * time.Second
}

// OracleTimeout devuelve el timeout por fuente de oráculo.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Resolution.OracleTimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLY_TARGET_WALLET"); v != "" {
		cfg.Bot.TargetWallet = v
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.Live.PrivateKey = v
	}
	if v := os.Getenv("POLY_FUNDER"); v != "" {
		cfg.Live.Funder = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Live.RPCURL = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bot.DryRun = b
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Bot.PollIntervalSeconds <= 0 {
		cfg.Bot.PollIntervalSeconds = 5
	}
	if cfg.Bot.SlippageReference == "" {
		cfg.Bot.SlippageReference = ReferenceTargetPrice
	}
	if cfg.Activity.PageSize <= 0 {
		cfg.Activity.PageSize = 50
	}
	if cfg.Activity.MaxPages <= 0 {
		cfg.Activity.MaxPages = 1
	}
	if cfg.Activity.SeenCapacity <= 0 {
		cfg.Activity.SeenCapacity = 10000
	}
	if cfg.Resolution.OracleIntervalSeconds <= 0 {
		cfg.Resolution.OracleIntervalSeconds = 30
	}
	if cfg.Resolution.SettleIntervalSeconds <= 0 {
		cfg.Resolution.SettleIntervalSeconds = 60
	}
	if cfg.Resolution.OracleTimeoutSeconds <= 0 {
		cfg.Resolution.OracleTimeoutSeconds = 8
	}
	if cfg.Resolution.Workers <= 0 {
		cfg.Resolution.Workers = 4
	}
	if cfg.Paper.InitialBalance <= 0 {
		cfg.Paper.InitialBalance = 1000
	}
	if cfg.Live.ChainID == 0 {
		cfg.Live.ChainID = 137
	}
	if cfg.Live.OrderAttempts <= 0 {
		cfg.Live.OrderAttempts = 1
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.BinanceBase == "" {
		cfg.API.BinanceBase = "https://api.binance.com"
	}
	if cfg.API.ESPNBase == "" {
		cfg.API.ESPNBase = "https://site.api.espn.com/apis/site/v2/sports"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polycopy.db"
	}
	if cfg.Dashboard.HistorySize <= 0 {
		cfg.Dashboard.HistorySize = 200
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
