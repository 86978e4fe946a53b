package config

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// SlippageReference selects the price the slippage bound is measured against.
type SlippageReference string

const (
	// ReferenceTargetPrice divides the adverse move by the target's fill price.
	ReferenceTargetPrice SlippageReference = "target_price"
	// ReferenceMarketPrice divides the adverse move by the current best quote.
	ReferenceMarketPrice SlippageReference = "market_price"
)

var walletRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Settings son las opciones que el dashboard puede leer y modificar en caliente.
type Settings struct {
	TargetWallet            string            `yaml:"target_wallet" json:"target_wallet"`
	MinTradeAmount          float64           `yaml:"min_trade_amount" json:"min_trade_amount"`
	MaxTradeAmount          float64           `yaml:"max_trade_amount" json:"max_trade_amount"` // presupuesto por mercado en USDC
	MinPrice                float64           `yaml:"min_price" json:"min_price"`
	MaxPrice                float64           `yaml:"max_price" json:"max_price"`
	MaxSlippage             float64           `yaml:"max_slippage" json:"max_slippage"`
	SlippageReference       SlippageReference `yaml:"slippage_reference" json:"slippage_reference"`
	SkipOppositeSide        bool              `yaml:"skip_opposite_side" json:"skip_opposite_side"`
	PollIntervalSeconds     int               `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	ConfidenceThreshold     float64           `yaml:"confidence_threshold" json:"confidence_threshold"`
	DryRun                  bool              `yaml:"dry_run" json:"dry_run"`
	ResolutionMaxPrice      float64           `yaml:"resolution_max_price" json:"resolution_max_price"`
	ResolutionPositionSize  float64           `yaml:"resolution_position_size" json:"resolution_position_size"`
	NearResolutionThreshold float64           `yaml:"near_resolution_threshold" json:"near_resolution_threshold"`
	DominantSideMin         float64           `yaml:"dominant_side_min" json:"dominant_side_min"`
}

// DefaultSettings devuelve los valores por defecto del bot.
func DefaultSettings() Settings {
	return Settings{
		MinTradeAmount:         1,
		MaxTradeAmount:         25,
		MinPrice:               0.10,
		MaxPrice:               0.80,
		MaxSlippage:            0.10,
		SlippageReference:      ReferenceTargetPrice,
		SkipOppositeSide:       true,
		PollIntervalSeconds:    5,
		ConfidenceThreshold:    0.90,
		DryRun:                 true,
		ResolutionMaxPrice:     0.97,
		ResolutionPositionSize: 50,
	}
}

// PollInterval devuelve el intervalo de poll de la wallet como time.Duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Validate comprueba rangos y coherencia entre campos.
func (s Settings) Validate() error {
	var errs []error
	if s.TargetWallet != "" && !walletRe.MatchString(s.TargetWallet) {
		errs = append(errs, fmt.Errorf("target_wallet %q is not a 0x address", s.TargetWallet))
	}
	if s.MinTradeAmount < 0 || s.MaxTradeAmount < 0 || s.ResolutionPositionSize < 0 {
		errs = append(errs, errors.New("amounts must be non-negative"))
	}
	if s.MinPrice < 0 || s.MaxPrice > 1 || s.MinPrice > s.MaxPrice {
		errs = append(errs, fmt.Errorf("price band [%.2f, %.2f] invalid", s.MinPrice, s.MaxPrice))
	}
	if s.MaxSlippage < 0 || s.MaxSlippage >= 1 {
		errs = append(errs, fmt.Errorf("max_slippage %.3f outside [0, 1)", s.MaxSlippage))
	}
	if s.SlippageReference != ReferenceTargetPrice && s.SlippageReference != ReferenceMarketPrice {
		errs = append(errs, fmt.Errorf("slippage_reference %q must be %s or %s",
			s.SlippageReference, ReferenceTargetPrice, ReferenceMarketPrice))
	}
	if s.PollIntervalSeconds < 1 {
		errs = append(errs, errors.New("poll_interval_seconds must be >= 1"))
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold %.2f outside [0, 1]", s.ConfidenceThreshold))
	}
	if s.ResolutionMaxPrice <= 0 || s.ResolutionMaxPrice >= 1 {
		errs = append(errs, fmt.Errorf("resolution_max_price %.2f outside (0, 1)", s.ResolutionMaxPrice))
	}
	if s.NearResolutionThreshold != 0 && (s.NearResolutionThreshold <= 0.5 || s.NearResolutionThreshold >= 1) {
		errs = append(errs, fmt.Errorf("near_resolution_threshold %.2f must be 0 or in (0.5, 1)", s.NearResolutionThreshold))
	}
	if s.DominantSideMin != 0 && (s.DominantSideMin <= 0.5 || s.DominantSideMin >= 1) {
		errs = append(errs, fmt.Errorf("dominant_side_min %.2f must be 0 or in (0.5, 1)", s.DominantSideMin))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// SettingsPatch es una actualización parcial; los campos nil no cambian.
type SettingsPatch struct {
	TargetWallet            *string            `json:"target_wallet,omitempty"`
	MinTradeAmount          *float64           `json:"min_trade_amount,omitempty"`
	MaxTradeAmount          *float64           `json:"max_trade_amount,omitempty"`
	MinPrice                *float64           `json:"min_price,omitempty"`
	MaxPrice                *float64           `json:"max_price,omitempty"`
	MaxSlippage             *float64           `json:"max_slippage,omitempty"`
	SlippageReference       *SlippageReference `json:"slippage_reference,omitempty"`
	SkipOppositeSide        *bool              `json:"skip_opposite_side,omitempty"`
	PollIntervalSeconds     *int               `json:"poll_interval_seconds,omitempty"`
	ConfidenceThreshold     *float64           `json:"confidence_threshold,omitempty"`
	DryRun                  *bool              `json:"dry_run,omitempty"`
	ResolutionMaxPrice      *float64           `json:"resolution_max_price,omitempty"`
	ResolutionPositionSize  *float64           `json:"resolution_position_size,omitempty"`
	NearResolutionThreshold *float64           `json:"near_resolution_threshold,omitempty"`
	DominantSideMin         *float64           `json:"dominant_side_min,omitempty"`
}

// TouchesSession devuelve true si el patch cambia algo que define la sesión
// (wallet objetivo o modo de ejecución).
func (p SettingsPatch) TouchesSession() bool {
	return p.TargetWallet != nil || p.DryRun != nil
}

// Apply devuelve una copia de s con el patch aplicado.
func (p SettingsPatch) Apply(s Settings) Settings {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	if p.TargetWallet != nil {
		s.TargetWallet = *p.TargetWallet
	}
	set(&s.MinTradeAmount, p.MinTradeAmount)
	set(&s.MaxTradeAmount, p.MaxTradeAmount)
	set(&s.MinPrice, p.MinPrice)
	set(&s.MaxPrice, p.MaxPrice)
	set(&s.MaxSlippage, p.MaxSlippage)
	if p.SlippageReference != nil {
		s.SlippageReference = *p.SlippageReference
	}
	if p.SkipOppositeSide != nil {
		s.SkipOppositeSide = *p.SkipOppositeSide
	}
	if p.PollIntervalSeconds != nil {
		s.PollIntervalSeconds = *p.PollIntervalSeconds
	}
	set(&s.ConfidenceThreshold, p.ConfidenceThreshold)
	if p.DryRun != nil {
		s.DryRun = *p.DryRun
	}
	set(&s.ResolutionMaxPrice, p.ResolutionMaxPrice)
	set(&s.ResolutionPositionSize, p.ResolutionPositionSize)
	set(&s.NearResolutionThreshold, p.NearResolutionThreshold)
	set(&s.DominantSideMin, p.DominantSideMin)
	return s
}

// SettingsStore guarda los Settings vigentes. Los ciclos leen una copia al
// empezar, así un cambio nunca se ve a mitad de ciclo.
type SettingsStore struct {
	mu sync.RWMutex
	s  Settings
}

// NewSettingsStore crea el store con los settings iniciales.
func NewSettingsStore(s Settings) *SettingsStore {
	return &SettingsStore{s: s}
}

// Get devuelve una copia de los settings actuales.
func (st *SettingsStore) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Update aplica el patch si el resultado es válido.
func (st *SettingsStore) Update(p SettingsPatch) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := p.Apply(st.s)
	if err := next.Validate(); err != nil {
		return st.s, err
	}
	st.s = next
	return next, nil
}
