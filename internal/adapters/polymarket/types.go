package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Data API ---

// rawActivity es una entrada de GET /activity.
type rawActivity struct {
	ProxyWallet     string      `json:"proxyWallet"`
	Type            string      `json:"type"`
	ConditionID     string      `json:"conditionId"`
	Asset           string      `json:"asset"`
	Side            string      `json:"side"`
	Outcome         string      `json:"outcome"`
	Title           string      `json:"title"`
	Price           json.Number `json:"price"`
	Size            json.Number `json:"size"`
	USDCSize        json.Number `json:"usdcSize"`
	Timestamp       json.Number `json:"timestamp"`
	TransactionHash string      `json:"transactionHash"`
}

// rawPosition es una entrada de GET /positions.
type rawPosition struct {
	ConditionID  string      `json:"conditionId"`
	Outcome      string      `json:"outcome"`
	OutcomeIndex int         `json:"outcomeIndex"`
	Size         json.Number `json:"size"`
}

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Market  string         `json:"market"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata de un mercado. Gamma devuelve outcomes,
// outcomePrices y clobTokenIds como arrays JSON codificados en un string.
type gammaMarket struct {
	ConditionID         string `json:"conditionId"`
	Question            string `json:"question"`
	Slug                string `json:"slug"`
	EndDate             string `json:"endDate"`
	EndDateISO          string `json:"endDateIso"`
	Outcomes            string `json:"outcomes"`
	OutcomePrices       string `json:"outcomePrices"`
	ClobTokenIDs        string `json:"clobTokenIds"`
	Active              bool   `json:"active"`
	Closed              bool   `json:"closed"`
	NegRisk             bool   `json:"negRisk"`
	UMAResolutionStatus string `json:"umaResolutionStatus"`
}
