package domain

import "time"

// Signal bus channels. Per-market channels carry the market ID suffix so
// clients can pattern-subscribe (for example "ch:price:*").
const (
	ChannelPhase = "ch:phase"
	ChannelTrade = "ch:trade"
	ChannelPrice = "ch:price:" // + market ID
)

// PhaseEvent announces a phase transition on the signal bus.
type PhaseEvent struct {
	MarketID string    `json:"market_id"`
	From     Phase     `json:"from"`
	To       Phase     `json:"to"`
	Criteria string    `json:"criteria,omitempty"`
	At       time.Time `json:"at"`
}

// PriceEvent announces a new normalized price pair after a trade.
type PriceEvent struct {
	MarketID string    `json:"market_id"`
	Yes      float64   `json:"yes"`
	No       float64   `json:"no"`
	At       time.Time `json:"at"`
}

// TradeEvent announces an executed pool trade.
type TradeEvent struct {
	MarketID  string    `json:"market_id"`
	Trader    string    `json:"trader"`
	Side      TradeSide `json:"side"`
	Outcome   Outcome   `json:"outcome"`
	AmountIn  string    `json:"amount_in"`
	AmountOut string    `json:"amount_out"`
	Fee       string    `json:"fee"`
	PriceYes  float64   `json:"price_yes"`
	At        time.Time `json:"at"`
}
