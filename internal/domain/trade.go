package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeSide distinguishes pool-facing buys from sells.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Outcome names one of the two binary outcome tokens.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Trade is an executed swap against a market's pool.
type Trade struct {
	ID         int64
	MarketID   string
	Trader     common.Address
	Side       TradeSide
	Outcome    Outcome
	AmountIn   *big.Int // collateral for buys, shares for sells
	AmountOut  *big.Int // shares for buys, collateral for sells
	Fee        *big.Int // denominated like AmountIn for buys, collateral for sells
	PriceYes   float64  // normalized YES price after the trade
	ExecutedAt time.Time
}
