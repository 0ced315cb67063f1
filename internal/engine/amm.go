package engine

import (
	"fmt"
	"math/big"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// feeDenominatorBps converts basis points to a fraction.
const feeDenominatorBps = 10_000

// swapQuote is the outcome of pricing one trade against the pool. Reserves
// are virtual collateral-denominated balances: on a buy the entire input
// (fee included) lands in the opposite reserve, which is what makes k
// strictly increase whenever the fee rate is positive; on a sell the fee
// is withheld from the payout and stays in the collateral-side reserve.
type swapQuote struct {
	fee       *big.Int
	amountOut *big.Int
	// reserves after the trade
	reserveIn  *big.Int // side the input lands on
	reserveOut *big.Int // side the output is drawn from
}

// quoteBuy prices a constant-product purchase of outcome shares.
// reserveOut is the reserve of the side being bought, reserveIn the
// opposite side. amountIn is collateral paid by the trader.
func quoteBuy(reserveOut, reserveIn, amountIn *big.Int, feeRateBps int64) (swapQuote, error) {
	fee := feeOf(amountIn, feeRateBps)
	netIn := new(big.Int).Sub(amountIn, fee)
	if netIn.Sign() <= 0 {
		return swapQuote{}, fmt.Errorf("engine: input consumed by fee: %w", domain.ErrBelowMinimum)
	}

	// sharesOut = reserveOut - reserveOut*reserveIn/(reserveIn + netIn)
	//           = reserveOut*netIn/(reserveIn + netIn), floored so rounding
	// always favors the pool.
	denom := new(big.Int).Add(reserveIn, netIn)
	out := new(big.Int).Mul(reserveOut, netIn)
	out.Quo(out, denom)

	if out.Sign() <= 0 || out.Cmp(reserveOut) >= 0 {
		return swapQuote{}, fmt.Errorf("engine: trade would drain reserve: %w", domain.ErrInsufficientLiquidity)
	}

	return swapQuote{
		fee:        fee,
		amountOut:  out,
		reserveIn:  new(big.Int).Add(reserveIn, amountIn),
		reserveOut: new(big.Int).Sub(reserveOut, out),
	}, nil
}

// quoteSell prices a constant-product sale of outcome shares back into
// collateral. reserveIn is the reserve of the side being sold into,
// reserveOut the opposite (collateral-receiving) side. amountIn is shares
// surrendered by the trader. The fee is taken from the gross payout and
// left in reserveOut.
func quoteSell(reserveIn, reserveOut, amountIn *big.Int, feeRateBps int64) (swapQuote, error) {
	// grossOut = reserveOut*amountIn/(reserveIn + amountIn), floored.
	denom := new(big.Int).Add(reserveIn, amountIn)
	gross := new(big.Int).Mul(reserveOut, amountIn)
	gross.Quo(gross, denom)

	fee := feeOf(gross, feeRateBps)
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() <= 0 || net.Cmp(reserveOut) >= 0 {
		return swapQuote{}, fmt.Errorf("engine: trade would drain reserve: %w", domain.ErrInsufficientLiquidity)
	}

	return swapQuote{
		fee:        fee,
		amountOut:  net,
		reserveIn:  new(big.Int).Add(reserveIn, amountIn),
		reserveOut: new(big.Int).Sub(reserveOut, net),
	}, nil
}

// feeOf returns amount*feeRateBps/10000, floored.
func feeOf(amount *big.Int, feeRateBps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(feeRateBps))
	return fee.Quo(fee, big.NewInt(feeDenominatorBps))
}

// normalizedPrices derives the YES/NO price pair from the reserves. The
// YES price is the NO reserve's share of the combined reserves, so a
// depleted YES reserve (heavy YES buying) reads as a high YES price.
func normalizedPrices(reserveYes, reserveNo *big.Int) domain.Prices {
	if reserveYes == nil || reserveNo == nil || reserveYes.Sign() <= 0 || reserveNo.Sign() <= 0 {
		return domain.Prices{}
	}
	sum := new(big.Float).SetInt(new(big.Int).Add(reserveYes, reserveNo))
	yes, _ := new(big.Float).Quo(new(big.Float).SetInt(reserveNo), sum).Float64()
	no, _ := new(big.Float).Quo(new(big.Float).SetInt(reserveYes), sum).Float64()
	return domain.Prices{Yes: yes, No: no}
}
