package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/engine"
)

// TradeService executes swaps against the pool and serves trade history and
// prices.
type TradeService struct {
	markets *MarketService
	trades  domain.TradeStore
	prices  domain.PriceCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	markets *MarketService,
	trades domain.TradeStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		markets: markets,
		trades:  trades,
		prices:  prices,
		bus:     bus,
		logger:  logger.With(slog.String("component", "trade_service")),
	}
}

// Buy swaps collateral for outcome shares.
func (s *TradeService) Buy(ctx context.Context, marketID string, trader common.Address, outcome domain.Outcome, amountIn *big.Int) (domain.Trade, error) {
	return s.swap(ctx, marketID, func(m *engine.Market) (domain.Trade, error) {
		return m.Buy(ctx, trader, outcome, amountIn)
	})
}

// Sell swaps outcome shares back into collateral.
func (s *TradeService) Sell(ctx context.Context, marketID string, trader common.Address, outcome domain.Outcome, sharesIn *big.Int) (domain.Trade, error) {
	return s.swap(ctx, marketID, func(m *engine.Market) (domain.Trade, error) {
		return m.Sell(ctx, trader, outcome, sharesIn)
	})
}

func (s *TradeService) swap(ctx context.Context, marketID string, op func(*engine.Market) (domain.Trade, error)) (domain.Trade, error) {
	m, unlock, err := s.markets.acquire(ctx, marketID)
	if err != nil {
		return domain.Trade{}, err
	}
	defer unlock()

	trade, err := op(m)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: %s: %w", marketID, err)
	}

	snap := m.Snapshot()
	if err := s.markets.persistSnapshot(ctx, snap); err != nil {
		return domain.Trade{}, err
	}

	id, err := s.trades.Insert(ctx, trade)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: persist trade %s: %w", marketID, err)
	}
	trade.ID = id

	s.fanOut(ctx, trade, m.Prices())

	s.logger.InfoContext(ctx, "trade executed",
		slog.String("market_id", marketID),
		slog.String("side", string(trade.Side)),
		slog.String("outcome", string(trade.Outcome)),
		slog.String("amount_in", trade.AmountIn.String()),
		slog.String("amount_out", trade.AmountOut.String()),
	)
	return trade, nil
}

// fanOut refreshes the price cache and publishes trade and price events.
// All of it is best-effort; the trade has already been committed.
func (s *TradeService) fanOut(ctx context.Context, trade domain.Trade, prices domain.Prices) {
	now := time.Now().UTC()

	if err := s.prices.SetPrices(ctx, trade.MarketID, prices, now); err != nil {
		s.logger.WarnContext(ctx, "price cache set failed",
			slog.String("market_id", trade.MarketID),
			slog.String("error", err.Error()),
		)
	}

	tradeEvt, _ := json.Marshal(domain.TradeEvent{
		MarketID:  trade.MarketID,
		Trader:    trade.Trader.Hex(),
		Side:      trade.Side,
		Outcome:   trade.Outcome,
		AmountIn:  trade.AmountIn.String(),
		AmountOut: trade.AmountOut.String(),
		Fee:       trade.Fee.String(),
		PriceYes:  trade.PriceYes,
		At:        now,
	})
	if err := s.bus.Publish(ctx, domain.ChannelTrade, tradeEvt); err != nil {
		s.logger.WarnContext(ctx, "trade publish failed",
			slog.String("market_id", trade.MarketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.ChannelTrade, tradeEvt); err != nil {
		s.logger.WarnContext(ctx, "trade stream append failed",
			slog.String("market_id", trade.MarketID),
			slog.String("error", err.Error()),
		)
	}

	priceEvt, _ := json.Marshal(domain.PriceEvent{
		MarketID: trade.MarketID,
		Yes:      prices.Yes,
		No:       prices.No,
		At:       now,
	})
	if err := s.bus.Publish(ctx, domain.ChannelPrice+trade.MarketID, priceEvt); err != nil {
		s.logger.WarnContext(ctx, "price publish failed",
			slog.String("market_id", trade.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// Prices returns the current normalized price pair for a market, preferring
// the cache and falling back to the live pool.
func (s *TradeService) Prices(ctx context.Context, marketID string) (domain.Prices, error) {
	if p, _, err := s.prices.GetPrices(ctx, marketID); err == nil {
		return p, nil
	}

	m, err := s.markets.registry.Get(marketID)
	if err != nil {
		return domain.Prices{}, fmt.Errorf("trade_service: prices %s: %w", marketID, err)
	}
	p := m.Prices()

	if err := s.prices.SetPrices(ctx, marketID, p, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "price cache backfill failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return p, nil
}

// ListByMarket returns trades for a market, newest first.
func (s *TradeService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list %q: %w", marketID, err)
	}
	return trades, nil
}
