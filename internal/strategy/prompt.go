package strategy

import (
	"fmt"
	"strings"
	"time"

	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/market"
	"llm-trading-arena/internal/portfolio"
)

// SystemPromptBuy frames the entry pass. The decision schema must stay in
// sync with the parser's accepted actions.
const SystemPromptBuy = `You are an autonomous cryptocurrency futures trader managing a simulated portfolio.

You are in the ENTRY pass: decide whether to open new positions based on the market data provided. You may open long positions (buy_to_enter) and, when shorting is enabled, short positions (sell_to_enter). Do not close positions in this pass.

Your response must be valid JSON, nothing else:
{
  "decisions": [
    {
      "action": "buy_to_enter" | "sell_to_enter" | "hold",
      "symbol": "SYMBOL",
      "quantity": number,
      "leverage": integer (1-125, or 0 to use your account default),
      "reasoning": "brief explanation"
    }
  ]
}

Respond with {"decisions": [{"action": "hold", "reasoning": "..."}]} when nothing is worth entering. Quantity is in base asset units. Respect the constraints in the user message; oversized or overleveraged decisions are rejected and count against you.`

// SystemPromptSell frames the exit pass over existing positions only.
const SystemPromptSell = `You are an autonomous cryptocurrency futures trader managing a simulated portfolio.

You are in the EXIT pass: review each open position listed in the user message and decide whether to close it, fully or partially. You may not open positions in this pass.

Your response must be valid JSON, nothing else:
{
  "decisions": [
    {
      "action": "close_position" | "stop_loss" | "take_profit" | "hold",
      "symbol": "SYMBOL",
      "quantity": number (0 closes the full position),
      "reasoning": "brief explanation"
    }
  ]
}

Use "stop_loss" when cutting a loss and "take_profit" when banking a gain; use "close_position" otherwise. Only reference symbols that appear in the open positions list.`

// ModelProfile is what the prompt reveals about the trading persona.
// BuyPrompt and SellPrompt are operator-authored system prompts; an empty
// one falls back to the built-in default for that pass.
type ModelProfile struct {
	Name       string
	BuyPrompt  string
	SellPrompt string
}

// Constraints are the account rules restated to the model each cycle.
type Constraints struct {
	MaxPositions    int
	DefaultLeverage int
	FeeRate         float64
	BuyBatchSize    int
	ShortingEnabled bool
}

// MarketView is one symbol's line in the prompt.
type MarketView struct {
	Quote      market.Quote
	Indicators market.Indicators
}

// TradeView is one line of trade history shown to the model, newest first.
// Failed decisions are included so the model sees its own rejections.
type TradeView struct {
	Symbol string
	Side   string
	Signal string
	Qty    float64
	Price  float64
	Pnl    float64
	Status string
	At     time.Time
}

// Input is everything a decision pass may see. Both passes are pure
// functions of this snapshot; nothing here mutates during the LLM call.
type Input struct {
	Profile      ModelProfile
	Constraints  Constraints
	Market       []MarketView
	RecentTrades []TradeView
	Snapshot     portfolio.Snapshot
}

func fmtFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

func fmtMA(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmtFloat(*v)
}

func writeMarketSection(b *strings.Builder, views []MarketView) {
	b.WriteString("## Market\n")
	if len(views) == 0 {
		b.WriteString("No market data available.\n")
		return
	}
	for _, v := range views {
		q := v.Quote
		fmt.Fprintf(b, "- %s: price %s, 24h %+.2f%%, 24h volume %s, MA5 %s, MA10 %s, MA20 %s\n",
			q.Symbol, fmtFloat(q.Price), q.Change24h, fmtFloat(q.QuoteVolume),
			fmtMA(v.Indicators.MA5), fmtMA(v.Indicators.MA10), fmtMA(v.Indicators.MA20))
	}
}

func writeAccountSection(b *strings.Builder, snap portfolio.Snapshot) {
	b.WriteString("\n## Account\n")
	fmt.Fprintf(b, "Cash: %s\nTotal value: %s\nRealized PnL: %s\nUnrealized PnL: %s\n",
		fmtFloat(snap.Cash), fmtFloat(snap.TotalValue),
		fmtFloat(snap.RealizedPnl), fmtFloat(snap.UnrealizedPnl))
}

func writePositionsSection(b *strings.Builder, positions []portfolio.Position, priceOf func(string) (float64, bool)) {
	b.WriteString("\n## Open positions\n")
	if len(positions) == 0 {
		b.WriteString("None.\n")
		return
	}
	for _, p := range positions {
		line := fmt.Sprintf("- %s %s: qty %s, entry %s, leverage %dx, margin %s",
			p.Symbol, p.Side, fmtFloat(p.Qty), fmtFloat(p.AvgPrice), p.Leverage, fmtFloat(p.Margin))
		if priceOf != nil {
			if price, ok := priceOf(p.Symbol); ok {
				line += fmt.Sprintf(", mark %s, unrealized %s", fmtFloat(price), fmtFloat(p.UnrealizedPnl(price)))
			}
		}
		b.WriteString(line + "\n")
	}
}

func writeRecentTradesSection(b *strings.Builder, trades []TradeView) {
	if len(trades) == 0 {
		return
	}
	b.WriteString("\n## Recent trades (newest first)\n")
	for _, tr := range trades {
		line := fmt.Sprintf("- %s %s %s %s: qty %s at %s",
			tr.At.UTC().Format("2006-01-02 15:04"), tr.Signal, tr.Side, tr.Symbol,
			fmtFloat(tr.Qty), fmtFloat(tr.Price))
		if tr.Pnl != 0 {
			line += ", pnl " + fmtFloat(tr.Pnl)
		}
		if tr.Status != "success" {
			line += " (" + tr.Status + ")"
		}
		b.WriteString(line + "\n")
	}
}

// unheldMarket drops the symbols with an open position; the entry pass only
// enumerates symbols the model could still enter.
func unheldMarket(views []MarketView, positions []portfolio.Position) []MarketView {
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}
	out := views[:0:0]
	for _, v := range views {
		if !held[v.Quote.Symbol] {
			out = append(out, v)
		}
	}
	return out
}

func pickSystem(custom, fallback string) string {
	if custom != "" {
		return custom
	}
	return fallback
}

// BuildBuyPrompt produces the entry-pass request.
func BuildBuyPrompt(in Input) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q.\n\n", in.Profile.Name)
	writeMarketSection(&b, unheldMarket(in.Market, in.Snapshot.Positions))
	writeAccountSection(&b, in.Snapshot)
	writePositionsSection(&b, in.Snapshot.Positions, nil)
	writeRecentTradesSection(&b, in.RecentTrades)

	b.WriteString("\n## Constraints\n")
	fmt.Fprintf(&b, "Max concurrent positions: %d (currently %d open)\n",
		in.Constraints.MaxPositions, len(in.Snapshot.Positions))
	fmt.Fprintf(&b, "Default leverage: %dx\n", in.Constraints.DefaultLeverage)
	fmt.Fprintf(&b, "Taker fee rate: %s\n", fmtFloat(in.Constraints.FeeRate))
	if in.Constraints.BuyBatchSize > 0 {
		fmt.Fprintf(&b, "At most %d entries will be applied this cycle.\n", in.Constraints.BuyBatchSize)
	}
	if in.Constraints.ShortingEnabled {
		b.WriteString("Shorting is enabled: sell_to_enter is allowed.\n")
	} else {
		b.WriteString("Shorting is disabled: do not use sell_to_enter.\n")
	}

	return llm.Request{System: pickSystem(in.Profile.BuyPrompt, SystemPromptBuy), User: b.String()}
}

// BuildSellPrompt produces the exit-pass request over the positions held at
// cycle start. priceOf supplies mark prices for unrealized PnL lines; nil is
// tolerated for symbols without a live quote.
func BuildSellPrompt(in Input, priceOf func(string) (float64, bool)) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q.\n\n", in.Profile.Name)
	writeMarketSection(&b, in.Market)
	writeAccountSection(&b, in.Snapshot)
	writePositionsSection(&b, in.Snapshot.Positions, priceOf)
	writeRecentTradesSection(&b, in.RecentTrades)

	return llm.Request{System: pickSystem(in.Profile.SellPrompt, SystemPromptSell), User: b.String()}
}
