package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTrade_Validate(t *testing.T) {
	price := decimal.NewFromInt(43000)
	zero := decimal.Zero

	tests := []struct {
		name    string
		trade   Trade
		wantErr bool
	}{
		{"market buy", NewTrade("BTC-USD", SideBuy, decimal.NewFromInt(3), OrderTypeMarket), false},
		{"limit with price", Trade{Pair: "BTC-USD", Side: SideSell, Amount: decimal.NewFromInt(1), OrderType: OrderTypeLimit, Price: &price}, false},
		{"limit without price", Trade{Pair: "BTC-USD", Side: SideSell, Amount: decimal.NewFromInt(1), OrderType: OrderTypeLimit}, true},
		{"limit zero price", Trade{Pair: "BTC-USD", Side: SideSell, Amount: decimal.NewFromInt(1), OrderType: OrderTypeLimit, Price: &zero}, true},
		{"empty pair", Trade{Side: SideBuy, Amount: decimal.NewFromInt(1), OrderType: OrderTypeMarket}, true},
		{"bad side", Trade{Pair: "X", Side: "hold", Amount: decimal.NewFromInt(1), OrderType: OrderTypeMarket}, true},
		{"zero amount", Trade{Pair: "X", Side: SideBuy, Amount: decimal.Zero, OrderType: OrderTypeMarket}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trade.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSideAndOrderType(t *testing.T) {
	if s, ok := ParseSide(" SELL "); !ok || s != SideSell {
		t.Fatalf("ParseSide: got %q %v", s, ok)
	}
	if _, ok := ParseSide("short"); ok {
		t.Fatalf("ParseSide should reject unknown side")
	}
	if ot, ok := ParseOrderType(""); !ok || ot != OrderTypeMarket {
		t.Fatalf("ParseOrderType empty: got %q %v", ot, ok)
	}
	if _, ok := ParseOrderType("stop"); ok {
		t.Fatalf("ParseOrderType should reject stop")
	}
}
