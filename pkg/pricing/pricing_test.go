package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/menta2k/drink-preview/pkg/types"
)

type mapSource struct {
	prices map[Category]map[string]float64
	err    error
}

func (m mapSource) Price(ctx context.Context, cat Category, name string) (float64, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	p, ok := m.prices[cat][name]
	return p, ok, nil
}

var menu = mapSource{prices: map[Category]map[string]float64{
	CategoryBase:    {"Latte": 3.95},
	CategorySize:    {"Grande": 0.5},
	CategoryMilk:    {"Oat Milk": 0.7},
	CategorySyrup:   {"Vanilla": 0.6, "Caramel": 0.6},
	CategoryTopping: {"Whipped Cream": 0.5},
}}

func TestCalculate(t *testing.T) {
	cfg := types.DrinkConfig{
		Base:     "Latte",
		Size:     "Grande",
		Milk:     "Oat Milk",
		Syrups:   []types.SyrupSelection{{Name: "Vanilla", PumpCount: 3}, {Name: "Caramel", PumpCount: 9}},
		Toppings: []string{"Whipped Cream", "Unicorn Dust"},
	}
	b, err := NewCalculator(menu, nil).Calculate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// Caramel pumps clamp to 5: 0.6*3 + 0.6*5 = 4.8.
	if b.Syrups != 4.8 {
		t.Errorf("syrups = %v, want 4.8", b.Syrups)
	}
	if b.Toppings != 0.5 {
		t.Errorf("unknown topping should cost nothing, toppings = %v", b.Toppings)
	}
	if b.Total != 10.45 {
		t.Errorf("total = %v, want 10.45", b.Total)
	}
	want := types.LoyaltyPoints{Base: 7, Size: 1, Milk: 1, Syrups: 9, Toppings: 1, Total: 19}
	if b.LoyaltyPoints != want {
		t.Errorf("points = %+v, want %+v", b.LoyaltyPoints, want)
	}
}

func TestPointsTotalIsSumOfLines(t *testing.T) {
	lp := Points(types.PriceBreakdown{Base: 0.7, Size: 0.7, Milk: 0.7})
	// floor(1.4) * 3 = 3, while floor(2.1 * 2) would be 4.
	if lp.Total != 3 {
		t.Fatalf("total points = %d, want 3", lp.Total)
	}
}

func TestEmptyConfigCostsNothing(t *testing.T) {
	b, err := NewCalculator(menu, nil).Calculate(context.Background(), types.DrinkConfig{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if b.Total != 0 || b.LoyaltyPoints.Total != 0 {
		t.Fatalf("expected zero breakdown, got %+v", b)
	}
}

func TestPricesUnavailable(t *testing.T) {
	src := mapSource{err: ErrPricesUnavailable}
	b, err := NewCalculator(src, nil).Calculate(context.Background(), types.DrinkConfig{Base: "Latte"})
	if err != nil {
		t.Fatalf("missing price data should not be an error: %v", err)
	}
	if b.Total != 0 || b.Warning == "" {
		t.Fatalf("expected zero prices with a warning, got %+v", b)
	}
}

func TestSourceErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewCalculator(mapSource{err: boom}, nil).Calculate(context.Background(), types.DrinkConfig{Base: "Latte"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
