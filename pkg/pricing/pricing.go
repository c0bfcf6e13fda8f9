// Package pricing prices a drink configuration and converts prices to loyalty points.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/types"
)

// PointsPerUnit is the number of loyalty points earned per currency unit.
const PointsPerUnit = 2

// ErrPricesUnavailable is returned by a PriceSource whose store has no price data.
var ErrPricesUnavailable = errors.New("pricing: prices not configured")

// Category is an option table.
type Category string

const (
	CategoryBase    Category = "bases"
	CategorySize    Category = "sizes"
	CategoryMilk    Category = "milks"
	CategorySyrup   Category = "syrups"
	CategoryTopping Category = "toppings"
)

// PriceSource looks up the unit price of a named option. ok is false when no option
// matches.
type PriceSource interface {
	Price(ctx context.Context, category Category, name string) (price float64, ok bool, err error)
}

type Calculator struct {
	source PriceSource
	log    zerolog.Logger
}

func NewCalculator(source PriceSource, logger *zerolog.Logger) *Calculator {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Calculator{source: source, log: l.With().Str("component", "pricing").Logger()}
}

// Calculate prices cfg. Unknown options cost nothing; syrups are charged per pump.
func (c *Calculator) Calculate(ctx context.Context, cfg types.DrinkConfig) (types.PriceBreakdown, error) {
	cfg = cfg.Normalized()
	var b types.PriceBreakdown
	var err error

	if b.Base, err = c.price(ctx, CategoryBase, cfg.Base); err != nil {
		return c.fail(err)
	}
	if b.Size, err = c.price(ctx, CategorySize, cfg.Size); err != nil {
		return c.fail(err)
	}
	if b.Milk, err = c.price(ctx, CategoryMilk, cfg.Milk); err != nil {
		return c.fail(err)
	}
	for _, s := range cfg.Syrups {
		p, err := c.price(ctx, CategorySyrup, s.Name)
		if err != nil {
			return c.fail(err)
		}
		b.Syrups += p * float64(s.Pumps())
	}
	for _, t := range cfg.Toppings {
		p, err := c.price(ctx, CategoryTopping, t)
		if err != nil {
			return c.fail(err)
		}
		b.Toppings += p
	}

	b.Base, b.Size, b.Milk = cents(b.Base), cents(b.Size), cents(b.Milk)
	b.Syrups, b.Toppings = cents(b.Syrups), cents(b.Toppings)
	b.Total = cents(b.Base + b.Size + b.Milk + b.Syrups + b.Toppings)
	b.LoyaltyPoints = Points(b)
	return b, nil
}

func (c *Calculator) fail(err error) (types.PriceBreakdown, error) {
	if errors.Is(err, ErrPricesUnavailable) {
		c.log.Warn().Err(err).Msg("price data missing, returning zero prices")
		return types.PriceBreakdown{Warning: "Prices not configured. Run the price migrations."}, nil
	}
	return types.PriceBreakdown{}, err
}

func (c *Calculator) price(ctx context.Context, cat Category, name string) (float64, error) {
	if name == "" {
		return 0, nil
	}
	p, ok, err := c.source.Price(ctx, cat, name)
	if err != nil {
		return 0, fmt.Errorf("price %s %q: %w", cat, name, err)
	}
	if !ok {
		c.log.Debug().Str("category", string(cat)).Str("name", name).Msg("no price found")
		return 0, nil
	}
	return p, nil
}

// Points converts each line to floor(price × 2) points; the total is the sum of the
// line points, not the points of the total price.
func Points(b types.PriceBreakdown) types.LoyaltyPoints {
	lp := types.LoyaltyPoints{
		Base:     points(b.Base),
		Size:     points(b.Size),
		Milk:     points(b.Milk),
		Syrups:   points(b.Syrups),
		Toppings: points(b.Toppings),
	}
	lp.Total = lp.Base + lp.Size + lp.Milk + lp.Syrups + lp.Toppings
	return lp
}

func points(price float64) int {
	return int(math.Floor(price*PointsPerUnit + 1e-9))
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
