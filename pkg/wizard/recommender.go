// Package wizard recommends a drink configuration from stored taste preferences by
// reranking indexed catalog options against them.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/menta2k/drink-preview/pkg/cohere"
	"github.com/menta2k/drink-preview/pkg/types"
)

// Document types stored in the rerank index.
const (
	TypeBase    = "base"
	TypeMilk    = "milk"
	TypeSyrup   = "syrup"
	TypeTopping = "topping"
)

const (
	DefaultBase        = "Coffee"
	DefaultSize        = "Grande"
	DefaultMilk        = "Whole Milk"
	DefaultTemperature = types.TempHot
	DefaultSweetness   = "medium"
	DefaultIce         = "none"
	DefaultName        = "AI Crafted Coffee"
	DefaultPumps       = 2
)

var (
	ErrNoPreferences = errors.New("wizard: no preferences found")
	ErrNoDocuments   = errors.New("wizard: no documents found, train the index first")
)

type PreferenceSource interface {
	LatestPreferences(ctx context.Context) (*types.Preferences, error)
}

type DocumentSource interface {
	Documents(ctx context.Context) ([]types.OptionDocument, error)
}

// Reranker scores documents against a query. Results index into documents.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]cohere.Result, error)
}

type Pricer interface {
	Calculate(ctx context.Context, cfg types.DrinkConfig) (types.PriceBreakdown, error)
}

// DefaultsSource supplies the size and temperature used when the catalog has them.
// Either value may be empty.
type DefaultsSource interface {
	DefaultSizeAndTemperature(ctx context.Context) (size string, temp types.Temperature, err error)
}

type Options struct {
	Preferences PreferenceSource
	Documents   DocumentSource
	Reranker    Reranker
	Pricer      Pricer
	Defaults    DefaultsSource
	Logger      *zerolog.Logger
}

type Recommender struct {
	prefs    PreferenceSource
	docs     DocumentSource
	reranker Reranker
	pricer   Pricer
	defaults DefaultsSource
	log      zerolog.Logger
}

func New(opts Options) (*Recommender, error) {
	if opts.Preferences == nil || opts.Documents == nil || opts.Reranker == nil {
		return nil, errors.New("wizard: preferences, documents and reranker are required")
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Recommender{
		prefs:    opts.Preferences,
		docs:     opts.Documents,
		reranker: opts.Reranker,
		pricer:   opts.Pricer,
		defaults: opts.Defaults,
		log:      logger.With().Str("component", "wizard").Logger(),
	}, nil
}

type Insights struct {
	BaseScore float64 `json:"baseScore"`
	MilkScore float64 `json:"milkScore"`
	Reasoning string  `json:"reasoning"`
}

type Recommendation struct {
	VariantIndex int                  `json:"variantIndex"`
	DrinkConfig  types.DrinkConfig    `json:"drinkConfig"`
	Pricing      types.PriceBreakdown `json:"pricing"`
	AIInsights   Insights             `json:"aiInsights"`
}

// Candidate is a reranked document.
type Candidate struct {
	Document types.OptionDocument
	Score    float64
}

// BuildQuery turns preferences into the rerank query.
func BuildQuery(p types.Preferences) string {
	return fmt.Sprintf("I want a coffee with the following characteristics:\nAroma: %s\nFlavor: %s\nAcidity: %s\nBody: %s\nAftertaste: %s",
		p.Aroma, p.Flavor, p.Acidity, p.Body, p.Aftertaste)
}

// Recommend builds the variantIndex-th recommendation. Different indexes walk down
// the ranked candidates so repeated calls yield distinct drinks.
func (r *Recommender) Recommend(ctx context.Context, variantIndex int) (*Recommendation, error) {
	if variantIndex < 0 {
		variantIndex = 0
	}
	prefs, err := r.prefs.LatestPreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("wizard: load preferences: %w", err)
	}
	if prefs == nil {
		return nil, ErrNoPreferences
	}
	docs, err := r.docs.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("wizard: load documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	results, err := r.reranker.Rerank(ctx, BuildQuery(*prefs), texts)
	if err != nil {
		return nil, fmt.Errorf("wizard: rerank: %w", err)
	}

	byType := map[string][]Candidate{}
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(docs) {
			continue
		}
		d := docs[res.Index]
		byType[d.Type] = append(byType[d.Type], Candidate{Document: d, Score: res.RelevanceScore})
	}

	base, hasBase := pickOne(byType[TypeBase], variantIndex)
	milk, hasMilk := pickOne(byType[TypeMilk], variantIndex)
	syrups := pickRange(byType[TypeSyrup], variantIndex, 2)
	toppings := pickRange(byType[TypeTopping], variantIndex, 2)

	cfg := types.DrinkConfig{
		Base:        DefaultBase,
		Size:        DefaultSize,
		Milk:        DefaultMilk,
		Temperature: DefaultTemperature,
		Sweetness:   DefaultSweetness,
		IceLevel:    DefaultIce,
		Name:        DefaultName,
	}
	if hasBase {
		cfg.Base = base.Document.Name
	}
	if hasMilk {
		cfg.Milk = milk.Document.Name
	}
	for _, c := range syrups {
		cfg.Syrups = append(cfg.Syrups, types.SyrupSelection{Name: c.Document.Name, PumpCount: DefaultPumps})
	}
	for _, c := range toppings {
		cfg.Toppings = append(cfg.Toppings, c.Document.Name)
	}
	r.applyDefaults(ctx, &cfg)

	rec := &Recommendation{
		VariantIndex: variantIndex,
		DrinkConfig:  cfg,
		AIInsights: Insights{
			BaseScore: base.Score,
			MilkScore: milk.Score,
			Reasoning: fmt.Sprintf("Selected based on your preferences for %s aroma and %s flavor. (variant %d)",
				prefs.Aroma, prefs.Flavor, variantIndex+1),
		},
	}
	if r.pricer != nil {
		pricing, err := r.pricer.Calculate(ctx, cfg)
		if err != nil {
			r.log.Warn().Err(err).Msg("pricing failed, returning zero pricing")
		} else {
			rec.Pricing = pricing
		}
	}

	r.log.Debug().
		Int("variant", variantIndex).
		Int("candidates", len(results)).
		Str("base", cfg.Base).
		Str("milk", cfg.Milk).
		Msg("recommendation built")
	return rec, nil
}

func (r *Recommender) applyDefaults(ctx context.Context, cfg *types.DrinkConfig) {
	if r.defaults == nil {
		return
	}
	size, temp, err := r.defaults.DefaultSizeAndTemperature(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("catalog defaults unavailable")
		return
	}
	if strings.TrimSpace(size) != "" {
		cfg.Size = size
	}
	if temp != types.TempUnset && temp.Valid() {
		cfg.Temperature = temp
	}
}

func pickOne(cands []Candidate, variant int) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	if variant < len(cands) {
		return cands[variant], true
	}
	return cands[0], true
}

func pickRange(cands []Candidate, variant, n int) []Candidate {
	if variant < len(cands) {
		return cands[variant:min(variant+n, len(cands))]
	}
	return cands[:min(n, len(cands))]
}
