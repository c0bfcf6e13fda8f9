// Package prompt turns a drink configuration into a text-to-image prompt pair.
package prompt

import (
	"fmt"
	"strings"

	"github.com/menta2k/drink-preview/pkg/types"
)

// MaxNegativeLength is the hard limit the generation API accepts for negative prompts.
const MaxNegativeLength = 1000

const ellipsis = "..."

// Catalog exclusion caps per category.
const (
	maxExcludedBases    = 3
	maxExcludedMilks    = 3
	maxExcludedSyrups   = 5
	maxExcludedToppings = 5
)

const photographyQualifiers = "side view, close-up product shot filling the entire frame, clean white background, bright studio lighting, high quality, appetizing, professional beverage photography"

// logoExclusions keep the generator from painting its own marks when a real logo
// will be composited afterwards. They lead the negative prompt so truncation never
// drops them.
var logoExclusions = []string{"logo", "branding", "text", "symbols"}

var (
	noMilkTerms    = []string{"milk", "cream", "dairy"}
	noSyrupTerms   = []string{"syrup", "flavoring"}
	noToppingTerms = []string{"whipped cream", "toppings"}
	noIceTerms     = []string{"ice cubes", "ice", "frozen", "iced drink", "cold drink"}
	hotExclusions  = []string{
		"transparent cup", "clear plastic cup", "plastic cup", "iced", "cold", "ice cubes", "ice",
		"see-through cup", "clear cup", "plastic", "transparent", "iced drink", "cold beverage", "frozen",
	}
	coldExclusions   = []string{"paper cup", "cardboard sleeve", "steam", "steaming", "hot beverage", "hot drink"}
	alwaysExclusions = []string{"opaque cup", "shadows", "top view", "overhead view"}
)

// cupSpec is the physical description of one cup size.
type cupSpec struct {
	dims string
	// cold and hot override the generic "<size> clear plastic cup" / "<size> white paper cup
	// with brown cardboard sleeve" phrasing when set.
	cold string
	hot  string
}

var cupSizes = map[string]cupSpec{
	"short":  {dims: "8 oz, 8.9 cm height, 6.4 cm diameter"},
	"tall":   {dims: "12 oz, 11.4 cm height, 8.4 cm diameter"},
	"grande": {dims: "16 oz, 16 cm height, 9.2 cm diameter"},
	"venti": {
		cold: "venti clear plastic cold cup (24 oz, 18 cm height, 10 cm diameter)",
		hot:  "venti white paper hot cup with brown cardboard sleeve (20 oz, 20 cm height, 9.2 cm diameter)",
	},
	"trenta": {
		cold: "trenta clear plastic cold cup (31 oz, 20.3 cm height, 10.4 cm diameter)",
		hot:  "trenta clear plastic cold cup (31 oz, 20.3 cm height, 10.4 cm diameter)",
	},
}

// Build derives the prompt pair for cfg. catalog may be nil. Build is pure: the same
// inputs always produce the same output.
func Build(cfg types.DrinkConfig, catalog *types.Catalog) types.PromptPair {
	return build(cfg, catalog, nil)
}

// BuildForLogo is Build with the generator told to leave the cup unbranded, for runs
// where the real logo is composited afterwards.
func BuildForLogo(cfg types.DrinkConfig, catalog *types.Catalog) types.PromptPair {
	return build(cfg, catalog, logoExclusions)
}

func build(cfg types.DrinkConfig, catalog *types.Catalog, lead []string) types.PromptPair {
	cfg = cfg.Normalized()
	hot := cfg.Temperature.IsHot()
	cold := cfg.Temperature.IsCold()

	hasMilk := cfg.Milk != ""
	hasSyrups := len(cfg.Syrups) > 0
	hasToppings := len(cfg.Toppings) > 0
	hasAdditions := hasMilk || hasSyrups || hasToppings

	var parts []string
	exclude := append([]string(nil), lead...)

	parts = append(parts, headline(cfg, hot))

	if cfg.Base != "" {
		base := strings.ToLower(cfg.Base)
		if hasAdditions {
			parts = append(parts, fmt.Sprintf("with plain black %s as the base", base))
		} else {
			parts = append(parts, fmt.Sprintf("black %s drink", base))
		}
		if catalog != nil {
			exclude = append(exclude, unselected(catalog.Bases, []string{base}, maxExcludedBases)...)
		}
	}

	if hasMilk {
		milk := strings.ToLower(cfg.Milk)
		parts = append(parts, "layered with "+milk)
		if catalog != nil {
			exclude = append(exclude, unselected(catalog.Milks, []string{milk}, maxExcludedMilks)...)
		}
	} else {
		exclude = append(exclude, noMilkTerms...)
	}

	if hasSyrups {
		names := make([]string, 0, len(cfg.Syrups))
		for _, s := range cfg.Syrups {
			names = append(names, strings.ToLower(s.Name))
		}
		parts = append(parts, fmt.Sprintf("flavored with %s syrup", strings.Join(names, " and ")))
		if catalog != nil {
			exclude = append(exclude, unselected(catalog.Syrups, names, maxExcludedSyrups)...)
		}
	} else {
		exclude = append(exclude, noSyrupTerms...)
	}

	if hasToppings {
		names := make([]string, 0, len(cfg.Toppings))
		for _, t := range cfg.Toppings {
			names = append(names, strings.ToLower(t))
		}
		parts = append(parts, "topped with "+strings.Join(names, " and "))
		if catalog != nil {
			exclude = append(exclude, unselected(catalog.Toppings, names, maxExcludedToppings)...)
		}
	} else {
		exclude = append(exclude, noToppingTerms...)
	}

	if cfg.HasIce() {
		parts = append(parts, "with ice cubes")
	} else {
		exclude = append(exclude, noIceTerms...)
	}

	if hot {
		exclude = append(exclude, hotExclusions...)
	}
	if cold {
		exclude = append(exclude, coldExclusions...)
	}

	if cfg.Espresso > 0 {
		shots := "shot"
		if cfg.Espresso > 1 {
			shots = "shots"
		}
		parts = append(parts, fmt.Sprintf("with %d espresso %s", cfg.Espresso, shots))
	}

	parts = append(parts, photographyQualifiers)
	exclude = append(exclude, alwaysExclusions...)

	return types.PromptPair{
		Prompt:         strings.Join(parts, ", "),
		NegativePrompt: Truncate(strings.Join(exclude, ", ")),
	}
}

// DescriptiveLogoNegative is the fixed negative prompt for logo-describing regeneration.
const DescriptiveLogoNegative = "complex backgrounds, generic coffee symbols, additional objects, style effects, artistic backgrounds, decorative elements, floating logo, logo beside cup, logo in background"

// DescribeLogo rewrites a prompt so the generator paints a generic circular emblem on
// the cup itself. It is the last resort when pixel compositing is impossible.
func DescribeLogo(p types.PromptPair) types.PromptPair {
	base := strings.TrimSuffix(p.Prompt, ", "+photographyQualifiers)
	return types.PromptPair{
		Prompt:         base + ", with a clean, professional circular logo emblem prominently displayed on the center of the cup wall, simple clean composition, " + photographyQualifiers,
		NegativePrompt: DescriptiveLogoNegative,
	}
}

// Truncate enforces MaxNegativeLength, replacing the tail with an ellipsis.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxNegativeLength {
		return s
	}
	return string(r[:MaxNegativeLength-len(ellipsis)]) + ellipsis
}

func headline(cfg types.DrinkConfig, hot bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A professional photograph of a %s in a clear, completely transparent %s with smooth surface. ",
		drinkDescription(cfg.Base, hot), cupDescription(cfg.Size, hot, cfg.Temperature.IsCold()))
	b.WriteString("The cup is transparent, but the drink is rich and not see-through. ")
	if hot {
		b.WriteString("Visible steam rising from the top. ")
	}
	b.WriteString("Crystal clear cup showing the drink's beautiful layers and rich colors.")
	return b.String()
}

func drinkDescription(base string, hot bool) string {
	lower := strings.ToLower(base)
	switch {
	case strings.Contains(lower, "chocolate"):
		if hot {
			return "steaming hot, rich, creamy, opaque hot chocolate"
		}
		return "cold, rich, creamy, opaque chocolate beverage"
	case hot && (strings.Contains(lower, "latte") || strings.Contains(lower, "mocha") || strings.Contains(lower, "cappuccino")):
		return "steaming hot, creamy, opaque " + base
	case hot:
		return "steaming hot beverage"
	default:
		return "cold beverage"
	}
}

func cupDescription(size string, hot, cold bool) string {
	if size == "" {
		return "clear plastic cup"
	}
	key := strings.ToLower(size)
	spec, ok := cupSizes[key]
	switch {
	case !ok:
		if hot {
			return key + " white paper cup with brown cardboard sleeve"
		}
		return key + " clear plastic cup"
	case spec.dims == "" && cold:
		return spec.cold
	case spec.dims == "":
		return spec.hot
	case hot:
		return fmt.Sprintf("%s white paper cup with brown cardboard sleeve (%s)", key, spec.dims)
	default:
		return fmt.Sprintf("%s clear plastic cup (%s)", key, spec.dims)
	}
}

// unselected returns up to limit lowercased catalog names not present in selected.
func unselected(all, selected []string, limit int) []string {
	chosen := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		chosen[strings.ToLower(s)] = struct{}{}
	}
	out := make([]string, 0, limit)
	for _, name := range all {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			continue
		}
		if _, ok := chosen[lower]; ok {
			continue
		}
		out = append(out, lower)
		if len(out) == limit {
			break
		}
	}
	return out
}
