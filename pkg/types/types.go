package types

import (
	"image"
	"strings"
)

// Temperature of a drink. The zero value means unset.
type Temperature string

const (
	TempUnset   Temperature = ""
	TempHot     Temperature = "Hot"
	TempIced    Temperature = "Iced"
	TempBlended Temperature = "Blended"
)

// IsHot reports whether the temperature selects the hot-drink mode.
func (t Temperature) IsHot() bool {
	return strings.EqualFold(string(t), string(TempHot))
}

// IsCold reports whether the temperature selects the cold-drink mode (iced or blended).
func (t Temperature) IsCold() bool {
	return strings.EqualFold(string(t), string(TempIced)) || strings.EqualFold(string(t), string(TempBlended))
}

// Valid reports whether t is one of the known temperatures or unset.
func (t Temperature) Valid() bool {
	return t == TempUnset || t.IsHot() || t.IsCold()
}

const (
	MinPumps = 1
	MaxPumps = 5
)

// SyrupSelection is one syrup with its pump count.
type SyrupSelection struct {
	Name      string `json:"name"`
	PumpCount int    `json:"pumps"`
}

// Pumps returns the pump count clamped to [MinPumps, MaxPumps].
func (s SyrupSelection) Pumps() int {
	if s.PumpCount < MinPumps {
		return MinPumps
	}
	if s.PumpCount > MaxPumps {
		return MaxPumps
	}
	return s.PumpCount
}

// DrinkConfig is the user's selection for one beverage
type DrinkConfig struct {
	Base        string           `json:"base,omitempty"`
	Size        string           `json:"size,omitempty"`
	Milk        string           `json:"milk,omitempty"`
	Syrups      []SyrupSelection `json:"syrups,omitempty"`
	Toppings    []string         `json:"toppings,omitempty"`
	Temperature Temperature      `json:"temperature,omitempty"`
	Sweetness   string           `json:"sweetness,omitempty"`
	IceLevel    string           `json:"ice,omitempty"`
	Espresso    int              `json:"espresso,omitempty"`
	Name        string           `json:"name,omitempty"`
}

// Normalized returns a copy with pump counts clamped and blank entries removed.
// The receiver is left untouched.
func (c DrinkConfig) Normalized() DrinkConfig {
	out := c
	out.Base = strings.TrimSpace(c.Base)
	out.Size = strings.TrimSpace(c.Size)
	out.Milk = strings.TrimSpace(c.Milk)
	out.Syrups = nil
	for _, s := range c.Syrups {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		out.Syrups = append(out.Syrups, SyrupSelection{Name: name, PumpCount: s.Pumps()})
	}
	out.Toppings = nil
	for _, t := range c.Toppings {
		if t = strings.TrimSpace(t); t != "" {
			out.Toppings = append(out.Toppings, t)
		}
	}
	return out
}

// HasIce reports whether ice cubes should be rendered: cold drink and an ice level
// other than none/empty.
func (c DrinkConfig) HasIce() bool {
	level := strings.ToLower(strings.TrimSpace(c.IceLevel))
	return c.Temperature.IsCold() && level != "" && level != "none"
}

// Catalog lists every available option name; used to exclude unselected items.
type Catalog struct {
	Bases    []string `json:"bases,omitempty"`
	Milks    []string `json:"milks,omitempty"`
	Syrups   []string `json:"syrups,omitempty"`
	Toppings []string `json:"toppings,omitempty"`
}

// PromptPair is the text-to-image prompt and its negative prompt.
type PromptPair struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt"`
}

// CupType classifies the detected container.
type CupType string

const (
	CupPaper   CupType = "paper"
	CupPlastic CupType = "plastic"
	CupCeramic CupType = "ceramic"
	CupGlass   CupType = "glass"
	CupUnknown CupType = "unknown"
)

// CupCoordinates is a normalized [0,1] bounding region of the cup body, excluding
// handles and foam.
type CupCoordinates struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	CenterX    float64 `json:"centerX"`
	CenterY    float64 `json:"centerY"`
	Confidence float64 `json:"confidence"`
	CupType    CupType `json:"cupType"`
}

// Point is a normalized position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CupStructure holds the rim and bottom references of a detected cup.
type CupStructure struct {
	RimY       float64 `json:"rimY"`
	BottomY    float64 `json:"bottomY"`
	RimLeftX   float64 `json:"rimLeftX"`
	RimRightX  float64 `json:"rimRightX"`
	CupCenterX float64 `json:"cupCenterX"`
}

// Height is the absolute distance between rim and bottom.
func (s CupStructure) Height() float64 {
	h := s.BottomY - s.RimY
	if h < 0 {
		return -h
	}
	return h
}

// Width is the rim width.
func (s CupStructure) Width() float64 {
	return s.RimRightX - s.RimLeftX
}

// DetailedCupPoints is the structural cup model used for ratio-based placement.
type DetailedCupPoints struct {
	TargetCenter Point        `json:"targetCenter"`
	CupStructure CupStructure `json:"cupStructure"`
	Confidence   float64      `json:"confidence"`
}

// PlacementSuggestion is an alternative logo area reported by advanced analysis.
type PlacementSuggestion struct {
	Area        string         `json:"area"`
	Coordinates CupCoordinates `json:"coordinates"`
	Reasoning   string         `json:"reasoning"`
}

// ImageAnalysis describes overall characteristics of a generated image.
type ImageAnalysis struct {
	CupCount       int      `json:"cupCount"`
	DominantColors []string `json:"dominantColors"`
	Lighting       string   `json:"lighting"`
	Background     string   `json:"background"`
	HasCreamLayer  bool     `json:"hasCreamLayer"`
	Beverage       string   `json:"beverage"`
}

// CupAnalysis is the result of the advanced (cream-aware) analysis.
type CupAnalysis struct {
	Primary       *CupCoordinates       `json:"primary"`
	Suggestions   []PlacementSuggestion `json:"suggestions"`
	ImageAnalysis ImageAnalysis         `json:"imageAnalysis"`
}

// Method names the strategy that produced a composite.
type Method string

const (
	MethodDetailed    Method = "detailed-points"
	MethodBasic       Method = "basic-coordinates"
	MethodCenter      Method = "center"
	MethodCreamCenter Method = "cream-aware-center"
	MethodRemote      Method = "object-composite"
	MethodDescriptive Method = "descriptive-prompt"
	MethodBaseImage   Method = "base-image"
	MethodNoLogo      Method = "no-logo"
)

// CompositeResult is the outcome of one placement run. Exactly one of ImageURL and
// ImageData is set; ImageURL may itself be a data URL.
type CompositeResult struct {
	ImageURL       string `json:"imageUrl,omitempty"`
	ImageData      []byte `json:"-"`
	Method         Method `json:"method"`
	SourceAnalysis any    `json:"sourceAnalysis"`
	// LogoRect is the pixel rectangle of a locally composited logo.
	LogoRect *image.Rectangle `json:"-"`
}

// PreviewResult is what the pipeline hands back to callers.
type PreviewResult struct {
	ImageURL       string `json:"imageUrl"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt"`
	Method         Method `json:"method"`
	PreviewID      string `json:"previewId,omitempty"`
	ImageData      []byte `json:"-"`
	SourceAnalysis any    `json:"sourceAnalysis,omitempty"`
}

// LoyaltyPoints mirrors PriceBreakdown in points.
type LoyaltyPoints struct {
	Base     int `json:"base"`
	Size     int `json:"size"`
	Milk     int `json:"milk"`
	Syrups   int `json:"syrups"`
	Toppings int `json:"toppings"`
	Total    int `json:"total"`
}

// PriceBreakdown holds per-line prices and the loyalty points they earn.
type PriceBreakdown struct {
	Base          float64       `json:"base"`
	Size          float64       `json:"size"`
	Milk          float64       `json:"milk"`
	Syrups        float64       `json:"syrups"`
	Toppings      float64       `json:"toppings"`
	Total         float64       `json:"total"`
	LoyaltyPoints LoyaltyPoints `json:"loyaltyPoints"`
	Warning       string        `json:"warning,omitempty"`
}

// Preferences are the taste preferences used by the wizard.
type Preferences struct {
	Aroma      string `json:"aroma_preference"`
	Flavor     string `json:"flavor_preference"`
	Acidity    string `json:"acidity_preference"`
	Body       string `json:"body_preference"`
	Aftertaste string `json:"aftertaste_preference"`
}

// OptionDocument is a catalog option indexed for reranking.
type OptionDocument struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
	Name string `json:"name"`
}
