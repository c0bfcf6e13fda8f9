package wizard

import (
	"fmt"

	"github.com/menta2k/drink-preview/pkg/types"
)

// BaseProfile is the tasting profile of a base drink.
type BaseProfile struct {
	ID          string
	Name        string
	Description string
	Aroma       string
	Flavor      string
	Acidity     string
	Body        string
	Aftertaste  string
}

type MilkProfile struct {
	ID               string
	Name             string
	FlavorProfile    string
	BodyContribution string
}

type SyrupProfile struct {
	ID         string
	Name       string
	FlavorNote string
	Sweetness  string
}

type ToppingProfile struct {
	ID           string
	Name         string
	FlavorImpact string
	Texture      string
}

// Profiles groups everything that gets indexed.
type Profiles struct {
	Bases    []BaseProfile
	Milks    []MilkProfile
	Syrups   []SyrupProfile
	Toppings []ToppingProfile
}

// BuildDocuments renders the rerank index. Document IDs are "<type>-<row id>".
func BuildDocuments(p Profiles) []types.OptionDocument {
	docs := make([]types.OptionDocument, 0, len(p.Bases)+len(p.Milks)+len(p.Syrups)+len(p.Toppings))
	add := func(typ, id, name, text string) {
		docs = append(docs, types.OptionDocument{ID: typ + "-" + id, Type: typ, Name: name, Text: text})
	}
	for _, b := range p.Bases {
		add(TypeBase, b.ID, b.Name, fmt.Sprintf("%s: %s. Aroma: %s. Flavor: %s. Acidity: %s. Body: %s. Aftertaste: %s",
			b.Name, b.Description, b.Aroma, b.Flavor, b.Acidity, b.Body, b.Aftertaste))
	}
	for _, m := range p.Milks {
		add(TypeMilk, m.ID, m.Name, fmt.Sprintf("%s: Flavor profile: %s. Body contribution: %s", m.Name, m.FlavorProfile, m.BodyContribution))
	}
	for _, s := range p.Syrups {
		add(TypeSyrup, s.ID, s.Name, fmt.Sprintf("%s: Flavor notes: %s. Sweetness level: %s", s.Name, s.FlavorNote, s.Sweetness))
	}
	for _, t := range p.Toppings {
		add(TypeTopping, t.ID, t.Name, fmt.Sprintf("%s: Flavor impact: %s. Texture: %s", t.Name, t.FlavorImpact, t.Texture))
	}
	return docs
}
