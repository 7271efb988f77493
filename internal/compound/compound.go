// Package compound sizes the land area a nutrient compound from broiler waste
// needs in order to stay under its maximum safe soil concentration.
package compound

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// Compound is a nutrient carried by broiler waste.
type Compound int

const (
	// Nitrogen is selector index 0.
	Nitrogen Compound = iota
	// Phosphorus is selector index 1.
	Phosphorus
	// Potassium is selector index 2.
	Potassium
)

// Properties are the fixed sizing constants of a compound.
type Properties struct {
	// ConversionFactor is the compound mass (kg) per tonne of waste.
	ConversionFactor float64 `json:"conversion_factor" yaml:"conversion_factor"`
	// MaxConcentration is the safe soil load in kg per square unit of the CRS.
	MaxConcentration float64 `json:"max_concentration" yaml:"max_concentration"`
}

var table = map[Compound]Properties{
	Nitrogen:   {ConversionFactor: 30.714286, MaxConcentration: 0.005},
	Phosphorus: {ConversionFactor: 14.142857, MaxConcentration: 0.0027},
	Potassium:  {ConversionFactor: 13.428571, MaxConcentration: 0.0025},
}

var names = map[Compound]string{
	Nitrogen:   "Nitrogen",
	Phosphorus: "Phosphorus",
	Potassium:  "Potassium",
}

// All returns every compound in selector order.
func All() []Compound {
	return []Compound{Nitrogen, Phosphorus, Potassium}
}

func (c Compound) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "Compound(" + strconv.Itoa(int(c)) + ")"
}

// Valid reports whether c is one of the known compounds.
func (c Compound) Valid() bool {
	_, ok := table[c]
	return ok
}

// Properties returns the sizing constants for c.
func (c Compound) Properties() (Properties, error) {
	p, ok := table[c]
	if !ok {
		return Properties{}, fault.Invalid("compound", "unknown compound selector %d", int(c))
	}
	return p, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Compound) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fault.Invalid("compound", "unknown compound selector %d", int(c))
	}
	return []byte(c.String()), nil
}

// Parse resolves a selector given either as a name (case-insensitive) or as
// the enum index used by the processing form ("0", "1", "2").
func Parse(s string) (Compound, error) {
	key := strings.TrimSpace(s)
	for c, n := range names {
		if strings.EqualFold(n, key) {
			return c, nil
		}
	}
	if idx, err := strconv.Atoi(key); err == nil {
		c := Compound(idx)
		if c.Valid() {
			return c, nil
		}
	}
	return 0, fault.Invalid("compound", "unknown compound %q (want Nitrogen, Phosphorus or Potassium)", s)
}

// Sizing is the outcome of sizing a waste mass for one compound.
type Sizing struct {
	Compound Compound `json:"compound" yaml:"compound"`
	// WasteMass is the raw waste in tonnes.
	WasteMass float64 `json:"waste_mass" yaml:"waste_mass"`
	// CompoundMass is the active compound in kg.
	CompoundMass float64 `json:"compound_mass" yaml:"compound_mass"`
	// TargetArea is the dispersal area needed, in square CRS units.
	TargetArea float64 `json:"target_area" yaml:"target_area"`
}

// Size converts wasteMass tonnes of broiler waste into the compound mass it
// holds and the area required to spread it at the maximum safe concentration.
func Size(c Compound, wasteMass float64) (Sizing, error) {
	p, err := c.Properties()
	if err != nil {
		return Sizing{}, err
	}
	if math.IsNaN(wasteMass) || math.IsInf(wasteMass, 0) {
		return Sizing{}, fault.Invalid("waste mass", "waste mass must be finite, got %v", wasteMass)
	}
	if wasteMass < 0 {
		return Sizing{}, fault.Invalid("waste mass", "waste mass must be non-negative, got %v", wasteMass)
	}

	mass := wasteMass * p.ConversionFactor
	return Sizing{
		Compound:     c,
		WasteMass:    wasteMass,
		CompoundMass: mass,
		TargetArea:   mass / p.MaxConcentration,
	}, nil
}
