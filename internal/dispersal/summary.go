package dispersal

import (
	"math"

	"github.com/sells-group/nutrient-buffer/internal/compound"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// Summary holds the headline figures of a run. Areas are in square CRS
// units and masses in kg unless noted.
type Summary struct {
	Compound     compound.Compound `json:"compound" yaml:"compound"`
	WasteMass    float64           `json:"waste_mass_t" yaml:"waste_mass_t"`
	CompoundMass float64           `json:"compound_mass_kg" yaml:"compound_mass_kg"`
	TargetArea   float64           `json:"target_area" yaml:"target_area"`
	FinalArea    float64           `json:"final_area" yaml:"final_area"`
	FinalRadius  float64           `json:"final_radius" yaml:"final_radius"`
	AreaIncrease float64           `json:"area_increase" yaml:"area_increase"`
	Iterations   int               `json:"iterations" yaml:"iterations"`
	StoppedEarly bool              `json:"stopped_early" yaml:"stopped_early"`
}

func summarize(s compound.Sizing, wasteMass float64, t *Trace) Summary {
	return Summary{
		Compound:     s.Compound,
		WasteMass:    wasteMass,
		CompoundMass: s.CompoundMass,
		TargetArea:   t.Areas[0],
		FinalArea:    t.FinalArea(),
		FinalRadius:  t.FinalDistance(),
		AreaIncrease: t.FinalArea() - t.Areas[0],
		Iterations:   t.Completed(),
		StoppedEarly: t.Stopped,
	}
}

// PercentIncrease returns how much larger the final area is than the
// target area, in percent. It is undefined when the target area is zero.
func (s Summary) PercentIncrease() (float64, error) {
	if s.TargetArea == 0 {
		return math.NaN(), fault.New(fault.DegenerateResult, "percent increase", "target area is zero")
	}
	return (s.FinalArea/s.TargetArea - 1) * 100, nil
}
