package dispersal

import (
	"io"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	kgPerTonne     = 1000.0
	sqUnitsPerHa   = 10000.0
	undefinedValue = "undefined"
)

// Report is the serializable form of a run's outcome.
type Report struct {
	RunID           string    `json:"run_id" yaml:"run_id"`
	Engine          string    `json:"engine" yaml:"engine"`
	Output          string    `json:"output,omitempty" yaml:"output,omitempty"`
	Summary         Summary   `json:"summary" yaml:"summary"`
	PercentIncrease *float64  `json:"percent_increase" yaml:"percent_increase"`
	Areas           []float64 `json:"areas" yaml:"areas"`
	Distances       []float64 `json:"distances" yaml:"distances"`
	ExcludedAreas   []float64 `json:"excluded_areas" yaml:"excluded_areas"`
}

// NewReport collects r into a Report. PercentIncrease is nil when undefined.
func NewReport(r *Result, engineName, output string) Report {
	rep := Report{
		RunID:         r.RunID,
		Engine:        engineName,
		Output:        output,
		Summary:       r.Summary,
		Areas:         r.Trace.Areas,
		Distances:     r.Trace.Distances,
		ExcludedAreas: r.Trace.ExcludedAreas,
	}
	if pc, err := r.Summary.PercentIncrease(); err == nil {
		rep.PercentIncrease = &pc
	}
	return rep
}

// WriteText prints the human-readable summary lines, with compound mass in
// tonnes and areas in hectares. Whole numbers are printed ungrouped and
// rounded half to even.
func (s Summary) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	mass := strconv.FormatFloat(s.WasteMass, 'f', -1, 64)

	lines := []string{
		p.Sprintf("%st of broiler waste contains %vt of %v, which covers %v Ha\n",
			mass, whole(s.CompoundMass/kgPerTonne), s.Compound, whole(s.FinalArea/sqUnitsPerHa)),
		p.Sprintf("Process increases area covered by %v Ha\n", whole(s.AreaIncrease/sqUnitsPerHa)),
	}
	if pc, err := s.PercentIncrease(); err != nil {
		lines = append(lines, p.Sprintf("This is %s%% larger than original area\n", undefinedValue))
	} else {
		lines = append(lines, p.Sprintf("This is %v%% larger than original area\n", whole(pc)))
	}

	for _, l := range lines {
		if _, err := io.WriteString(w, l); err != nil {
			return eris.Wrap(err, "dispersal: write report")
		}
	}
	return nil
}

func whole(f float64) number.Formatter {
	return number.Decimal(round(f), number.NoSeparator())
}

func round(f float64) int64 {
	return int64(math.RoundToEven(f))
}
