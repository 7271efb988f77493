package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/nutrient-buffer/internal/dispersal"
)

var formats = []string{"text", "json", "yaml"}

func validFormat(f string) bool {
	return slices.Contains(formats, f)
}

// writeReport prints rep in the requested format.
func writeReport(w io.Writer, format string, rep dispersal.Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return eris.Wrap(err, "encode report json")
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return eris.Wrap(err, "encode report yaml")
		}
		return eris.Wrap(enc.Close(), "flush report yaml")
	default:
		if err := rep.Summary.WriteText(w); err != nil {
			return err
		}
		if rep.Output != "" {
			_, _ = fmt.Fprintf(w, "Dispersal area written to %s\n", rep.Output)
		}
		return nil
	}
}
