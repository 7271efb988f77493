package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nutrient-buffer/internal/compound"
	"github.com/sells-group/nutrient-buffer/internal/config"
	"github.com/sells-group/nutrient-buffer/internal/dataset"
	"github.com/sells-group/nutrient-buffer/internal/dispersal"
	"github.com/sells-group/nutrient-buffer/internal/engine"
	"github.com/sells-group/nutrient-buffer/internal/fault"
)

// runOptions are the inputs of one dispersal run from the command line.
type runOptions struct {
	Point            string
	Waterways        string
	Roads            string
	Mass             float64
	Compound         string
	Iterations       int
	Tolerance        float64
	Out              string
	KeepIntermediate string
	Format           string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute the dispersal area for one farm",
	Long: `Buffers the waterway and road networks into an exclusion zone, sizes the
compound held in the waste, and grows a circle around the farm until the land
lost to the exclusion zone has been added back. The final circle is written to
--out and a summary is printed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := runOpts
		if !cmd.Flags().Changed("iterations") {
			opts.Iterations = cfg.Run.Iterations
		}
		if !cmd.Flags().Changed("tolerance") {
			opts.Tolerance = cfg.Run.Tolerance
		}
		return runDispersal(ctx, cfg, opts, cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.Point, "point", "", "point dataset holding the farm location (.shp, .zip or .geojson)")
	f.StringVar(&runOpts.Waterways, "waterways", "", "waterway line dataset")
	f.StringVar(&runOpts.Roads, "roads", "", "road line dataset")
	f.Float64Var(&runOpts.Mass, "mass", 0, "broiler waste mass in tonnes")
	f.StringVar(&runOpts.Compound, "compound", "Nitrogen", "nutrient compound: Nitrogen, Phosphorus or Potassium (or 0-2)")
	f.IntVar(&runOpts.Iterations, "iterations", dispersal.DefaultIterations, "radius corrections to apply (overrides run.iterations)")
	f.Float64Var(&runOpts.Tolerance, "tolerance", 0, "stop once an iteration changes the area by no more than this; 0 disables (overrides run.tolerance)")
	f.StringVar(&runOpts.Out, "out", "dispersal_area.shp", "output dataset (.shp or .geojson)")
	f.StringVar(&runOpts.KeepIntermediate, "keep-intermediate", "", "directory to write every iteration's buffer and clip layers to")
	f.StringVar(&runOpts.Format, "format", "text", "summary format: text, json or yaml")
	_ = runCmd.MarkFlagRequired("point")
	_ = runCmd.MarkFlagRequired("waterways")
	_ = runCmd.MarkFlagRequired("roads")
	_ = runCmd.MarkFlagRequired("mass")
	rootCmd.AddCommand(runCmd)
}

// runDispersal loads the input datasets, runs the calculation on the
// configured engine, writes the output dataset and prints the summary.
func runDispersal(ctx context.Context, c *config.Config, opts runOptions, out io.Writer) error {
	if !validFormat(opts.Format) {
		return fault.Invalid("run", "unknown summary format %q (want text, json or yaml)", opts.Format)
	}
	comp, err := compound.Parse(opts.Compound)
	if err != nil {
		return err
	}

	point, err := dataset.Load(opts.Point)
	if err != nil {
		return eris.Wrap(err, "run: load point dataset")
	}
	waterways, err := dataset.Load(opts.Waterways)
	if err != nil {
		return eris.Wrap(err, "run: load waterway dataset")
	}
	roads, err := dataset.Load(opts.Roads)
	if err != nil {
		return eris.Wrap(err, "run: load road dataset")
	}
	dataset.WarnCRS(point, waterways, roads)

	src, err := point.SinglePoint()
	if err != nil {
		return err
	}

	req := dispersal.NewRequest(src, waterways.Layer(), roads.Layer(), comp, opts.Mass)
	req.Iterations = opts.Iterations
	req.Tolerance = opts.Tolerance
	req.Segments = c.Engine.Segments
	req.WaterwayMargin = c.Exclusion.WaterwayMargin
	req.RoadMargin = c.Exclusion.RoadMargin
	req.ExclusionSegments = c.Exclusion.Segments
	if opts.KeepIntermediate != "" {
		req.Observe = keepIntermediate(opts.KeepIntermediate, point.PRJ)
	}

	eng, err := engine.Open(ctx, c.Engine.Driver, engine.Options{DatabaseURL: c.Engine.DatabaseURL})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	res, err := dispersal.Run(ctx, eng, req)
	if err != nil {
		return err
	}

	final, err := res.Output()
	if err != nil {
		return err
	}
	if err := dataset.Write(opts.Out, dataset.FromLayer(final, point.PRJ)); err != nil {
		return eris.Wrap(err, "run: write output")
	}
	zap.L().Info("dispersal area written",
		zap.String("run_id", res.RunID),
		zap.String("path", opts.Out),
	)

	return writeReport(out, opts.Format, dispersal.NewReport(res, eng.Name(), opts.Out))
}

// keepIntermediate returns an observer writing each iteration's buffer and
// clip layers as shapefiles under dir.
func keepIntermediate(dir, prj string) dispersal.Observer {
	return func(_ context.Context, it dispersal.Iteration) error {
		buf := filepath.Join(dir, fmt.Sprintf("buffer_%d.shp", it.Index))
		if err := dataset.WriteShapefile(buf, dataset.FromLayer(it.Buffer, prj)); err != nil {
			return err
		}
		if it.Clip == nil {
			return nil
		}
		clip := filepath.Join(dir, fmt.Sprintf("clip_%d.shp", it.Index))
		return dataset.WriteShapefile(clip, dataset.FromLayer(it.Clip, prj))
	}
}
