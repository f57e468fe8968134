package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rooftop-index/internal/config"
	"github.com/sells-group/rooftop-index/internal/model"
	"github.com/sells-group/rooftop-index/internal/monitoring"
	"github.com/sells-group/rooftop-index/internal/pipeline"
	"github.com/sells-group/rooftop-index/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full flat-roof pipeline",
	Long:  "Loads the DSM, ground model and footprints, classifies flat roofs, disaggregates them into flat areas, builds features and writes the feature table.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyInputFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		// Features are resolved before any raster work.
		plan, rejected, err := buildPlan(cfg)
		if err != nil {
			return eris.Wrap(err, "feature plan")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		local := newStorage(cfg)
		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		vec, err := newVectorizer(cfg, local)
		if err != nil {
			return err
		}

		metrics := monitoring.NewMetrics()
		opts := []pipeline.Option{pipeline.WithStore(st), pipeline.WithMetrics(metrics)}

		if cfg.Output.DatabaseURL != "" {
			pool, err := sink.Connect(ctx, cfg.Output.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			opts = append(opts, pipeline.WithSink(sink.NewPostGIS(pool, sink.Options{
				Schema: cfg.Output.Schema,
				Table:  cfg.Output.Table,
				SRID:   cfg.Output.SRID,
			})))
		}

		p := pipeline.New(local, engine, vec, opts...)
		result, runErr := p.Run(ctx, buildRequest(cfg, plan, rejected))

		writeTextfile(metrics)
		if result != nil {
			if err := writeJSON(os.Stdout, result); err != nil {
				return err
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "pipeline run")
		}
		return nil
	},
}

var terrainCmd = &cobra.Command{
	Use:   "terrain",
	Short: "Derive slope and height rasters only",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyInputFlags(cmd, cfg)
		if err := cfg.Validate("terrain"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}

		metrics := monitoring.NewMetrics()
		p := pipeline.New(newStorage(cfg), engine, nil, pipeline.WithStore(st), pipeline.WithMetrics(metrics))
		result, runErr := p.Terrain(ctx, pipeline.Request{
			Input:     runInput(cfg, nil),
			RasterDir: cfg.Output.Dir,
		})

		writeTextfile(metrics)
		if result != nil {
			if err := writeJSON(os.Stdout, result); err != nil {
				return err
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "terrain run")
		}
		return nil
	},
}

// applyInputFlags overrides config with the flags the user set.
func applyInputFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("dsm") {
		c.Input.DSM, _ = flags.GetString("dsm")
	}
	if flags.Changed("ground") {
		c.Input.Ground, _ = flags.GetString("ground")
	}
	if flags.Changed("out") {
		c.Output.Dir, _ = flags.GetString("out")
	}
	if flags.Lookup("footprints") != nil && flags.Changed("footprints") {
		c.Input.Footprints, _ = flags.GetString("footprints")
	}
	if flags.Lookup("points") != nil && flags.Changed("points") {
		c.Input.Points, _ = flags.GetStringSlice("points")
	}
	if flags.Lookup("features") != nil && flags.Changed("features") {
		c.Features.Names, _ = flags.GetStringSlice("features")
		c.Features.PlanFile = ""
	}
	if flags.Lookup("format") != nil && flags.Changed("format") {
		c.Output.Format, _ = flags.GetString("format")
	}
}

func writeTextfile(m *monitoring.Metrics) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		zap.L().Warn("metrics textfile not written", zap.Error(err))
	}
}

func writeJSON(w io.Writer, result *model.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return eris.Wrap(err, "encode result")
	}
	return nil
}

func init() {
	runCmd.Flags().String("dsm", "", "digital surface model raster (overrides input.dsm)")
	runCmd.Flags().String("ground", "", "ground elevation raster (overrides input.ground)")
	runCmd.Flags().String("footprints", "", "building footprints: .shp, .zip or .geojson (overrides input.footprints)")
	runCmd.Flags().StringSlice("points", nil, "point layers for closeness_to_points (overrides input.points)")
	runCmd.Flags().StringSlice("features", nil, "ordered feature names (overrides features.names and features.plan_file)")
	runCmd.Flags().String("format", "", "output format: shp, geojson or fgb (overrides output.format)")
	runCmd.Flags().String("out", "", "output directory (overrides output.dir)")

	terrainCmd.Flags().String("dsm", "", "digital surface model raster (overrides input.dsm)")
	terrainCmd.Flags().String("ground", "", "ground elevation raster (overrides input.ground)")
	terrainCmd.Flags().String("out", "", "output directory for slope.tif and height.tif (overrides output.dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(terrainCmd)
}
