package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/pipeline"
	"github.com/idlab-discover/aoievidence-cli/internal/staging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an evidence bundle for an AOI",
	Long:  "Normalizes an AOI (GeoJSON or WKT), computes zonal forest statistics from the tile cache and writes a digest-checked evidence bundle. Use --publish to stage the bundle as a run.",
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	quiet, err := setupLogging(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	aoiPath := strings.TrimSpace(viper.GetString("build.aoi"))
	if aoiPath == "" {
		return apperr.User("--aoi is required")
	}

	var generatedAt time.Time
	if raw := strings.TrimSpace(viper.GetString("build.generated-at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperr.Userf("invalid --generated-at %q (expected RFC 3339)", raw)
		}
		generatedAt = t
	}

	p, _, err := newPipeline("build")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	buildUI := ui.NewBuildUI(out, quiet)
	pubUI := ui.NewPublishUI(out, quiet)

	req := pipeline.BuildRequest{
		AOIPath:        aoiPath,
		AOIID:          viper.GetString("build.aoi-id"),
		BundleID:       viper.GetString("build.bundle-id"),
		Date:           viper.GetString("build.date"),
		GeneratedAt:    generatedAt,
		InputsFile:     viper.GetString("build.inputs-file"),
		PolicyRefs:     viper.GetStringSlice("build.policy-ref"),
		PolicyRefFiles: viper.GetStringSlice("build.policy-ref-file"),
		Metrics:        metricRows(cmd),
		Publish:        viper.GetBool("build.publish"),
		RunID:          viper.GetString("build.run-id"),
	}
	if req.Publish && !viper.GetBool("build.yes") {
		req.Confirm = confirmEviction(buildUI, pubUI)
	}

	stages := make([]string, 0, 5)
	titles := make(map[string]string, len(pipeline.StageTitles))
	for _, s := range req.Stages() {
		stages = append(stages, string(s))
		titles[string(s)] = pipeline.StageTitles[s]
	}
	req.OnProgress = func(evt pipeline.ProgressEvent) {
		stage := string(evt.Stage)
		switch evt.Type {
		case pipeline.EventStageStart:
			buildUI.StartStage(stage, evt.Message)
		case pipeline.EventStageComplete:
			buildUI.CompleteStage(stage, evt.Message)
		case pipeline.EventStageSkipped:
			buildUI.SkipStage(stage, evt.Message)
		case pipeline.EventError:
			buildUI.FailStage(stage, evt.Message)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	buildUI.StartWorkflow(stages, titles)
	res, err := p.Build(ctx, req)
	buildUI.FinishWorkflow()
	if mErr := p.WriteMetrics(); mErr != nil && err == nil {
		err = fmt.Errorf("metrics textfile: %w", mErr)
	}
	if err != nil {
		return err
	}

	status := "ok"
	tileCount := 0
	if res.ZonalErr != nil {
		kind, _ := apperr.KindOf(res.ZonalErr)
		status = "error: " + string(kind)
	} else if res.Zonal != nil {
		tileCount = len(res.Zonal.Tiles)
	}
	buildUI.PrintSummary(ui.BuildSummary{
		BundleID:  res.Bundle.ID,
		Dir:       res.Bundle.Dir,
		Artifacts: len(res.Bundle.Manifest.Artifacts),
		Reused:    res.Bundle.Reused,
		TileCount: tileCount,
		Status:    status,
	})
	if res.Staged != nil {
		pubUI.PrintSummary(publishSummary(res.Staged))
	}
	return nil
}

// metricRows reads --metric without CSV splitting so notes may contain
// commas; the config key is used when the flag was not given.
func metricRows(cmd *cobra.Command) []string {
	if cmd.Flags().Changed("metric") {
		rows, _ := cmd.Flags().GetStringArray("metric")
		return rows
	}
	return viper.GetStringSlice("build.metric")
}

// confirmEviction pauses the workflow display while the prompt is open.
func confirmEviction(buildUI *ui.BuildUI, pubUI *ui.PublishUI) staging.ConfirmFunc {
	return func(evict []string) (bool, error) {
		buildUI.FinishWorkflow()
		return pubUI.ConfirmEviction(evict)
	}
}

func publishSummary(r *staging.StagedRun) ui.PublishSummary {
	return ui.PublishSummary{RunID: r.RunID, Dir: r.Dir, Runs: r.Runs, Evicted: r.Evicted}
}

func init() {
	buildCmd.Flags().StringP("aoi", "a", "", "AOI geometry file (.geojson, .json or .wkt)")
	buildCmd.Flags().String("aoi-id", "", "AOI identifier (default is the file name)")
	buildCmd.Flags().String("bundle-id", "", "Bundle identifier (default is <aoi-id>-<generated-at>)")
	buildCmd.Flags().String("date", "", "Bundle date directory YYYY-MM-DD (default is the generation date)")
	buildCmd.Flags().String("generated-at", "", "Generation time in RFC 3339 (default is now)")
	buildCmd.Flags().String("inputs-file", "", "YAML file declaring dataset and tool versions")
	buildCmd.Flags().StringSlice("policy-ref", nil, "Policy mapping reference (repeatable)")
	buildCmd.Flags().StringSlice("policy-ref-file", nil, "File with one policy mapping reference per line (repeatable)")
	buildCmd.Flags().StringArray("metric", nil, "Extra metric variable=value:unit[:source[:notes]] (repeatable)")
	buildCmd.Flags().Bool("publish", false, "Stage the bundle as a run after building")
	buildCmd.Flags().String("run-id", "", "Staged run id (default is the bundle id)")
	buildCmd.Flags().BoolP("yes", "y", false, "Evict old runs without asking")
	addConfigFlags(buildCmd,
		"evidence-root", "tile-dir", "tile-source", "upstream-template",
		"canopy-threshold", "cutoff-year", "projected-crs", "reproject", "workers", "dataset-version",
		"staging-root", "keep-n", "permanent", "report-json-name", "metrics-textfile",
	)

	// Bind all flags to viper for config file support
	bindFlags(buildCmd)
}
