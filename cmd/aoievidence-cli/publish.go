package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/bundle"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:   "publish <bundle-dir>",
	Short: "Stage a built bundle as a run",
	Long:  "Copies the report, summary and metrics of a built bundle into a new run under the staging root, regenerates the run index and applies retention.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, err := setupLogging(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		b, err := bundle.Load(args[0])
		if err != nil {
			return apperr.Userf("failed to load bundle: %v", err)
		}

		p, _, err := newPipeline("publish")
		if err != nil {
			return err
		}

		pubUI := ui.NewPublishUI(cmd.OutOrStdout(), quiet)
		var confirm func([]string) (bool, error)
		if !viper.GetBool("publish.yes") {
			confirm = pubUI.ConfirmEviction
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		staged, err := p.Publish(ctx, b, viper.GetString("publish.run-id"), confirm)
		if mErr := p.WriteMetrics(); mErr != nil && err == nil {
			err = mErr
		}
		if err != nil {
			return err
		}
		pubUI.PrintSummary(publishSummary(staged))
		return nil
	},
}

func init() {
	publishCmd.Flags().String("run-id", "", "Staged run id (default is the bundle id)")
	publishCmd.Flags().BoolP("yes", "y", false, "Evict old runs without asking")
	addConfigFlags(publishCmd, "staging-root", "keep-n", "permanent", "report-json-name", "metrics-textfile")

	bindFlags(publishCmd)
}
