package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "List or prefetch the tiles an AOI needs",
	Long:  "Prints the Hansen GFC tile keys covering an AOI in build order. With --prefetch every tile is resolved into the cache tiers and its digest is printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, err := setupLogging(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		aoiPath := strings.TrimSpace(viper.GetString("tiles.aoi"))
		if aoiPath == "" {
			return apperr.User("--aoi is required")
		}
		prefetch := viper.GetBool("tiles.prefetch")

		p, _, err := newPipeline("tiles")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var spinner *ui.SimpleSpinner
		if prefetch && !quiet {
			spinner = ui.NewSimpleSpinner(cmd.ErrOrStderr(), "Resolving tiles")
			spinner.Start()
		}
		list, err := p.Tiles(ctx, aoiPath, viper.GetString("tiles.aoi-id"), prefetch)
		if spinner != nil {
			if err != nil {
				spinner.Stop(false, err.Error())
			} else {
				spinner.Stop(true, fmt.Sprintf("%d of %d tile(s) cached", len(list.Refs), len(list.Keys)))
			}
		}
		if mErr := p.WriteMetrics(); mErr != nil && err == nil {
			err = mErr
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !prefetch {
			for _, k := range list.Keys {
				fmt.Fprintln(out, k.String())
			}
			return nil
		}
		// key, sha256, size_bytes, source url
		for _, r := range list.Refs {
			fmt.Fprintf(out, "%s/%s\t%s\t%d\t%s\n", r.Layer, r.TileID, r.SHA256, r.SizeBytes, r.SourceURL)
		}
		return nil
	},
}

func init() {
	tilesCmd.Flags().StringP("aoi", "a", "", "AOI geometry file (.geojson, .json or .wkt)")
	tilesCmd.Flags().String("aoi-id", "", "AOI identifier (default is the file name)")
	tilesCmd.Flags().Bool("prefetch", false, "Resolve every tile into the cache")
	addConfigFlags(tilesCmd, "tile-dir", "tile-source", "upstream-template", "grid-deg", "synthetic-size", "metrics-textfile")

	bindFlags(tilesCmd)
}
