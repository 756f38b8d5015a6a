package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/bundle"
	"github.com/idlab-discover/aoievidence-cli/internal/config"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/pipeline"
	"github.com/idlab-discover/aoievidence-cli/internal/provenance"
	"github.com/idlab-discover/aoievidence-cli/internal/staging"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
	"github.com/idlab-discover/aoievidence-cli/internal/validator"
	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "aoievidence-cli",
	Short: "Evidence bundles for areas of interest",
	Long:  longDescription,

	SilenceUsage: true,

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initUIAndBanner(cmd)
	},

	// When invoked without a subcommand, show help (with banner) instead of
	// printing a plain usage output.
	RunE: func(cmd *cobra.Command, args []string) error {
		initUIAndBanner(cmd)
		return cmd.Help()
	},
}

var cfgFile string

// SetVersion sets the version for the CLI
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetRootCmd returns the root command for use with fang
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aoievidence-cli.yaml or ./config/defaults.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: quiet|standard|debug")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Ensure `--help` (and help subcommands) show the banner consistently.
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		initUIAndBanner(cmd)
		defaultHelp(cmd, args)
	})

	rootCmd.AddCommand(buildCmd, publishCmd, verifyCmd, validateCmd, tilesCmd)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
		printConfigUsed()
		return
	}

	home, err := os.UserHomeDir()
	cobra.CheckErr(err)

	viper.SetConfigType("yaml")
	viper.AddConfigPath(home)
	viper.AddConfigPath("./config")

	// Try .aoievidence-cli first
	viper.SetConfigName(".aoievidence-cli")
	err = viper.ReadInConfig()

	// If not found, try defaults.yaml
	notFound := &viper.ConfigFileNotFoundError{}
	if err != nil && errors.As(err, notFound) {
		viper.SetConfigName("defaults")
		err = viper.ReadInConfig()
	}

	switch {
	case err != nil && !errors.As(err, notFound):
		cobra.CheckErr(err)
	case err != nil:
		// The config file is optional, we shouldn't exit when the config is not found
	default:
		printConfigUsed()
	}
}

func printConfigUsed() {
	if logLevel() == "quiet" {
		return
	}
	configMsg := ui.Dim.Render("Using config file: ") + ui.Secondary.Render(viper.ConfigFileUsed())
	fmt.Fprintln(os.Stderr, configMsg)
}

const longDescription = "Builds tamper-evident evidence bundles for areas of interest: zonal forest statistics from Hansen GFC tiles, a report document with digests of every artifact, and a staging tree for review."

func initUIAndBanner(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	cmd.Root().Long = ui.RenderGradientBanner(ui.BannerASCII) + "\n" + longDescription
}

func logLevel() string {
	level := strings.ToLower(strings.TrimSpace(viper.GetString("log.level")))
	if level == "" {
		level = "standard"
	}
	return level
}

// setupLogging validates the log level and wires package loggers to w.
func setupLogging(w io.Writer) (quiet bool, err error) {
	level := logLevel()
	switch level {
	case "quiet", "standard", "debug":
		// ok
	default:
		return false, fmt.Errorf("invalid --log-level %q (expected quiet|standard|debug)", level)
	}

	if level == "debug" {
		validator.SetLogger(w)
		aoi.SetLogger(w)
		fetcher.SetLogger(w)
		tilecache.SetLogger(w)
		zonal.SetLogger(w)
		provenance.SetLogger(w)
		bundle.SetLogger(w)
		staging.SetLogger(w)
		pipeline.SetLogger(w)
	}
	return level == "quiet", nil
}

// newPipeline resolves the configuration for command and wires a pipeline
// with a fresh metrics registry.
func newPipeline(command string) (*pipeline.Pipeline, *config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), command)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := telemetry.NewPipelineMetrics(prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(cfg, pipeline.Options{Metrics: metrics, ToolVersion: rootCmd.Version})
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

// addConfigFlags registers the flags that override config keys for a
// command. Only flags given on the command line take effect.
func addConfigFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		switch name {
		case "canopy-threshold", "cutoff-year", "workers", "keep-n", "grid-deg", "synthetic-size":
			cmd.Flags().Int(name, 0, configFlagUsage[name])
		case "reproject", "objectstore-secure":
			cmd.Flags().Bool(name, false, configFlagUsage[name])
		case "permanent":
			cmd.Flags().StringSlice(name, nil, configFlagUsage[name])
		default:
			cmd.Flags().String(name, "", configFlagUsage[name])
		}
	}
}

var configFlagUsage = map[string]string{
	"evidence-root":     "Directory bundles are written under",
	"tile-dir":          "Disk cache directory for tiles",
	"tile-source":       "Tile upstream: http|synthetic",
	"upstream-template": "URL template for the http upstream ({layer}, {tile_id})",
	"grid-deg":          "Tile grid size in degrees",
	"synthetic-size":    "Pixel size of synthetic tiles",
	"canopy-threshold":  "Tree cover percent at or above which a pixel is forest",
	"cutoff-year":       "Loss after this year counts as post-cutoff",
	"projected-crs":     "Equal-area CRS used for pixel areas",
	"reproject":         "Compute pixel areas in the projected CRS",
	"workers":           "Concurrent tile workers",
	"dataset-version":   "Hansen GFC dataset version recorded in the report",
	"staging-root":      "Staging root directory",
	"keep-n":            "Staged runs to keep (0 keeps all)",
	"permanent":         "Run ids never evicted by retention",
	"report-json-name":  "Report file name inside a staged run",
	"metrics-textfile":  "Write Prometheus metrics to this textfile",
}

// bindFlags binds every flag of cmd into viper as <command>.<flag>.
func bindFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(config.FlagKey(cmd.Name(), f.Name), f)
	})
}
