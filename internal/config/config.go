// Package config captures the viper configuration once into an immutable
// Config. Components receive values from Config and never read viper or the
// environment themselves.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/viper"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/projection"
	"github.com/idlab-discover/aoievidence-cli/internal/staging"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// EnvPrefix prefixes environment overrides, e.g. AOIEVIDENCE_OBJECTSTORE_SECRET_KEY.
const EnvPrefix = "AOIEVIDENCE"

// Tile sources.
const (
	SourceHTTP      = "http"
	SourceSynthetic = "synthetic"
)

// DefaultDatasetVersion is the Hansen GFC release assumed when none is set.
const DefaultDatasetVersion = "GFC-2024-v1.12"

// ObjectStore configures the S3-compatible tile tier. An empty endpoint
// disables the tier.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	Secure    bool
}

// Enabled reports whether an object store is configured.
func (o ObjectStore) Enabled() bool { return o.Endpoint != "" }

// Config is the resolved configuration of one CLI invocation.
type Config struct {
	EvidenceRoot string

	// Tile cache
	TileDir       string
	TileSource    string
	MemoryTTL     time.Duration
	FetchTimeout  time.Duration
	GridDeg       int
	UpstreamURL   string
	UpstreamToken string
	SyntheticSize int
	// SyntheticBounds overrides the synthetic tile extent; nil covers the grid cell.
	SyntheticBounds *orb.Bound
	ObjectStore     ObjectStore

	// Zonal statistics
	CanopyThreshold int
	CutoffYear      int
	ProjectedCRS    string
	Reproject       bool
	Workers         int
	DatasetVersion  string

	// Staging
	StagingRoot    string
	KeepN          int
	Permanent      []string
	ReportJSONName string

	MetricsTextfile string
}

// setting maps a config key to the command flag that may override it.
type setting struct {
	key  string
	flag string
	def  any
}

var settings = []setting{
	{"evidence.root", "evidence-root", "evidence"},
	{"tiles.dir", "tile-dir", ".cache/tiles"},
	{"tiles.source", "tile-source", SourceSynthetic},
	{"tiles.memory-ttl", "memory-ttl", "0s"},
	{"tiles.fetch-timeout", "fetch-timeout", tilecache.DefaultFetchTimeout.String()},
	{"tiles.grid-deg", "grid-deg", tiles.DefaultGridDeg},
	{"upstream.template", "upstream-template", ""},
	{"upstream.token", "upstream-token", ""},
	{"synthetic.size", "synthetic-size", fetcher.DefaultSyntheticSize},
	{"synthetic.bounds", "synthetic-bounds", ""},
	{"objectstore.endpoint", "objectstore-endpoint", ""},
	{"objectstore.access-key", "objectstore-access-key", ""},
	{"objectstore.secret-key", "objectstore-secret-key", ""},
	{"objectstore.bucket", "objectstore-bucket", ""},
	{"objectstore.region", "objectstore-region", ""},
	{"objectstore.prefix", "objectstore-prefix", ""},
	{"objectstore.secure", "objectstore-secure", true},
	{"zonal.canopy-threshold", "canopy-threshold", zonal.DefaultCanopyThreshold},
	{"zonal.cutoff-year", "cutoff-year", zonal.DefaultCutoffYear},
	{"zonal.projected-crs", "projected-crs", projection.DefaultEqualArea},
	{"zonal.reproject", "reproject", true},
	{"zonal.workers", "workers", zonal.DefaultWorkers},
	{"dataset.version", "dataset-version", DefaultDatasetVersion},
	{"staging.root", "staging-root", "staging"},
	{"staging.keep-n", "keep-n", 10},
	{"staging.permanent", "permanent", staging.DefaultPermanent},
	{"staging.report-json-name", "report-json-name", staging.DefaultReportJSONName},
	{"metrics.textfile", "metrics-textfile", ""},
}

// SetDefaults registers defaults and environment overrides on v.
func SetDefaults(v *viper.Viper) {
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// FlagKey is the viper key a command flag is bound to.
func FlagKey(command, flag string) string { return command + "." + flag }

// resolver picks, per setting, the command flag when it was given and the
// config key otherwise.
type resolver struct {
	v       *viper.Viper
	command string
	byKey   map[string]string
}

func (r resolver) key(k string) string {
	if r.command != "" {
		if f, ok := r.byKey[k]; ok {
			fk := FlagKey(r.command, f)
			if r.v.IsSet(fk) {
				return fk
			}
		}
	}
	return k
}

func (r resolver) str(k string) string       { return strings.TrimSpace(r.v.GetString(r.key(k))) }
func (r resolver) num(k string) int          { return r.v.GetInt(r.key(k)) }
func (r resolver) flag(k string) bool        { return r.v.GetBool(r.key(k)) }
func (r resolver) list(k string) []string    { return r.v.GetStringSlice(r.key(k)) }
func (r resolver) dur(k string) string       { return r.v.GetString(r.key(k)) }

// Load resolves the configuration for command. Flags the command was given
// take precedence over config file, environment and defaults.
func Load(v *viper.Viper, command string) (*Config, error) {
	r := resolver{v: v, command: command, byKey: make(map[string]string, len(settings))}
	for _, s := range settings {
		r.byKey[s.key] = s.flag
	}

	cfg := &Config{
		EvidenceRoot:    r.str("evidence.root"),
		TileDir:         r.str("tiles.dir"),
		TileSource:      strings.ToLower(r.str("tiles.source")),
		GridDeg:         r.num("tiles.grid-deg"),
		UpstreamURL:     r.str("upstream.template"),
		UpstreamToken:   r.str("upstream.token"),
		SyntheticSize:   r.num("synthetic.size"),
		CanopyThreshold: r.num("zonal.canopy-threshold"),
		CutoffYear:      r.num("zonal.cutoff-year"),
		ProjectedCRS:    r.str("zonal.projected-crs"),
		Reproject:       r.flag("zonal.reproject"),
		Workers:         r.num("zonal.workers"),
		DatasetVersion:  r.str("dataset.version"),
		StagingRoot:     r.str("staging.root"),
		KeepN:           r.num("staging.keep-n"),
		ReportJSONName:  r.str("staging.report-json-name"),
		MetricsTextfile: r.str("metrics.textfile"),
		ObjectStore: ObjectStore{
			Endpoint:  r.str("objectstore.endpoint"),
			AccessKey: r.str("objectstore.access-key"),
			SecretKey: r.str("objectstore.secret-key"),
			Bucket:    r.str("objectstore.bucket"),
			Region:    r.str("objectstore.region"),
			Prefix:    r.str("objectstore.prefix"),
			Secure:    r.flag("objectstore.secure"),
		},
	}
	for _, p := range r.list("staging.permanent") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.Permanent = append(cfg.Permanent, p)
		}
	}

	var err error
	if cfg.MemoryTTL, err = duration("tiles.memory-ttl", r.dur("tiles.memory-ttl")); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = duration("tiles.fetch-timeout", r.dur("tiles.fetch-timeout")); err != nil {
		return nil, err
	}
	if b := r.str("synthetic.bounds"); b != "" {
		bound, err := ParseBounds(b)
		if err != nil {
			return nil, err
		}
		cfg.SyntheticBounds = &bound
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TileSource {
	case SourceSynthetic:
	case SourceHTTP:
		if c.UpstreamURL == "" {
			return apperr.Userf("tile source %q needs upstream.template (--upstream-template)", SourceHTTP)
		}
		if !strings.Contains(c.UpstreamURL, "{tile_id}") || !strings.Contains(c.UpstreamURL, "{layer}") {
			return apperr.Userf("upstream template %q must contain {layer} and {tile_id}", c.UpstreamURL)
		}
	default:
		return apperr.Userf("invalid tile source %q (expected %s|%s)", c.TileSource, SourceHTTP, SourceSynthetic)
	}
	if c.CanopyThreshold < 0 || c.CanopyThreshold > 100 {
		return apperr.Userf("canopy threshold %d must be within 0..100", c.CanopyThreshold)
	}
	if c.GridDeg <= 0 || 180%c.GridDeg != 0 {
		return apperr.Userf("grid size %d must divide 180", c.GridDeg)
	}
	if c.Workers <= 0 {
		return apperr.Userf("workers must be positive, got %d", c.Workers)
	}
	if c.SyntheticSize <= 0 {
		return apperr.Userf("synthetic tile size must be positive, got %d", c.SyntheticSize)
	}
	if c.KeepN < 0 {
		return apperr.Userf("keep-n must not be negative, got %d", c.KeepN)
	}
	if _, err := projection.Lookup(c.ProjectedCRS); err != nil {
		return apperr.Userf("projected CRS: %v", err)
	}
	if c.EvidenceRoot == "" {
		return apperr.Userf("evidence root must not be empty")
	}
	if c.ObjectStore.Enabled() && c.ObjectStore.Bucket == "" {
		return apperr.Userf("object store %s needs a bucket", c.ObjectStore.Endpoint)
	}
	return nil
}

func duration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, apperr.Userf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

// ParseBounds parses "minLon,minLat,maxLon,maxLat".
func ParseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, apperr.Userf("bounds %q must be minLon,minLat,maxLon,maxLat", s)
	}
	var f [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, apperr.Userf("bounds %q: %q is not a number", s, p)
		}
		f[i] = v
	}
	if f[0] >= f[2] || f[1] >= f[3] {
		return orb.Bound{}, apperr.Userf("bounds %q are empty", s)
	}
	return orb.Bound{Min: orb.Point{f[0], f[1]}, Max: orb.Point{f[2], f[3]}}, nil
}

// String renders the settings that shape results, without credentials.
func (c *Config) String() string {
	return fmt.Sprintf("source=%s grid=%d canopy=%d cutoff=%d crs=%s reproject=%t dataset=%s",
		c.TileSource, c.GridDeg, c.CanopyThreshold, c.CutoffYear, c.ProjectedCRS, c.Reproject, c.DatasetVersion)
}
