// Package pipeline wires the tile cache, zonal engine, bundle builder and
// staging publisher into one build.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/bundle"
	"github.com/idlab-discover/aoievidence-cli/internal/config"
	"github.com/idlab-discover/aoievidence-cli/internal/fetcher"
	"github.com/idlab-discover/aoievidence-cli/internal/objectstore"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
	"github.com/idlab-discover/aoievidence-cli/internal/staging"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// Options overrides what New would otherwise derive from the config.
type Options struct {
	Metrics *telemetry.PipelineMetrics
	// Store replaces the configured object store.
	Store objectstore.Store
	// Source replaces the configured upstream.
	Source fetcher.Source
	// HTTPClient is used for the http tile source.
	HTTPClient  *http.Client
	ToolVersion string
}

// Pipeline runs builds against one configuration.
type Pipeline struct {
	cfg     *config.Config
	cache   *tilecache.Cache
	engine  *zonal.Engine
	builder *bundle.Builder
	store   objectstore.Store
	metrics *telemetry.PipelineMetrics
}

// New wires the components described by cfg.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	source := opts.Source
	if source == nil {
		switch cfg.TileSource {
		case config.SourceHTTP:
			client := opts.HTTPClient
			if client == nil {
				client = fetcher.NewClient(0, cfg.UpstreamToken)
			}
			source = &fetcher.HTTPSource{Client: client, Template: cfg.UpstreamURL}
		default:
			source = &fetcher.SyntheticSource{Size: cfg.SyntheticSize, Bounds: cfg.SyntheticBounds, GridDeg: cfg.GridDeg}
		}
	}

	store := opts.Store
	if store == nil && cfg.ObjectStore.Enabled() {
		s3, err := objectstore.NewS3Store(objectstore.S3Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			Region:    cfg.ObjectStore.Region,
			Prefix:    cfg.ObjectStore.Prefix,
			UseSSL:    cfg.ObjectStore.Secure,
		})
		if err != nil {
			return nil, apperr.Userf("object store: %v", err)
		}
		store = s3
	}

	tiers := []tilecache.Tier{tilecache.NewMemoryTier(cfg.MemoryTTL), &tilecache.DiskTier{Root: cfg.TileDir}}
	if store != nil {
		tiers = append(tiers, &tilecache.ObjectTier{Store: store})
	}
	cache := tilecache.New(source, tilecache.Options{FetchTimeout: cfg.FetchTimeout, Metrics: opts.Metrics}, tiers...)
	logf("", "tile source %s, tiers %v", cache.SourceName(), cache.Tiers())

	return &Pipeline{
		cfg:     cfg,
		cache:   cache,
		engine:  zonal.New(cache, zonal.Options{Workers: cfg.Workers, GridDeg: cfg.GridDeg, Metrics: opts.Metrics}),
		builder: bundle.New(cfg.EvidenceRoot, bundle.Options{Metrics: opts.Metrics, ToolVersion: opts.ToolVersion}),
		store:   store,
		metrics: opts.Metrics,
	}, nil
}

// Cache exposes the tile cache.
func (p *Pipeline) Cache() *tilecache.Cache { return p.cache }

// BuildRequest describes one bundle build.
type BuildRequest struct {
	AOIPath string
	// AOIID defaults to the AOI file name without extension.
	AOIID    string
	BundleID string
	Date     string
	// GeneratedAt is recorded in the report; identical inputs and time give
	// an identical bundle. Zero means now, or the time of an existing bundle
	// when BundleID is set.
	GeneratedAt time.Time

	InputsFile     string
	PolicyRefs     []string
	PolicyRefFiles []string
	// Metrics are extra rows in variable=value:unit[:source[:notes]] form.
	Metrics []string

	Publish bool
	RunID   string
	Confirm staging.ConfirmFunc

	OnProgress ProgressCallback
}

// BuildResult is what a build produced.
type BuildResult struct {
	AOI      *aoi.AOI
	Zonal    *zonal.Result
	ZonalErr error
	Bundle   *bundle.Bundle
	Staged   *staging.StagedRun
}

// Build normalizes the AOI, computes zonal statistics, writes the bundle and
// optionally publishes it. Cancellation is checked between stages.
func (p *Pipeline) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	progress := req.OnProgress
	if progress == nil {
		progress = func(ProgressEvent) {} // no-op
	}
	fail := func(stage Stage, id string, err error) error {
		progress(ProgressEvent{Type: EventError, Stage: stage, AOIID: id, Error: err, Message: err.Error()})
		return err
	}

	// Inputs that are cheap to check go first so a typo does not cost a
	// tile download.
	declared := report.DeclaredInputs{}
	if req.InputsFile != "" {
		d, err := report.LoadDeclaredInputs(req.InputsFile)
		if err != nil {
			return nil, apperr.Userf("inputs file: %v", err)
		}
		declared = d
	}
	declared.Normalize()
	refs, err := report.CollectPolicyRefs(req.PolicyRefs, req.PolicyRefFiles)
	if err != nil {
		return nil, apperr.Userf("%v", err)
	}
	extra, err := report.ParseMetricRows(req.Metrics)
	if err != nil {
		return nil, err
	}
	res := &BuildResult{}

	// Normalize
	progress(ProgressEvent{Type: EventStageStart, Stage: StageNormalize, AOIID: req.AOIID, Message: req.AOIPath})
	a, err := aoi.NormalizeFile(req.AOIPath, req.AOIID)
	if err != nil {
		return nil, fail(StageNormalize, req.AOIID, err)
	}
	res.AOI = a
	progress(ProgressEvent{Type: EventStageComplete, Stage: StageNormalize, AOIID: a.ID, Message: fmt.Sprintf("%s, %d cell(s)", a.SourceKind, len(a.TileIDs(p.cfg.GridDeg)))})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Zonal statistics
	progress(ProgressEvent{Type: EventStageStart, Stage: StageZonal, AOIID: a.ID, Message: p.cache.SourceName()})
	res.Zonal, res.ZonalErr = p.engine.Compute(ctx, a, p.zonalParams())
	switch {
	case res.ZonalErr == nil:
		progress(ProgressEvent{Type: EventStageComplete, Stage: StageZonal, AOIID: a.ID, Message: fmt.Sprintf("%d pixel(s), %d tile(s)", res.Zonal.PixelCount, len(res.Zonal.Tiles))})
	case apperr.Is(res.ZonalErr, apperr.MissingCoverage) && ctx.Err() == nil:
		// Reported as metric error entries in the bundle.
		logf(a.ID, "zonal statistics unavailable: %v", res.ZonalErr)
		progress(ProgressEvent{Type: EventError, Stage: StageZonal, AOIID: a.ID, Error: res.ZonalErr, Message: string(apperr.MissingCoverage)})
	default:
		return nil, fail(StageZonal, a.ID, res.ZonalErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Bundle
	progress(ProgressEvent{Type: EventStageStart, Stage: StageBundle, AOIID: a.ID})
	b, err := p.builder.Build(ctx, bundle.Input{
		AOI:          a,
		Zonal:        res.Zonal,
		ZonalErr:     res.ZonalErr,
		Parameters:   p.reportParams(),
		Inputs:       declared,
		PolicyRefs:   refs,
		ExtraMetrics: extra,
		BundleID:     req.BundleID,
		Date:         req.Date,
		GeneratedAt:  req.GeneratedAt,
	})
	if err != nil {
		return nil, fail(StageBundle, a.ID, err)
	}
	res.Bundle = b
	msg := fmt.Sprintf("%d artifact(s)", len(b.Manifest.Artifacts))
	if b.Reused {
		msg = "unchanged"
	}
	progress(ProgressEvent{Type: EventStageComplete, Stage: StageBundle, AOIID: a.ID, Message: msg})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Upload
	if p.store == nil || res.Zonal == nil {
		progress(ProgressEvent{Type: EventStageSkipped, Stage: StageUpload, AOIID: a.ID, Message: "no object store"})
	} else {
		progress(ProgressEvent{Type: EventStageStart, Stage: StageUpload, AOIID: a.ID})
		key, err := p.uploadTilesManifest(ctx, b)
		if err != nil {
			return nil, fail(StageUpload, a.ID, err)
		}
		progress(ProgressEvent{Type: EventStageComplete, Stage: StageUpload, AOIID: a.ID, Message: key})
	}

	if !req.Publish {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(ProgressEvent{Type: EventStageStart, Stage: StagePublish, AOIID: a.ID})
	staged, err := p.Publish(ctx, b, req.RunID, req.Confirm)
	if err != nil {
		return nil, fail(StagePublish, a.ID, err)
	}
	res.Staged = staged
	progress(ProgressEvent{Type: EventStageComplete, Stage: StagePublish, AOIID: a.ID, Message: staged.RunID})
	return res, nil
}

// Publish stages an already built bundle.
func (p *Pipeline) Publish(ctx context.Context, b *bundle.Bundle, runID string, confirm staging.ConfirmFunc) (*staging.StagedRun, error) {
	pub := staging.New(p.cfg.StagingRoot, staging.Options{
		ReportJSONName: p.cfg.ReportJSONName,
		Permanent:      p.cfg.Permanent,
		Confirm:        confirm,
		Metrics:        p.metrics,
	})
	return pub.Publish(ctx, b, runID, p.cfg.KeepN)
}

// bucketEnsurer is implemented by stores that can create their bucket.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// uploadTilesManifest copies the bundle's tiles manifest next to the cached
// tiles so the object store records which tiles an AOI used.
func (p *Pipeline) uploadTilesManifest(ctx context.Context, b *bundle.Bundle) (string, error) {
	data, err := b.ReadFile(bundle.TilesManifestPath(b.AOIID))
	if err != nil {
		return "", err
	}
	if e, ok := p.store.(bucketEnsurer); ok {
		if err := e.EnsureBucket(ctx); err != nil {
			return "", err
		}
	}
	key := tilecache.ManifestKey(b.AOIID)
	if err := p.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	logf(b.AOIID, "uploaded %s", key)
	return key, nil
}

// TileList is the deterministic tile plan of an AOI.
type TileList struct {
	AOI  *aoi.AOI
	Keys []tiles.Key
	// Refs holds the resolved tiles when prefetching; keys the upstream
	// does not have are absent.
	Refs []tilecache.Ref
}

// Tiles lists the tile keys covering the AOI at path and, with prefetch,
// resolves them into the cache tiers.
func (p *Pipeline) Tiles(ctx context.Context, path, id string, prefetch bool) (*TileList, error) {
	a, err := aoi.NormalizeFile(path, id)
	if err != nil {
		return nil, err
	}
	keys := tiles.KeysFor(a.TileIDs(p.cfg.GridDeg), p.zonalParams().Layers)
	out := &TileList{AOI: a, Keys: keys}
	if !prefetch {
		return out, nil
	}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := p.cache.Resolve(ctx, k)
		if err != nil {
			if fetcher.IsNotFound(err) {
				logf(a.ID, "%s not available upstream", k)
				continue
			}
			return nil, err
		}
		out.Refs = append(out.Refs, t.Ref())
	}
	return out, nil
}

// WriteMetrics writes the metrics textfile when one is configured.
func (p *Pipeline) WriteMetrics() error {
	if p.cfg.MetricsTextfile == "" {
		return nil
	}
	return p.metrics.WriteTextfile(p.cfg.MetricsTextfile)
}

func (p *Pipeline) zonalParams() zonal.Params {
	params := zonal.DefaultParams()
	params.CanopyThreshold = p.cfg.CanopyThreshold
	params.CutoffYear = p.cfg.CutoffYear
	params.ProjectedCRS = p.cfg.ProjectedCRS
	params.Reproject = p.cfg.Reproject
	return params
}

func (p *Pipeline) reportParams() report.Parameters {
	return report.Parameters{
		CanopyThreshold: p.cfg.CanopyThreshold,
		CutoffYear:      p.cfg.CutoffYear,
		ProjectedCRS:    p.cfg.ProjectedCRS,
		Reproject:       p.cfg.Reproject,
		GridDeg:         p.cfg.GridDeg,
		DatasetVersion:  p.cfg.DatasetVersion,
		TileSource:      p.cache.SourceName(),
	}
}
