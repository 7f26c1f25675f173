// Package pipeline runs one sequential harvest: discovery, then for every
// discovered product extraction, asset retrieval, normalization, persistence
// and an optional completion event.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// EventName is the attribute value of per-product completion events.
const EventName = "product.harvested"

// Discoverer enumerates product URLs and their listing metadata.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, []harvest.ProductStub)
}

// Extractor turns a detail page URL into a raw record.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) harvest.RawDetailRecord
}

// Retriever downloads the assets a raw record references.
type Retriever interface {
	Retrieve(ctx context.Context, rec harvest.RawDetailRecord) harvest.AssetManifest
}

// Normalizer produces the canonical record.
type Normalizer interface {
	Normalize(raw harvest.RawDetailRecord, stubMetadata map[string]any, manifest harvest.AssetManifest) harvest.Outcome
}

// Config bounds a run.
type Config struct {
	// MaxProducts stops the run after that many products; zero means all.
	MaxProducts int
	// Topic receives completion events when a Publisher is set.
	Topic string
}

// Deps are the collaborators of a run. Publisher is optional.
type Deps struct {
	Discoverer Discoverer
	Extractor  Extractor
	Retriever  Retriever
	Normalizer Normalizer
	Sinks      []harvest.RecordSink
	Publisher  harvest.Publisher
	Hasher     harvest.Hasher
	Clock      harvest.Clock
	IDs        harvest.IDGenerator
	Logger     *zap.Logger
}

// Event is published once per persisted product.
type Event struct {
	RunID      string `json:"run_id"`
	ProductID  string `json:"product_id"`
	Status     string `json:"status"`
	Validated  bool   `json:"validated"`
	RecordPath string `json:"record_path"`
}

// Summary counts what a run did.
type Summary struct {
	RunID         string
	Discovered    int
	Processed     int
	Validated     int
	Persisted     int
	SinkErrors    int
	Published     int
	PublishErrors int
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New checks that every required collaborator is present.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, fmt.Errorf("discoverer is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("retriever is required")
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is required")
	case len(deps.Sinks) == 0:
		return nil, fmt.Errorf("at least one record sink is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Publisher != nil && cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required when a publisher is set")
	}
	if cfg.MaxProducts < 0 {
		cfg.MaxProducts = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, log: logger.Named("pipeline")}, nil
}

// Run harvests every discovered product in discovery order. Per-product
// failures are logged and counted; only cancellation or a missing run id
// ends the run with an error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	summary := Summary{RunID: runID}
	logger := p.log.With(zap.String("run_id", runID))
	logger.Info("harvest started")

	urls, stubs := p.deps.Discoverer.Discover(ctx)
	total := min(len(urls), len(stubs))
	if len(urls) != len(stubs) {
		logger.Warn("discovery returned mismatched lists", zap.Int("urls", len(urls)), zap.Int("stubs", len(stubs)))
	}
	summary.Discovered = total
	if p.cfg.MaxProducts > 0 && total > p.cfg.MaxProducts {
		total = p.cfg.MaxProducts
	}
	logger.Info("discovery finished", zap.Int("products", summary.Discovered), zap.Int("to_process", total))

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("harvest interrupted", zap.Int("processed", summary.Processed), zap.Error(err))
			return summary, fmt.Errorf("harvest interrupted after %d products: %w", summary.Processed, err)
		}
		env := p.Process(ctx, runID, urls[i], stubs[i])
		summary.Processed++
		if env.Outcome.Validated() {
			summary.Validated++
		}
		p.persist(ctx, logger, env, &summary)
	}

	logger.Info("harvest finished",
		zap.Int("processed", summary.Processed),
		zap.Int("validated", summary.Validated),
		zap.Int("persisted", summary.Persisted),
		zap.Int("sink_errors", summary.SinkErrors),
		zap.Int("publish_errors", summary.PublishErrors),
	)
	return summary, nil
}

// Process runs one product through extraction, retrieval and normalization
// and stamps the result. It never fails: an unreadable page still yields a
// record carrying the listing identity.
func (p *Pipeline) Process(ctx context.Context, runID, productURL string, stub harvest.ProductStub) harvest.Envelope {
	logger := p.log.With(zap.String("url", productURL), zap.String("code", stub.Code))

	raw := p.deps.Extractor.Extract(ctx, productURL)
	if raw.IsEmpty() {
		logger.Warn("detail page yielded nothing; emitting listing metadata only")
	}
	if raw.ProductID == "" {
		raw.ProductID = stub.Code
	}

	manifest := p.deps.Retriever.Retrieve(ctx, raw)
	outcome := p.deps.Normalizer.Normalize(raw, stub.RawMetadata, manifest)
	metrics.ObserveProduct(outcome.Validated())

	env := harvest.Envelope{
		RunID:       runID,
		Outcome:     outcome,
		HarvestedAt: p.deps.Clock.Now(),
	}
	data, err := json.Marshal(outcome.Record)
	if err == nil {
		env.Digest, err = p.deps.Hasher.Hash(data)
	}
	if err != nil {
		logger.Warn("record digest failed", zap.Error(err))
	}
	logger.Debug("product normalized",
		zap.String("product_id", outcome.ProductID()),
		zap.Bool("validated", outcome.Validated()),
	)
	return env
}

func (p *Pipeline) persist(ctx context.Context, logger *zap.Logger, env harvest.Envelope, summary *Summary) {
	logger = logger.With(zap.String("product_id", env.Outcome.ProductID()))

	var recordPath string
	for _, sink := range p.deps.Sinks {
		loc, err := sink.Save(ctx, env)
		if err != nil {
			summary.SinkErrors++
			logger.Warn("record sink failed", zap.Error(err))
			continue
		}
		if recordPath == "" {
			recordPath = loc
		}
	}
	if recordPath == "" {
		return
	}
	summary.Persisted++

	if p.deps.Publisher == nil {
		return
	}
	event := Event{
		RunID:      env.RunID,
		ProductID:  env.Outcome.ProductID(),
		Status:     env.Outcome.Status(),
		Validated:  env.Outcome.Validated(),
		RecordPath: recordPath,
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		summary.PublishErrors++
		logger.Warn("completion event failed", zap.Error(err))
		return
	}
	summary.Published++
}
