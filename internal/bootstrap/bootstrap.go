// Package bootstrap builds the process-wide dependencies shared by the relay
// binaries: config, telemetry, database, redis, stores and services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"voxreview.app/relay/common/id"
	"voxreview.app/relay/common/llm"
	"voxreview.app/relay/common/logger"
	"voxreview.app/relay/common/otel"
	"voxreview.app/relay/core/config"
	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/connector"
	"voxreview.app/relay/internal/events"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/service"
	"voxreview.app/relay/internal/store"
	"voxreview.app/relay/internal/transcription"
)

const (
	businessCacheSize = 1024
	businessCacheTTL  = time.Minute
	variantCacheSize  = 4096
)

type Runtime struct {
	Config    config.Config
	DB        *db.DB
	Redis     *redis.Client
	Metrics   *metrics.Metrics
	Stores    *store.Stores
	Producer  queue.Producer
	Schedule  *queue.Schedule
	Connector *connector.Registry
	Services  *service.Services

	telemetry *otel.Telemetry
	closers   []func() error
}

// OpenBase loads config, sets up logging and telemetry and connects to
// postgres. It is enough for commands that only touch the database.
func OpenBase(ctx context.Context, serviceType config.ServiceType) (*Runtime, error) {
	cfg, err := config.Load(serviceType)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, otel.Process{
		Component:   string(serviceType),
		Environment: cfg.Env,
		NodeID:      cfg.NodeID,
	})
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}
	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	}

	if err := id.Init(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.InfoContext(ctx, "database connected")

	return &Runtime{
		Config:    cfg,
		DB:        database,
		telemetry: telemetry,
	}, nil
}

// Open builds everything a binary needs to run the pipeline.
func Open(ctx context.Context, serviceType config.ServiceType) (*Runtime, error) {
	r, err := OpenBase(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	if err := r.wire(ctx); err != nil {
		r.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) wire(ctx context.Context) error {
	cfg := r.Config

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	r.Redis = redis.NewClient(redisOpts)
	r.closers = append(r.closers, r.Redis.Close)
	if err := r.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	if r.Metrics, err = metrics.New(nil); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sink, err := r.eventSink()
	if err != nil {
		return err
	}

	r.Stores = store.NewStores(r.DB.Conn()).WithBusinessCache(businessCacheSize, businessCacheTTL)
	r.Producer = queue.NewRedisProducer(r.Redis, cfg.Pipeline.RedisStream, slog.Default())
	r.closers = append(r.closers, r.Producer.Close)
	r.Schedule = queue.NewSchedule(r.Redis, cfg.Pipeline.ScheduleKey, cfg.Pipeline.RedisStream)
	r.Connector = connector.NewHTTPRegistry(cfg.Dispatch.ConnectorBaseURL, &http.Client{Timeout: cfg.Dispatch.PostTimeout})

	components, err := r.components(sink)
	if err != nil {
		return err
	}

	r.Services = service.NewServices(r.Stores, service.NewTxRunner(r.DB), r.Producer, components, sink, r.Metrics, cfg)
	return nil
}

func (r *Runtime) eventSink() (events.Sink, error) {
	cfg := r.Config.Events

	var sinks events.Multi
	if cfg.LogEvents {
		sinks = append(sinks, events.LogSink{})
	}
	if cfg.RedisStream != "" {
		sinks = append(sinks, events.NewRedisSink(r.Redis, cfg.RedisStream))
	}
	if cfg.NATSEnabled() {
		nats, err := events.NewNATSSink(cfg.NATSURL, cfg.NATSSubject, r.Config.OTel.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		r.closers = append(r.closers, nats.Close)
		sinks = append(sinks, nats)
	}
	return sinks, nil
}

func (r *Runtime) components(sink events.Sink) (service.Components, error) {
	cfg := r.Config

	profiles, err := pipeline.LoadProfiles(cfg.Platforms.ProfilesPath)
	if err != nil {
		return service.Components{}, err
	}
	formatter, err := pipeline.NewFormatter(profiles, variantCacheSize)
	if err != nil {
		return service.Components{}, fmt.Errorf("build formatter: %w", err)
	}

	extractor := pipeline.NewExtractor()
	c := service.Components{
		Normalizer: pipeline.NewNormalizer(cfg.Normalizer),
		Extractor:  extractor,
		Formatter:  formatter,
		Dispatcher: pipeline.NewDispatcher(pipeline.DispatcherDeps{
			Attempts:   r.Stores.Attempts(),
			Statuses:   r.Stores.Statuses(),
			Variants:   r.Stores.Variants(),
			Businesses: r.Stores.Businesses(),
			Connectors: r.Connector,
			Schedule:   r.Schedule,
			Events:     sink,
			Metrics:    r.Metrics,
		}, cfg.Dispatch),
	}

	// The API server runs without generation; only the stage workers need it.
	if cfg.GenerationLLM.Enabled() {
		client, err := llm.New(llm.Config{
			Provider:  cfg.GenerationLLM.Provider,
			APIKey:    cfg.GenerationLLM.APIKey,
			BaseURL:   cfg.GenerationLLM.BaseURL,
			Model:     cfg.GenerationLLM.Model,
			MaxTokens: cfg.GenerationLLM.MaxTokens,
		})
		if err != nil {
			return service.Components{}, fmt.Errorf("build llm client: %w", err)
		}
		gen := pipeline.NewLLMGenerator(client)
		c.Synthesizer = pipeline.NewSynthesizer(gen, extractor, cfg.Synthesis, r.Metrics)
		c.Responder = pipeline.NewResponder(gen, extractor, cfg.Synthesis, r.Metrics)
		slog.Info("generation enabled", "provider", cfg.GenerationLLM.Provider, "model", client.Model())
	}
	if cfg.Transcription.Enabled() {
		c.Transcriber = transcription.NewOpenAI(cfg.Transcription)
	}
	return c, nil
}

// Close releases everything Open acquired, newest first.
func (r *Runtime) Close(ctx context.Context) {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	if r.DB != nil {
		r.DB.Close()
	}
	errs = append(errs, r.telemetry.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		slog.ErrorContext(ctx, "shutdown errors", "error", err)
	}
}
