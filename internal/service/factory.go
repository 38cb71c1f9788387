package service

import (
	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/events"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/transcription"
)

// Components are the pipeline stages the services drive.
type Components struct {
	Normalizer  *pipeline.Normalizer
	Extractor   *pipeline.Extractor
	Synthesizer *pipeline.Synthesizer
	Responder   *pipeline.Responder
	Formatter   *pipeline.Formatter
	Dispatcher  *pipeline.Dispatcher
	Transcriber transcription.Transcriber
}

type Services struct {
	stores     StoreProvider
	txRunner   TxRunner
	queue      queue.Producer
	components Components
	events     events.Sink
	metrics    *metrics.Metrics
	cfg        config.Config
}

func NewServices(stores StoreProvider, txRunner TxRunner, producer queue.Producer, components Components, sink events.Sink, m *metrics.Metrics, cfg config.Config) *Services {
	return &Services{
		stores:     stores,
		txRunner:   txRunner,
		queue:      producer,
		components: components,
		events:     sink,
		metrics:    m,
		cfg:        cfg,
	}
}

func (s *Services) Intake() IntakeService {
	return NewIntakeService(s.stores, s.components.Normalizer, s.components.Transcriber, s.queue, s.cfg.Transcription)
}

func (s *Services) Reviews() ReviewService {
	return NewReviewService(ReviewDeps{
		Stores:      s.stores,
		TxRunner:    s.txRunner,
		Queue:       s.queue,
		Synthesizer: s.components.Synthesizer,
		Formatter:   s.components.Formatter,
		Dispatcher:  s.components.Dispatcher,
		Events:      s.events,
		Metrics:     s.metrics,
		Approval:    s.cfg.Approval,
		AutoSubmit:  s.cfg.Synthesis.AutoSubmit,
	})
}

func (s *Services) Responses() ResponseService {
	return NewResponseService(ResponseDeps{
		Stores:     s.stores,
		TxRunner:   s.txRunner,
		Queue:      s.queue,
		Extractor:  s.components.Extractor,
		Responder:  s.components.Responder,
		Formatter:  s.components.Formatter,
		Dispatcher: s.components.Dispatcher,
		Events:     s.events,
		Metrics:    s.metrics,
		Approval:   s.cfg.Approval,
	})
}

func (s *Services) Dispatcher() *pipeline.Dispatcher {
	return s.components.Dispatcher
}
