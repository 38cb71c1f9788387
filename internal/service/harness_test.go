package service_test

import (
	"time"

	. "github.com/onsi/gomega"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/connector"
	"voxreview.app/relay/internal/events"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/service"
	"voxreview.app/relay/internal/store/storetest"
)

type harness struct {
	mem        *storetest.Memory
	tx         *memTxRunner
	producer   *mockProducer
	recorder   *events.Recorder
	schedule   *mockSchedule
	gen        *mockGenerator
	google     *connector.Fake
	yelp       *connector.Fake
	dispatcher *pipeline.Dispatcher
	reviews    service.ReviewService
	responses  service.ResponseService
}

func tacoShop() model.BusinessContext {
	return model.BusinessContext{
		BusinessID:    7,
		Name:          "Taqueria Sol",
		Language:      "en",
		ContactEmail:  "hola@taqueriasol.example",
		BrandVoice:    model.BrandVoice{Tone: "warm", Persona: "Maria, owner", SignOff: "Maria"},
		KnownEntities: model.KnownEntities{Staff: []string{"Maria", "Jake"}},
		Platforms: map[model.Platform]model.Credentials{
			model.PlatformGoogle: {AccessToken: "g-token", LocationID: "loc-1"},
			model.PlatformYelp:   {AccessToken: "y-token", AccountID: "biz-1"},
		},
	}
}

func newHarness(biz model.BusinessContext, autoSubmit bool) *harness {
	h := &harness{
		mem:      storetest.New(),
		producer: &mockProducer{},
		recorder: &events.Recorder{},
		schedule: newMockSchedule(),
		gen:      &mockGenerator{},
		google:   connector.NewFake(model.PlatformGoogle),
		yelp:     connector.NewFake(model.PlatformYelp),
	}
	h.tx = &memTxRunner{mem: h.mem}
	h.mem.PutBusiness(biz)

	profiles, err := pipeline.LoadProfiles("")
	Expect(err).NotTo(HaveOccurred())
	formatter, err := pipeline.NewFormatter(profiles, 64)
	Expect(err).NotTo(HaveOccurred())

	h.dispatcher = pipeline.NewDispatcher(pipeline.DispatcherDeps{
		Attempts:   h.mem.Attempts(),
		Statuses:   h.mem.Statuses(),
		Variants:   h.mem.Variants(),
		Businesses: h.mem.Businesses(),
		Connectors: connector.NewRegistry(h.google, h.yelp),
		Schedule:   h.schedule,
		Events:     h.recorder,
	}, config.DispatchConfig{MaxAttempts: 3, MinDelay: time.Minute, JitterWindow: time.Hour})

	synthCfg := config.SynthesisConfig{
		MinLength:         20,
		MaxLength:         600,
		MaxRegenerations:  1,
		GenerationRetries: 1,
		GenerationTimeout: 50 * time.Millisecond,
		GenerationBackoff: time.Millisecond,
	}
	approval := config.ApprovalConfig{ReviewTTL: 72 * time.Hour}

	h.reviews = service.NewReviewService(service.ReviewDeps{
		Stores:      h.mem,
		TxRunner:    h.tx,
		Queue:       h.producer,
		Synthesizer: pipeline.NewSynthesizer(h.gen, nil, synthCfg, nil),
		Formatter:   formatter,
		Dispatcher:  h.dispatcher,
		Events:      h.recorder,
		Approval:    approval,
		AutoSubmit:  autoSubmit,
	})
	h.responses = service.NewResponseService(service.ResponseDeps{
		Stores:     h.mem,
		TxRunner:   h.tx,
		Queue:      h.producer,
		Responder:  pipeline.NewResponder(h.gen, nil, synthCfg, nil),
		Formatter:  formatter,
		Dispatcher: h.dispatcher,
		Events:     h.recorder,
		Approval:   approval,
	})
	return h
}

func (h *harness) eventsOfKind(kind model.EventKind) []model.Event {
	var out []model.Event
	for _, ev := range h.recorder.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
