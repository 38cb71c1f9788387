package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxreview.app/relay/internal/http/handler"
	"voxreview.app/relay/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	// MetricsHandler serves /metrics; nil uses the default registry.
	MetricsHandler http.Handler
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/api/v1")
	{
		intake := handler.NewIntakeHandler(services.Intake(), cfg.TraceHeaderName)
		reviews := handler.NewReviewHandler(services.Reviews(), cfg.TraceHeaderName)
		responses := handler.NewResponseHandler(services.Responses(), cfg.TraceHeaderName)

		BusinessRouter(v1.Group("/businesses/:business_id"), intake, reviews)
		ReviewRouter(v1.Group("/reviews"), reviews)
		TranscriptRouter(v1.Group("/transcripts"), reviews)
		InboundRouter(v1.Group("/inbound"), responses)
		ResponseRouter(v1.Group("/responses"), responses)
	}
}
