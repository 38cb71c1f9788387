package router

import (
	"github.com/gin-gonic/gin"

	"voxreview.app/relay/internal/http/handler"
)

// InboundRouter takes reviews pushed by platform webhooks.
func InboundRouter(rg *gin.RouterGroup, h *handler.ResponseHandler) {
	rg.POST("", h.Ingest)
	rg.POST("/:id/regenerate", h.Regenerate)
}

func ResponseRouter(rg *gin.RouterGroup, h *handler.ResponseHandler) {
	rg.GET("/:id", h.Get)
	rg.POST("/:id/submit", h.Submit)
	rg.POST("/:id/approve", h.Approve)
	rg.POST("/:id/reject", h.Reject)
}
