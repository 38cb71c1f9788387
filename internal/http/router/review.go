package router

import (
	"github.com/gin-gonic/gin"

	"voxreview.app/relay/internal/http/handler"
)

func BusinessRouter(rg *gin.RouterGroup, intake *handler.IntakeHandler, reviews *handler.ReviewHandler) {
	rg.POST("/transcripts", intake.Submit)
	rg.GET("/reviews", reviews.List)
}

func ReviewRouter(rg *gin.RouterGroup, h *handler.ReviewHandler) {
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Edit)
	rg.POST("/:id/submit", h.Submit)
	rg.POST("/:id/approve", h.Approve)
	rg.POST("/:id/reject", h.Reject)
	rg.POST("/:id/redispatch", h.Redispatch)
}

func TranscriptRouter(rg *gin.RouterGroup, h *handler.ReviewHandler) {
	rg.POST("/:id/resynthesize", h.Resynthesize)
}
