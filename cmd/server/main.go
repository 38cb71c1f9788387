package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/bootstrap"
	"voxreview.app/relay/internal/http/middleware"
	httprouter "voxreview.app/relay/internal/http/router"
	"voxreview.app/relay/internal/service"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	rt, err := bootstrap.Open(ctx, config.ServiceTypeServer)
	if err != nil {
		// slog may not be configured yet
		os.Stderr.WriteString("relay server: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg := rt.Config
	slog.InfoContext(ctx, "relay starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, rt.Services),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second, // audio uploads
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	rt.Close(shutdownCtx)

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/metrics"))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
	})

	return router
}

const banner = `
 _  _  __  _  _  ____  ____  _  _  __  ____  _  _
/ )( \/  \( \/ )(  _ \(  __)/ )( \(  )(  __)/ )( \
\ \/ (  O ))  (  )   / ) _) \ \/ / )(  ) _) \ /\ /
 \__/ \__/(_/\_)(__\_)(____) \__/ (__)(____)(_/\_)
                                     relay server
`
