package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	identityhandler "escrow/internal/identity/handler"
	platformmetrics "escrow/internal/platform/metrics"
	settlementhandler "escrow/internal/settlement/handler"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/platform/httputil"
	"escrow/pkg/platform/middleware/metadata"
	request "escrow/pkg/platform/middleware/request"
	"escrow/pkg/platform/middleware/requesttime"
)

type routerDeps struct {
	log        *slog.Logger
	registry   *prometheus.Registry
	httpMetric *platformmetrics.Metrics
	identities identityhandler.Service
	settlement settlementhandler.Service
	adminToken string
	health     func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Recovery(d.log))
	r.Use(request.Logger(d.log))
	r.Use(requesttime.Middleware)
	r.Use(request.Latency(d.httpMetric))

	identityhandler.New(d.identities, d.log).Register(r)
	settlementhandler.New(d.settlement, d.log, settlementhandler.WithAdminToken(d.adminToken)).Register(r)

	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.health(ctx); err != nil {
			d.log.WarnContext(ctx, "health check failed", "error", err)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "unhealthy"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
