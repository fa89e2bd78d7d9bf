package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/stash/pkg/api"
	"github.com/platinummonkey/stash/pkg/config"
	"github.com/platinummonkey/stash/pkg/drift"
	"github.com/platinummonkey/stash/pkg/httputil"
	"github.com/platinummonkey/stash/pkg/importer"
	"github.com/platinummonkey/stash/pkg/index"
	"github.com/platinummonkey/stash/pkg/observability"
)

// Server exposes the local status and control API. Imports started over
// HTTP run in the background against the server's lifetime context, so a
// dropped request connection never cancels a running batch.
type Server struct {
	cfg      config.DaemonConfig
	router   *mux.Router
	idx      *index.LocalAssetIndex
	orch     *importer.Orchestrator
	drift    *drift.Watcher
	logger   *observability.Logger
	metrics  *observability.Metrics
	health   *observability.HealthChecker
	registry *prometheus.Registry

	// baseCtx outlives individual requests and is cancelled on shutdown.
	baseCtx context.Context
}

// NewServer creates the daemon API server and registers its routes.
func NewServer(cfg config.DaemonConfig, idx *index.LocalAssetIndex, orch *importer.Orchestrator, watcher *drift.Watcher, logger *observability.Logger, metrics *observability.Metrics, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		idx:      idx,
		orch:     orch,
		drift:    watcher,
		logger:   logger,
		metrics:  metrics,
		health:   observability.NewHealthChecker(),
		registry: registry,
		baseCtx:  context.Background(),
	}

	s.health.Register("index", func(ctx context.Context) error {
		// The index is in-memory; reachable means healthy.
		_ = s.idx.Len()
		return nil
	})

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	// Tracked asset routes
	s.router.HandleFunc("/api/v1/assets", s.listAssets).Methods("GET")
	s.router.HandleFunc("/api/v1/assets/{org}/{project}/{asset}", s.getAsset).Methods("GET")

	// Import batch routes
	s.router.HandleFunc("/api/v1/imports", s.beginImport).Methods("POST")
	s.router.HandleFunc("/api/v1/imports", s.listImports).Methods("GET")
	s.router.HandleFunc("/api/v1/imports/finished", s.clearFinished).Methods("DELETE")
	s.router.HandleFunc("/api/v1/imports/{id}", s.getImport).Methods("GET")
	s.router.HandleFunc("/api/v1/imports/{id}/cancel", s.cancelImport).Methods("POST")

	// Removal and update routes
	s.router.HandleFunc("/api/v1/removals", s.removeAssets).Methods("POST")
	s.router.HandleFunc("/api/v1/updates", s.updateToLatest).Methods("POST")

	// Drift reconcile trigger
	s.router.HandleFunc("/api/v1/drift/scan", s.driftScan).Methods("POST")

	s.router.Handle("/health", s.health.Handler()).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts the HTTP server and blocks until ctx is cancelled or a
// termination signal arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.baseCtx = ctx

	server := &http.Server{
		Addr:              s.cfg.Host + ":" + s.cfg.Port,
		Handler:           otelhttp.NewHandler(s.router, "stash-daemon"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sm := observability.NewShutdownManager(s.logger, server, s.cfg.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", server.Addr).Info("daemon listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("daemon server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		return sm.Shutdown(shutdownCtx)
	}
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"assets": s.idx.All(),
		"count":  s.idx.Len(),
	})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tracked := api.TrackedAssetIdentifier{
		OrgID:     vars["org"],
		ProjectID: vars["project"],
		AssetID:   vars["asset"],
	}
	entry := s.idx.LookupTracked(tracked)
	if entry == nil {
		httputil.WriteNotFound(w, "asset not tracked: "+tracked.Key())
		return
	}

	resp := map[string]interface{}{"entry": entry}
	if remote, ok := s.idx.CachedRemote(tracked); ok {
		resp["remote"] = remote
	}
	httputil.WriteSuccess(w, resp)
}

type importRequest struct {
	// Assets are org/project/asset[@version] strings.
	Assets []string `json:"assets"`
	// Latest ignores pinned versions and imports the newest available
	// version of each requested asset.
	Latest bool `json:"latest,omitempty"`
}

func (s *Server) beginImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Assets) == 0 {
		httputil.WriteBadRequest(w, "assets must not be empty")
		return
	}

	ids := make([]api.AssetIdentifier, 0, len(req.Assets))
	for _, raw := range req.Assets {
		id, err := api.ParseIdentifier(raw)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		ids = append(ids, id)
	}

	kind := api.KindImport
	if req.Latest {
		kind = api.KindUpdateToLatest
	}

	bulk, err := s.orch.BeginImport(s.baseCtx, ids, kind, nil)
	if err != nil {
		s.writeImportError(w, err)
		return
	}
	httputil.WriteAccepted(w, bulk.Snapshot())
}

func (s *Server) writeImportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Shutdown cancelled the batch before any files changed; this is
		// a cancelled outcome, not a server failure.
		httputil.WriteSuccess(w, map[string]interface{}{
			"status": api.StatusCancelled.String(),
		})
	case errors.Is(err, api.ErrOperationInProgress):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, api.ErrInvalidIdentifier):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, api.ErrAssetUnavailable):
		httputil.WriteNotFound(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	recent := s.orch.Recent()
	batches := make([]importer.BulkSnapshot, 0, len(recent))
	for _, b := range recent {
		batches = append(batches, b.Snapshot())
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"live":    s.orch.LiveOperations(),
		"batches": batches,
	})
}

func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	bulk, ok := s.orch.FindBulk(mux.Vars(r)["id"])
	if !ok {
		httputil.WriteNotFound(w, "import batch not found")
		return
	}
	httputil.WriteSuccess(w, bulk.Snapshot())
}

func (s *Server) cancelImport(w http.ResponseWriter, r *http.Request) {
	bulk, ok := s.orch.FindBulk(mux.Vars(r)["id"])
	if !ok {
		httputil.WriteNotFound(w, "import batch not found")
		return
	}
	if !s.orch.CancelBulk(bulk) {
		httputil.WriteConflict(w, "cancellation declined")
		return
	}
	httputil.WriteAccepted(w, bulk.Snapshot())
}

func (s *Server) clearFinished(w http.ResponseWriter, r *http.Request) {
	s.orch.ClearFinished()
	httputil.WriteNoContent(w)
}

type removalRequest struct {
	Assets []string `json:"assets"`
}

func (s *Server) removeAssets(w http.ResponseWriter, r *http.Request) {
	var req removalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Assets) == 0 {
		httputil.WriteBadRequest(w, "assets must not be empty")
		return
	}

	ids := make([]api.AssetIdentifier, 0, len(req.Assets))
	for _, raw := range req.Assets {
		id, err := api.ParseIdentifier(raw)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		ids = append(ids, id)
	}

	result, err := s.orch.Remove(r.Context(), ids)
	if err != nil {
		if errors.Is(err, api.ErrInvalidIdentifier) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// updateToLatest starts an update batch. With an empty body it sweeps
// every tracked asset.
func (s *Server) updateToLatest(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if r.ContentLength > 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	var ids []api.AssetIdentifier
	if len(req.Assets) > 0 {
		for _, raw := range req.Assets {
			id, err := api.ParseIdentifier(raw)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}
			ids = append(ids, id.Tracked().WithVersion(""))
		}
	} else {
		for _, entry := range s.idx.All() {
			ids = append(ids, entry.Asset.ID.Tracked().WithVersion(""))
		}
	}
	if len(ids) == 0 {
		httputil.WriteSuccess(w, map[string]interface{}{"batches": []interface{}{}})
		return
	}

	bulk, err := s.orch.BeginImport(s.baseCtx, ids, api.KindUpdateToLatest, nil)
	if err != nil {
		s.writeImportError(w, err)
		return
	}
	httputil.WriteAccepted(w, bulk.Snapshot())
}

func (s *Server) driftScan(w http.ResponseWriter, r *http.Request) {
	if s.drift == nil {
		httputil.WriteNotFound(w, "drift watcher disabled")
		return
	}
	if err := s.drift.Scan(r.Context()); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
