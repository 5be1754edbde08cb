package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"schemadb/pkg/dberrors"
	"schemadb/pkg/schema"
	"schemadb/pkg/transport"
	"schemadb/pkg/types"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeBinary      = "application/octet-stream"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
	maxPushBytes           = 64 << 20
)

// iMigration - интерфейс менеджера схемы, который обслуживает сервер.
type iMigration interface {
	EncodeLocal() ([]byte, error)
	HandleDefinitionsPush(data []byte) error
	ResetLocalSchema(ctx context.Context) error
	Ready() bool
	Schema() *schema.Schema
}

type iMetricsSnapshot interface {
	Snapshot() map[string]float64
}

// Server is the node's HTTP surface: the internode schema endpoints plus the
// operator admin endpoints.
type Server struct {
	mgr        iMigration
	metrics    iMetricsSnapshot // optional
	httpServer *http.Server
	addr       string
}

func NewServer(mgr iMigration, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		mgr:  mgr,
		addr: ":" + port,
	}
}

// WithMetrics attaches a metrics snapshot source for the /metrics endpoint.
func (s *Server) WithMetrics(m iMetricsSnapshot) *Server {
	s.metrics = m
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createHandler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.addr)
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) createHandler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Get(transport.PullEndpoint, s.handleSchemaPull)
	r.Post(transport.PushEndpoint, s.handleDefinitionsPush)

	r.Get("/admin/schema", s.handleSchemaView)
	r.Get("/admin/ready", s.handleReady)
	r.Post("/admin/schema/reset", s.handleSchemaReset)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		s.writeJSON(w, http.StatusOK, map[string]float64{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// callerProto reads the peer's advertised protocol major, 0 when absent.
func callerProto(r *http.Request) types.ProtoVersion {
	v, err := strconv.Atoi(r.Header.Get(transport.ProtoHeader))
	if err != nil {
		return 0
	}
	return types.ProtoVersion(v)
}

// handleSchemaPull serves the full local definition set as an encoded batch.
// A caller from a newer protocol major is refused; it must not merge state
// it could misread.
func (s *Server) handleSchemaPull(w http.ResponseWriter, r *http.Request) {
	if callerProto(r) > transport.CurrentVersion {
		s.writeError(w, http.StatusUpgradeRequired, "peer protocol version too new")
		return
	}
	data, err := s.mgr.EncodeLocal()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set(transport.ProtoHeader, strconv.Itoa(int(transport.CurrentVersion)))
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write pull response", "error", err)
	}
}

// handleDefinitionsPush accepts an encoded batch, queues its application and
// acknowledges receipt before it is applied.
func (s *Server) handleDefinitionsPush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if err := s.mgr.HandleDefinitionsPush(data); err != nil {
		if errors.Is(err, dberrors.ErrCorruptStream) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSchemaView(w http.ResponseWriter, _ *http.Request) {
	sch := s.mgr.Schema()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":   sch.Version().String(),
		"keyspaces": sch.Definitions(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ready": s.mgr.Ready()})
}

func (s *Server) handleSchemaReset(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ResetLocalSchema(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
