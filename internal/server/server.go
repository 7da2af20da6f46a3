// Package server exposes the query orchestrator and artifact links over
// HTTP. Every error response carries the machine-readable error kind
// alongside a human-readable message.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"uniassist/internal/docstore"
	"uniassist/internal/errkind"
	"uniassist/internal/llm"
	"uniassist/internal/orchestrator"
)

// Documents resolves artifact lookups.
type Documents interface {
	GetDocument(ctx context.Context, id string) (*docstore.Document, error)
}

// Probe is one named dependency check for the health endpoint.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP surface.
type Server struct {
	orch       *orchestrator.Orchestrator
	docs       Documents
	objects    orchestrator.Presigner
	probes     []Probe
	presignTTL time.Duration
	log        *zap.Logger
}

// New wires the HTTP server.
func New(orch *orchestrator.Orchestrator, docs Documents, objects orchestrator.Presigner, probes []Probe, presignTTL time.Duration, log *zap.Logger) *Server {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		orch:       orch,
		docs:       docs,
		objects:    objects,
		probes:     probes,
		presignTTL: presignTTL,
		log:        log,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog)

	r.Post("/query", s.handleQuery)
	r.Post("/query/stream", s.handleQueryStream)
	r.Get("/files/{documentID}/download/{artifactID}", s.handleDownload)
	r.Get("/files/{documentID}/preview/{artifactID}", s.handlePreview)
	r.Get("/healthz", s.handleHealth)
	return r
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.orch.Wait()
	return nil
}

// requestLog tags every request with an id and logs its outcome.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		started := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("elapsed_ms", time.Since(started).Milliseconds()))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// queryRequest is the JSON body of /query and /query/stream.
type queryRequest struct {
	Query               string  `json:"query"`
	SessionID           string  `json:"session_id"`
	UserID              string  `json:"user_id"`
	Collection          string  `json:"collection"`
	EnableRAG           *bool   `json:"enable_rag"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	IncludeSources      *bool   `json:"include_sources"`
	Temperature         float64 `json:"temperature"`
	MaxTokens           int     `json:"max_tokens"`
	ImageBase64         string  `json:"image_base64"`
	ImageMimeType       string  `json:"image_mime_type"`
}

func (q *queryRequest) toRequest() (orchestrator.Request, error) {
	req := orchestrator.Request{
		Query:          q.Query,
		SessionID:      q.SessionID,
		UserID:         q.UserID,
		Collection:     q.Collection,
		EnableRAG:      true,
		TopK:           q.TopK,
		Threshold:      q.SimilarityThreshold,
		IncludeSources: true,
		Temperature:    q.Temperature,
		MaxTokens:      q.MaxTokens,
	}
	if q.EnableRAG != nil {
		req.EnableRAG = *q.EnableRAG
	}
	if q.IncludeSources != nil {
		req.IncludeSources = *q.IncludeSources
	}
	if q.SimilarityThreshold < 0 || q.SimilarityThreshold > 1 {
		return req, errkind.Errorf(errkind.InvalidInput, "similarity_threshold must be between 0 and 1")
	}
	if q.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(q.ImageBase64)
		if err != nil {
			return req, errkind.E(errkind.InvalidInput, "image_base64 is not valid base64", err)
		}
		mime := q.ImageMimeType
		if mime == "" {
			mime = "image/png"
		}
		req.Image = &llm.Image{Data: data, MimeType: mime}
	}
	return req, nil
}

func (s *Server) decodeQuery(r *http.Request) (orchestrator.Request, error) {
	var body queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return orchestrator.Request{}, errkind.E(errkind.InvalidInput, "malformed request body", err)
	}
	return body.toRequest()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := s.orch.Execute(r.Context(), req)
	status := http.StatusOK
	if resp.Metadata.ErrorKind != "" {
		status = errkind.HTTPStatus(resp.Metadata.ErrorKind)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errkind.Errorf(errkind.Internal, "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.orch.ExecuteStream(r.Context(), req) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("failed to marshal stream event", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
		flusher.Flush()
	}
}

// resolveArtifact maps a path pair to the stored artifact. The artifact
// id must round-trip to the document id in the path.
func (s *Server) resolveArtifact(ctx context.Context, documentID, artifactID string) (*docstore.Artifact, error) {
	docID, index, ok := orchestrator.ParseArtifactID(artifactID)
	if !ok || docID != documentID {
		return nil, errkind.Errorf(errkind.NotFound, "artifact %q not found", artifactID)
	}
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if index >= len(doc.Artifacts) {
		return nil, errkind.Errorf(errkind.NotFound, "artifact %q not found", artifactID)
	}
	return &doc.Artifacts[index], nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	artifactID := chi.URLParam(r, "artifactID")

	a, err := s.resolveArtifact(r.Context(), documentID, artifactID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	url, err := s.objects.Presign(r.Context(), a.StorageKey, s.presignTTL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"download_url": url,
		"file_name":    a.FileName,
		"mime_type":    a.MimeType,
		"size_bytes":   a.SizeBytes,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	artifactID := chi.URLParam(r, "artifactID")

	a, err := s.resolveArtifact(r.Context(), documentID, artifactID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !orchestrator.Previewable(a.MimeType, a.FileName) {
		s.writeError(w, errkind.Errorf(errkind.InvalidInput, "artifact %q is not previewable", artifactID))
		return
	}
	key := a.PreviewKey
	if key == "" {
		key = a.StorageKey
	}
	url, err := s.objects.Presign(r.Context(), key, s.presignTTL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"preview_url": url,
		"file_name":   a.FileName,
		"mime_type":   a.MimeType,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.probes))
	healthy := true
	for _, p := range s.probes {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := p.Check(ctx)
		cancel()
		if err != nil {
			components[p.Name] = err.Error()
			healthy = false
		} else {
			components[p.Name] = "ok"
		}
	}
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{"status": status, "components": components})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	msg := err.Error()
	var classified *errkind.Error
	if errors.As(err, &classified) {
		msg = classified.Message
	}
	s.writeJSON(w, errkind.HTTPStatus(kind), map[string]any{
		"error_kind": kind,
		"message":    msg,
	})
}
