// Package server exposes transcription, text turns and synthesis over HTTP
// for text clients and remote front ends.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	log "log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"kina/internal/appindex"
	"kina/internal/decision"
	"kina/internal/events"
	"kina/internal/session"
	"kina/pkg/audioconv"
)

const (
	maxJSONBody  = 1 << 20
	maxAudioBody = 32 << 20

	SessionHeader = "X-Session-ID"
)

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

type Apps interface {
	Search(query string, limit int) []appindex.Match
	Len() int
	Rebuild(ctx context.Context) (int, error)
}

type Cycles interface {
	Recent(ctx context.Context, limit int) ([]session.Report, error)
}

// Deps lists the collaborators. Cycles, Events, Metrics, Counter and State
// may be nil; their endpoints then answer 404 or omit the field.
type Deps struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
	Sessions    *session.Manager
	Executor    session.Executor
	Apps        Apps
	Cycles      Cycles
	Events      http.Handler
	Metrics     http.Handler
	Counter     func(endpoint string, code int)
	State       func() session.State
	TempDir     string
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	if deps.TempDir == "" {
		deps.TempDir = os.TempDir()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}

	s.handle("POST /api/transcribe", s.handleTranscribe)
	s.handle("POST /api/process-text", s.handleProcessText)
	s.handle("POST /api/synthesize", s.handleSynthesize)
	s.handle("POST /api/reset", s.handleReset)
	s.handle("GET /api/apps", s.handleApps)
	s.handle("POST /api/apps/rebuild", s.handleRebuild)
	s.handle("GET /api/cycles", s.handleCycles)
	s.handle("GET /healthz", s.handleHealth)

	if deps.Events != nil {
		s.mux.Handle("GET /ws", deps.Events)
	}
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		if r.Method != http.MethodGet && !events.LocalOrigin(r) {
			writeError(rec, http.StatusForbidden, "cross-origin requests are not allowed")
		} else {
			h(rec, r)
		}
		if s.deps.Counter != nil {
			s.deps.Counter(r.Pattern, rec.code)
		}
		log.Debug("HTTP", "method", r.Method, "path", r.URL.Path, "code", rec.code)
	}))
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBody)
	f, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, bodyStatus(err), "multipart field 'audio' is required")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, bodyStatus(err), "failed to read audio")
		return
	}

	pcm, err := audioconv.Decode(bytes.NewReader(data), audioconv.Options{})
	if err != nil {
		if errors.Is(err, audioconv.ErrUnsupported) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "failed to decode audio: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": s.deps.Transcriber.Transcribe(r.Context(), pcm)})
}

type textRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type textResponse struct {
	Response  string         `json:"response"`
	Status    string         `json:"status"`
	SessionID string         `json:"session_id"`
	Source    string         `json:"source,omitempty"`
	Action    map[string]any `json:"action,omitempty"`
}

func (s *Server) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	id, decider := s.deps.Sessions.Get(sessionID(r, req.SessionID))
	reply := session.Respond(r.Context(), decider, s.deps.Executor, req.Text)

	resp := textResponse{
		Response:  reply.Response,
		Status:    "ok",
		SessionID: id,
	}
	if reply.Decision != nil {
		resp.Source = string(reply.Decision.Source())
	}
	if fa, ok := reply.Decision.(decision.FinalAnswer); ok && fa.Failure != nil {
		resp.Status = "decision_error"
	}
	if reply.Action != nil {
		resp.Status = string(reply.Action.Status)
		resp.Action = map[string]any{"name": reply.Action.Action}
		if len(reply.Action.Payload) > 0 {
			resp.Action["payload"] = reply.Action.Payload
		}
	}

	w.Header().Set(SessionHeader, id)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	tmp, err := os.CreateTemp(s.deps.TempDir, "kina-*.wav")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate output")
		return
	}
	out := tmp.Name()
	tmp.Close()
	defer os.Remove(out)

	if err := s.deps.Synthesizer.Synthesize(r.Context(), req.Text, out); err != nil {
		log.Error("Synthesis failed", "err", err)
		writeError(w, http.StatusBadGateway, "synthesis failed: "+err.Error())
		return
	}

	data, err := os.ReadFile(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read output")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	id := sessionID(r, req.SessionID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "reset": s.deps.Sessions.Reset(id)})
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	resp := map[string]any{"count": s.deps.Apps.Len()}
	if q != "" {
		matches := s.deps.Apps.Search(q, limit)
		if matches == nil {
			matches = []appindex.Match{}
		}
		resp["matches"] = matches
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Apps.Rebuild(r.Context())
	if err != nil {
		log.Error("Index rebuild failed", "err", err)
		writeError(w, http.StatusInternalServerError, "rebuild failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cycles == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cycles, err := s.deps.Cycles.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cycles == nil {
		cycles = []session.Report{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok", "apps": s.deps.Apps.Len()}
	if s.deps.State != nil {
		resp["state"] = s.deps.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

func sessionID(r *http.Request, fromBody string) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return fromBody
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, bodyStatus(err), "invalid request body")
		return false
	}
	return true
}

func bodyStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
