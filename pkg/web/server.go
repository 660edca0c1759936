// Package web serves the copilot over HTTP. Runs stream their steps as
// server-sent events or over a websocket.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/agent"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/prompts"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/config"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/db"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/manifest"
)

//go:embed static/*
var staticFiles embed.FS

const maxBodyBytes = 1 << 20

// VersionInfo holds build version information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// Copilot is the part of *ai.Client the server drives.
type Copilot interface {
	Run(ctx context.Context, task prompts.Task, l agent.Listener) (string, error)
	Generate(ctx context.Context, instructions string) (*ai.Generated, error)
	IsReady() bool
	GetModel() string
	GetProvider() string
	TestConnection(ctx context.Context) *ai.ConnectionStatus
}

type Server struct {
	cfg         *config.Config
	copilot     Copilot
	versionInfo *VersionInfo
	server      *http.Server
}

// RunRequest starts one copilot run.
type RunRequest struct {
	Task         string `json:"task"` // execute, diagnose, audit or analyze
	Instructions string `json:"instructions,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
	Pod          string `json:"pod,omitempty"`
	Resource     string `json:"resource,omitempty"`
	Name         string `json:"name,omitempty"`
}

func (r RunRequest) task() prompts.Task {
	kind := prompts.Kind(r.Task)
	if kind == "" {
		kind = prompts.KindExecute
	}
	return prompts.Task{
		Kind:         kind,
		Instructions: r.Instructions,
		Namespace:    r.Namespace,
		Pod:          r.Pod,
		Resource:     r.Resource,
		Name:         r.Name,
	}
}

// validate checks the request before any streaming starts.
func (r RunRequest) validate() error {
	t := r.task()
	if t.Kind == prompts.KindGenerate {
		return fmt.Errorf("generate requests go to /api/generate")
	}
	_, err := t.Prompt()
	return err
}

type GenerateRequest struct {
	Instructions string `json:"instructions"`
}

type GenerateResponse struct {
	Reply    string `json:"reply"`
	Manifest string `json:"manifest"`
	Summary  string `json:"summary,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewServer(cfg *config.Config, copilot Copilot, versionInfo *VersionInfo) *Server {
	return &Server{cfg: cfg, copilot: copilot, versionInfo: versionInfo}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", withRecovery(s.handleHealth))
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/llm/test", withRecovery(s.handleLLMTest))
	mux.HandleFunc("/api/run", withRecovery(s.handleRun))
	mux.HandleFunc("/api/generate", withRecovery(s.handleGenerate))
	mux.HandleFunc("/api/audit", withRecovery(s.handleAudit))
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Errorf("web: static files: %v", err)
	} else {
		mux.Handle("/", http.FileServer(http.FS(staticFS)))
	}

	return securityHeadersMiddleware(maxBodyMiddleware(maxBodyBytes)(mux))
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Web.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No read or write timeout; runs stream for minutes.
		IdleTimeout: 120 * time.Second,
	}

	log.Infof("web: listening on %s", s.cfg.Web.Listen)
	fmt.Printf("\n  Web server started at http://%s\n", displayAddr(s.cfg.Web.Listen))
	return s.server.ListenAndServe()
}

func displayAddr(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "localhost" + listen
	}
	return listen
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func withRecovery(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("PANIC in HTTP handler: %v (%s %s)", err, r.Method, r.URL.Path)
				InternalError(w, "An unexpected error occurred")
			}
		}()
		handler(w, r)
	}
}

// maxBodyMiddleware limits request body size to prevent memory exhaustion
func maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware adds security headers to all responses
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"connect-src 'self' ws: wss:; "+
				"frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) version() string {
	if s.versionInfo != nil && s.versionInfo.Version != "" {
		return s.versionInfo.Version
	}
	return "dev"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
		"ai_ready":  s.copilot != nil && s.copilot.IsReady(),
		"db_ready":  db.DB != nil,
		"provider":  s.cfg.LLM.Provider,
		"model":     s.cfg.LLM.Model,
		"version":   s.version(),
	})
}

// handleLLMTest sends one small request to the model and reports latency
// and errors.
func (s *Server) handleLLMTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	if s.copilot == nil {
		WriteError(w, NewAPIError(ErrCodeLLMNotConfigured, "no AI client"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, s.copilot.TestConnection(ctx))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := VersionInfo{Version: "dev", BuildTime: "unknown", GitCommit: "unknown"}
	if s.versionInfo != nil {
		if s.versionInfo.Version != "" {
			info.Version = s.versionInfo.Version
		}
		if s.versionInfo.BuildTime != "" {
			info.BuildTime = s.versionInfo.BuildTime
		}
		if s.versionInfo.GitCommit != "" {
			info.GitCommit = s.versionInfo.GitCommit
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// ready writes an error and returns false when no run can start.
func (s *Server) ready(w http.ResponseWriter) bool {
	if s.copilot == nil || !s.copilot.IsReady() {
		WriteError(w, NewAPIError(ErrCodeLLMNotConfigured, ""))
		return false
	}
	return true
}

// handleRun streams a run as server-sent events, ending with a done event.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if !s.ready(w) {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	listener := NewEventListener(func(ev Event) {
		if err := sse.WriteEvent(ev); err != nil {
			log.Debugf("web: dropping %s event: %v", ev.Type, err)
		}
	})
	if _, err := s.copilot.Run(r.Context(), req.task(), listener); err != nil {
		log.Warnf("web: run failed: %v", err)
	}
	_ = sse.WriteEvent(Event{Type: EventDone})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body: "+err.Error())
		return
	}
	if req.Instructions == "" {
		BadRequest(w, "instructions are required")
		return
	}
	if !s.ready(w) {
		return
	}

	g, err := s.copilot.Generate(r.Context(), req.Instructions)
	if g == nil {
		LLMError(w, err, s.copilot.GetProvider())
		return
	}

	resp := GenerateResponse{Reply: g.Reply, Manifest: g.Manifest}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	resp.Summary = manifest.Summary(g.Objects)
	writeJSON(w, http.StatusOK, resp)
}

// handleAudit lists recorded command executions, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	filter := db.ExecutionFilter{
		Limit:      parseIntSafe(q.Get("limit"), 100),
		RunID:      q.Get("run_id"),
		Tool:       q.Get("tool"),
		OnlyErrors: q.Get("errors") == "true",
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			BadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = t
	}

	executions, err := db.ListExecutions(filter)
	if err != nil {
		WriteError(w, NewAPIError(ErrCodeDatabaseError, err.Error()))
		return
	}
	if executions == nil {
		executions = []db.Execution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

// parseIntSafe parses a string to int, returning defaultVal on error.
func parseIntSafe(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
