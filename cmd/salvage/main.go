// Entry point for the salvage extraction service — chi router, SQLite
// artifact and trace stores, optional MCP stdio transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/salvage/artifact"
	"github.com/hazyhaar/salvage/dbopen"
	"github.com/hazyhaar/salvage/render"
	"github.com/hazyhaar/salvage/textpipe"
	"github.com/hazyhaar/salvage/tracelog"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logDst := io.Writer(os.Stdout)
	if cfg.MCPTransport == "stdio" {
		// stdout carries the MCP protocol in stdio mode.
		logDst = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logDst, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Artifact DB.
	artifactDB, err := dbopen.Open(cfg.ArtifactDB, dbopen.WithMkdirAll(), dbopen.WithSchema(artifact.Schema))
	if err != nil {
		slog.Error("artifact db", "error", err)
		os.Exit(1)
	}
	defer artifactDB.Close()
	artifacts := artifact.NewStore(artifactDB, cfg.ArtifactBaseURL)

	// Trace DB.
	traceDB, err := dbopen.Open(cfg.TraceDB, dbopen.WithMkdirAll(), dbopen.WithSchema(tracelog.Schema))
	if err != nil {
		slog.Error("trace db", "error", err)
		os.Exit(1)
	}
	defer traceDB.Close()
	traces := tracelog.NewStore(traceDB)
	defer traces.Close()

	// Renderer backend.
	renderer := buildRenderer(cfg, logger)
	if c, ok := renderer.(*render.Chrome); ok {
		defer c.Close()
	}

	// OCR and remote fallback clients.
	var ocr textpipe.Recognizer
	if cfg.OCR.Endpoint != "" {
		ocr = textpipe.NewHTTPRecognizer(cfg.OCR.Endpoint, cfg.OCR.APIKey,
			time.Duration(cfg.OCR.TimeoutSec)*time.Second)
	}
	var remote textpipe.RemoteExtractor
	if cfg.Remote.Endpoint != "" {
		remote = textpipe.NewRemoteClient(cfg.Remote.Endpoint,
			time.Duration(cfg.Remote.TimeoutSec)*time.Second)
	}

	pipeline := textpipe.New(textpipe.Config{
		MaxFileSize:    int64(cfg.MaxFileMB) * 1024 * 1024,
		OCRLanguages:   cfg.OCR.Languages,
		OCRPageLimit:   cfg.OCR.PageLimit,
		RemoteEndpoint: cfg.Remote.Endpoint,
		RemoteTimeout:  time.Duration(cfg.Remote.TimeoutSec) * time.Second,
		OCRTimeout:     time.Duration(cfg.OCR.TimeoutSec) * time.Second,
		Logger:         logger,
	}, textpipe.Services{
		Renderer: renderer,
		OCR:      ocr,
		Remote:   remote,
		Uploader: artifacts,
	})

	// MCP stdio mode: serve tools over stdin/stdout and exit.
	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "salvage",
			Version: "1.0.0",
		}, nil)
		pipeline.RegisterMCP(mcpSrv)
		slog.Info("MCP stdio starting")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio", "error", err)
			os.Exit(1)
		}
		return
	}

	h := &handlers{
		cfg:       cfg,
		pipeline:  pipeline,
		artifacts: artifacts,
		traces:    traces,
	}

	r := chi.NewRouter()
	r.Use(h.rateLimit)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{
			"status":   "ok",
			"renderer": renderer != nil && renderer.Available(),
			"ocr":      ocr != nil,
			"remote":   remote != nil,
		})
	})

	r.Post("/v1/extract", h.extract)
	r.Get("/v1/artifacts/{id}", h.artifactByID)
	r.Get("/v1/runs/{id}/trace", h.runTrace)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// buildRenderer picks the raster backend. "auto" prefers poppler and falls
// back to Chrome; "none" disables rasterization (and with it OCR).
func buildRenderer(cfg *Config, logger *slog.Logger) render.Renderer {
	switch cfg.Render.Backend {
	case "none":
		return render.Unavailable{}
	case "poppler":
		return &render.Poppler{DPI: cfg.Render.DPI}
	case "chrome":
		return render.NewChrome(render.ChromeConfig{RemoteURL: cfg.Render.ChromeURL, Logger: logger})
	}
	if render.DetectPoppler() {
		logger.Info("renderer", "backend", "poppler")
		return &render.Poppler{DPI: cfg.Render.DPI}
	}
	chrome := render.NewChrome(render.ChromeConfig{RemoteURL: cfg.Render.ChromeURL, Logger: logger})
	if chrome.Available() {
		logger.Info("renderer", "backend", "chrome")
		return chrome
	}
	logger.Warn("renderer", "backend", "none")
	return render.Unavailable{}
}

// --- Handlers ---

type handlers struct {
	cfg       *Config
	pipeline  *textpipe.Pipeline
	artifacts *artifact.Store
	traces    *tracelog.Store

	limiters sync.Map // ip -> *rate.Limiter
}

// extract accepts a multipart upload under "file" and runs the pipeline.
// The response wraps the pipeline result with a run id whose trace is
// queryable at /v1/runs/{id}/trace.
func (h *handlers) extract(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.cfg.MaxFileMB)*1024*1024 + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, 400, fmt.Errorf("multipart field %q: %w", "file", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, 400, fmt.Errorf("read upload: %w", err))
		return
	}

	opts := textpipe.Options{
		UploadImages: r.FormValue("upload_images") == "true",
	}
	if langs := r.FormValue("ocr_languages"); langs != "" {
		opts.OCR.Languages = splitCSV(langs)
	}

	runID := uuid.NewString()
	res, err := h.pipeline.Extract(r.Context(), data, header.Filename, header.Header.Get("Content-Type"), opts)
	if err != nil {
		if errors.Is(err, textpipe.ErrUnreadableInput) {
			writeError(w, 422, err)
			return
		}
		writeError(w, 500, err)
		return
	}

	for _, e := range res.Meta.Trace {
		h.traces.RecordAsync(&tracelog.Entry{
			RunID:       runID,
			Stage:       e.Stage,
			Status:      string(e.Status),
			Detail:      e.Detail,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	}

	writeJSON(w, 200, map[string]any{
		"run_id": runID,
		"result": res,
	})
}

func (h *handlers) artifactByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, data, err := h.artifacts.Get(r.Context(), id)
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, 404, err)
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", a.Mime)
	w.WriteHeader(200)
	w.Write(data)
}

func (h *handlers) runTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.traces.ByRun(id)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if entries == nil {
		entries = []tracelog.Entry{}
	}
	writeJSON(w, 200, map[string]any{"run_id": id, "entries": entries})
}

// --- Rate limiting ---

func (h *handlers) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiterFor(clientIP(r)).Allow() {
			writeError(w, 429, fmt.Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) limiterFor(ip string) *rate.Limiter {
	if v, ok := h.limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	every := time.Duration(h.cfg.RateLimit.EveryMs) * time.Millisecond
	if every <= 0 {
		every = 600 * time.Millisecond
	}
	burst := h.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 20
	}
	limiter := rate.NewLimiter(rate.Every(every), burst)
	actual, _ := h.limiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
