package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxfile/fluxfile/internal/archive"
	"github.com/fluxfile/fluxfile/internal/config"
	"github.com/fluxfile/fluxfile/internal/delivery"
	"github.com/fluxfile/fluxfile/internal/fsx"
	"github.com/fluxfile/fluxfile/internal/signaling"
)

// Server wires the filesystem resolver, the delivery engine and the
// signaling broker into one HTTP surface. All dependencies are passed
// in at construction; the package holds no global state.
type Server struct {
	cfg      *config.Config
	resolver *fsx.Resolver
	engine   *delivery.Engine
	broker   *signaling.Broker
	metrics  *metrics
	log      *slog.Logger
}

// New builds a Server from its collaborators.
func New(cfg *config.Config, resolver *fsx.Resolver, engine *delivery.Engine, broker *signaling.Broker) *Server {
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		engine:   engine,
		broker:   broker,
		metrics:  newMetrics(broker),
		log:      slog.Default().With("component", "server"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/fs/download", s.handleDownload)
	mux.HandleFunc("HEAD /api/fs/download", s.handleDownload)
	mux.HandleFunc("GET /api/fs/archive", s.handleArchive)
	mux.HandleFunc("GET /api/fs/list", s.handleList)
	mux.HandleFunc("GET /api/fs/info", s.handleInfo)
	mux.HandleFunc("GET /api/fs/hash", s.handleHash)

	mux.HandleFunc("GET /api/signaling/ice-servers", s.handleICEServers)
	mux.HandleFunc("GET /api/signaling/rooms", s.handleRooms)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	clientPath := r.URL.Query().Get("path")
	if clientPath == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	abs, info, err := s.resolver.ResolveFile(clientPath)
	if err != nil {
		s.writeFsError(w, err)
		return
	}

	filename := ""
	if r.URL.Query().Get("attachment") != "false" {
		filename = filepath.Base(abs)
	}

	desc, err := s.engine.Describe(abs, info, r.Header.Get("Range"), filename)
	switch {
	case errors.Is(err, delivery.ErrUnsatisfiable):
		w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(info.Size(), 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		s.metrics.downloads.WithLabelValues("416").Inc()
		return
	case errors.Is(err, delivery.ErrTooLarge):
		s.metrics.downloads.WithLabelValues("413").Inc()
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sent, err := s.engine.Serve(w, r, desc)
	s.metrics.bytesDelivered.Add(float64(sent))
	if err != nil {
		// The response is still uncommitted: the file vanished or
		// became unreadable between stat and open.
		s.writeFsError(w, statusFromOpenErr(err))
		return
	}
	if desc.Window.Partial {
		s.metrics.downloads.WithLabelValues("206").Inc()
	} else {
		s.metrics.downloads.WithLabelValues("200").Inc()
	}
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	clientPath := r.URL.Query().Get("path")
	if clientPath == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	abs, err := s.resolver.ResolveDir(clientPath)
	if err != nil {
		s.writeFsError(w, err)
		return
	}
	// Probe readability before committing headers; an unreadable root
	// fails the whole operation with a client-facing status.
	if _, err := os.ReadDir(abs); err != nil {
		s.writeFsError(w, statusFromOpenErr(err))
		return
	}

	exclude := r.URL.Query()["exclude"]
	name := filepath.Base(abs)
	if name == string(filepath.Separator) || name == "." {
		name = "archive"
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.zip"`)
	s.metrics.archives.Inc()

	packer := archive.New(abs, exclude, s.cfg.ArchiveFlushThreshold)
	if err := packer.Stream(w); err != nil {
		// Headers are committed; nothing left to do but log.
		s.log.Warn("archive stream aborted", "path", clientPath, "error", err)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientPath := q.Get("path")
	if clientPath == "" {
		clientPath = "/"
	}
	opts := fsx.ScanOptions{
		ShowHidden: s.cfg.ShowHidden || q.Get("hidden") == "true",
		SortBy:     q.Get("sort_by"),
		SortDesc:   q.Get("sort_desc") == "true",
	}
	listing, err := s.resolver.ListDirectory(clientPath, opts)
	if err != nil {
		s.writeFsError(w, err)
		return
	}
	s.writeJSON(w, listing)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	clientPath := r.URL.Query().Get("path")
	if clientPath == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	entry, err := s.resolver.Info(clientPath)
	if err != nil {
		s.writeFsError(w, err)
		return
	}
	s.writeJSON(w, entry)
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	clientPath := r.URL.Query().Get("path")
	if clientPath == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	result, err := s.resolver.HashFile(clientPath)
	if err != nil {
		s.writeFsError(w, err)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.broker.Rooms()
	s.writeJSON(w, map[string]any{"rooms": rooms, "total": len(rooms)})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeFsError maps resolver errors onto client-facing statuses.
func (s *Server) writeFsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fsx.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fsx.ErrForbidden):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, fsx.ErrNotAFile), errors.Is(err, fsx.ErrNotADirectory):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// statusFromOpenErr converts a raw open/read failure into the
// resolver's error taxonomy so writeFsError can map it.
func statusFromOpenErr(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errors.Join(fsx.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return errors.Join(fsx.ErrForbidden, err)
	default:
		return err
	}
}
