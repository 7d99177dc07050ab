package http

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/filedrop/internal/logging"
	"github.com/aretw0/filedrop/internal/upload"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/aretw0/filedrop/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session keys written by the handlers.
const (
	KeyVisitorID = "session_id"
	KeyFileName  = "file_name"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Options configures NewHandler.
type Options struct {
	// Store backs the session middleware and the /sessions dump.
	Store ports.InspectableStore
	Codec session.Codec
	// SessionOptions are passed to session.Middleware (TTL, cookie, manager).
	SessionOptions []session.MiddlewareOption

	Uploads        upload.Storage
	MaxUploadBytes int64
	// BaseURL prefixes file links on the index page. An empty BaseURL makes GET / fail.
	BaseURL string
	Version string

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server holds the state shared by the handlers.
type Server struct {
	opts   Options
	logger *slog.Logger
}

// NewHandler creates the HTTP handler for the upload site.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	s := &Server{opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/sessions", s.GetSessions)
	r.Get("/uploads/{name}", s.GetUpload)

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(opts.Store, opts.Codec, opts.SessionOptions...))
		r.Get("/", s.GetIndex)
		r.Post("/", s.PostUpload)
	})

	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

type indexData struct {
	BaseURL  string
	FileName string
}

// GetIndex handles GET /. It gives every visitor a stable identifier on first sight.
func (s *Server) GetIndex(w http.ResponseWriter, r *http.Request) {
	sess := session.FromRequest(r)
	visitorID, ok := sess.Get(KeyVisitorID)
	if !ok {
		visitorID = uuid.NewString()
		sess.Insert(KeyVisitorID, visitorID)
	}
	fileName, _ := sess.Get(KeyFileName)

	if s.opts.BaseURL == "" {
		http.Error(w, "BASE_URL is not set", http.StatusInternalServerError)
		s.logger.Error("Index: BASE_URL is not set")
		return
	}

	var buf bytes.Buffer
	data := indexData{BaseURL: strings.TrimSuffix(s.opts.BaseURL, "/"), FileName: fileName}
	if err := indexTemplate.Execute(&buf, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		s.logger.Error("Index: template render failed", "err", err)
		return
	}

	s.logger.Debug("Index rendered", "visitor_id", visitorID, "file_name", fileName)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// PostUpload handles POST /, storing the first file part under the visitor's identifier.
func (s *Server) PostUpload(w http.ResponseWriter, r *http.Request) {
	sess := session.FromRequest(r)
	visitorID, ok := sess.Get(KeyVisitorID)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := s.opts.Uploads.Ready(); err != nil {
		http.Error(w, "Upload directory does not exist", http.StatusServiceUnavailable)
		s.logger.Error("Upload: directory missing", "dir", s.opts.Uploads.Dir)
		return
	}

	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}

	part, err := firstFilePart(r)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, http.ErrNotMultipart):
			http.Error(w, "No file found in the request", http.StatusBadRequest)
		case isTooLarge(err):
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
		default:
			http.Error(w, fmt.Sprintf("Error reading payload: %v", err), http.StatusInternalServerError)
			s.logger.Error("Upload: reading payload failed", "err", err)
		}
		return
	}
	defer part.Close()

	name, err := s.opts.Uploads.Save(r.Context(), visitorID, part.FileName(), part)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUploadDirMissing):
			http.Error(w, "Upload directory does not exist", http.StatusServiceUnavailable)
		case isTooLarge(err):
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
		default:
			http.Error(w, fmt.Sprintf("Failed to store file: %v", err), http.StatusInternalServerError)
		}
		s.logger.Error("Upload: storing file failed", "visitor_id", visitorID, "err", err)
		return
	}

	s.logger.Info("File uploaded", "visitor_id", visitorID, "file_name", name)
	sess.Insert(KeyFileName, name)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// firstFilePart returns the first multipart part that carries a file.
// io.EOF means the body holds none.
func firstFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" || part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// GetSessions handles GET /sessions with a plain-text dump of every session.
func (s *Server) GetSessions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.opts.Store.List(r.Context())
	if err != nil {
		http.Error(w, "Failed to access session store", http.StatusInternalServerError)
		s.logger.Error("Sessions: listing failed", "err", err)
		return
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "Session Key: %s\n", e.ID)
		keys := make([]string, 0, len(e.State))
		for k := range e.State {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s -> %s\n", k, e.State[k])
		}
		fmt.Fprintf(&b, "TTL: %s\n\n", e.TTL)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, b.String())
}

// GetUpload handles GET /uploads/{name}.
func (s *Server) GetUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := s.opts.Uploads.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{
		"app":     "filedrop",
		"version": strings.TrimSpace(s.opts.Version),
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encode failed", "err", err)
	}
}
