package httpserver

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"steamshots/internal/auth"
	"steamshots/internal/config"
	"steamshots/internal/gallery"
	"steamshots/internal/logging"
	"steamshots/internal/metrics"
)

type Options struct {
	Config *config.Config
	Root   config.Root
}

type Server struct {
	cfg  *config.Config
	root config.Root
	tmpl *template.Template
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	tmpl, err := template.New("index.html").Funcs(template.FuncMap{
		"imageURL": imageURL,
		"when":     formatTime,
	}).ParseFS(embeddedWeb, "web/index.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:  opts.Config,
		root: opts.Root,
		tmpl: tmpl,
	}, nil
}

// HTTPServer builds the listener-facing server with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Duration(s.cfg.Server.ReadHeaderTimeout),
		IdleTimeout:       time.Duration(s.cfg.Server.IdleTimeout),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	// gallery
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/images", s.handleAPIImages)

	if s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	if s.cfg.WebDAV.Enabled {
		mux.Handle("/dav/", s.davHandler())
	}

	// /image/ is dispatched ahead of the mux: ServeMux answers paths with ".."
	// by redirecting to the cleaned path, and those must reach the path check.
	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, imagePrefix) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Allow", "GET, HEAD")
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			s.handleImage(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	h := auth.RequireAuth(s.cfg.Auth, router, "/healthz")
	return logging.Middleware(metrics.Middleware(withHeaders(h)))
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		// images revalidate via ETag/Last-Modified
		if strings.HasPrefix(r.URL.Path, imagePrefix) {
			w.Header().Set("Cache-Control", "private, no-cache")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// rootDir returns the resolved root or answers 500.
func (s *Server) rootDir(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.root.Err != nil || s.root.Dir == "" {
		err := s.root.Err
		if err == nil {
			err = config.ErrNoHome
		}
		logging.WithContext(r.Context()).Error("root directory unresolved", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "", false
	}
	return s.root.Dir, true
}

// --- handlers ---

type indexPage struct {
	Images []gallery.Image
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	images, ok := s.listImages(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, indexPage{Images: images}); err != nil {
		logging.WithContext(r.Context()).Error("render index", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

type apiImage struct {
	Path         string `json:"path"`
	Thumbnail    string `json:"thumbnail"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	User         string `json:"user,omitempty"`
	Game         string `json:"game,omitempty"`
	Mtime        int64  `json:"mtime,omitempty"` // unix seconds; absent when unknown
}

func (s *Server) handleAPIImages(w http.ResponseWriter, r *http.Request) {
	images, ok := s.listImages(w, r)
	if !ok {
		return
	}
	items := make([]apiImage, 0, len(images))
	for _, img := range images {
		it := apiImage{
			Path:         img.Path,
			Thumbnail:    img.Thumbnail,
			URL:          imageURL(img.Path),
			ThumbnailURL: imageURL(img.Thumbnail),
			User:         img.UserID,
			Game:         img.GameID,
		}
		if !img.ModTime.IsZero() {
			it.Mtime = img.ModTime.Unix()
		}
		items = append(items, it)
	}
	writeJSON(w, map[string]any{
		"count":  len(items),
		"images": items,
	})
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) ([]gallery.Image, bool) {
	root, ok := s.rootDir(w, r)
	if !ok {
		return nil, false
	}
	images, err := gallery.List(r.Context(), root, gallery.WalkOptions{FollowSymlinks: s.cfg.FollowSymlinks})
	if err != nil {
		log := logging.WithContext(r.Context())
		if errors.Is(err, context.Canceled) {
			log.Debug("listing abandoned", zap.Error(err))
			return nil, false
		}
		log.Error("listing failed", zap.String("root", root), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return images, true
}

// --- helpers ---

const imagePrefix = "/image/"

// imageURL escapes each segment of a candidate path for use under /image/.
func imageURL(candidate string) string {
	segs := strings.Split(candidate, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return imagePrefix + strings.Join(segs, "/")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
