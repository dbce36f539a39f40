package httpserver

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"steamshots/internal/fsutil"
	"steamshots/internal/gallery"
	"steamshots/internal/logging"
	"steamshots/internal/metrics"
)

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	root, ok := s.rootDir(w, r)
	if !ok {
		return
	}
	rel, err := fsutil.CheckImagePath(strings.TrimPrefix(r.URL.Path, imagePrefix))
	if err != nil {
		metrics.RecordImageRequest("invalid")
		msg := "invalid path"
		if errors.Is(err, fsutil.ErrInvalidFileType) {
			msg = "invalid file type"
		}
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	s.serveFile(w, r, root, rel)
}

// serveFile streams root/rel. rel must already have passed CheckImagePath.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, root, rel string) {
	log := logging.WithContext(r.Context()).With(zap.String("path", rel))

	abs, err := fsutil.JoinWithinRoot(root, rel)
	if err != nil {
		metrics.RecordImageRequest("invalid")
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	real, err := fsutil.ResolveWithinRoot(root, abs, s.cfg.FollowSymlinks)
	switch {
	case err == nil:
	case isMissing(err):
		if s.serveThumbnail(w, r, root, rel) {
			return
		}
		notFound(w)
		return
	case errors.Is(err, fsutil.ErrEscapesRoot):
		log.Warn("refusing path outside root")
		notFound(w)
		return
	default:
		log.Error("resolve image", zap.Error(err))
		metrics.RecordImageRequest("error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(real)
	if err != nil {
		if isMissing(err) {
			notFound(w)
			return
		}
		log.Error("open image", zap.Error(err))
		metrics.RecordImageRequest("error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		log.Error("stat image", zap.Error(err))
		metrics.RecordImageRequest("error")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !st.Mode().IsRegular() {
		notFound(w)
		return
	}

	w.Header().Set("Content-Type", contentTypeForName(st.Name()))
	w.Header().Set("ETag", etag(st))
	metrics.RecordImageRequest("served")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func notFound(w http.ResponseWriter) {
	metrics.RecordImageRequest("not_found")
	http.Error(w, "not found", http.StatusNotFound)
}

// isMissing covers both a missing leaf and a regular file used as a folder.
func isMissing(err error) bool {
	return fsutil.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

// etag is weak: it is derived from size and mtime, not content.
func etag(st fs.FileInfo) string {
	return fmt.Sprintf(`W/"%x-%x"`, st.Size(), st.ModTime().UnixNano())
}

// thumbnailSource maps "<folder>/thumbnails/<file>" to "<folder>/<file>".
func thumbnailSource(rel string) (string, bool) {
	dir, file := path.Split(rel)
	dir = strings.TrimSuffix(dir, "/")
	if path.Base(dir) != gallery.ThumbnailDir {
		return "", false
	}
	parent := path.Dir(dir)
	if parent == "." {
		return file, true
	}
	return parent + "/" + file, true
}

func contentTypeForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
