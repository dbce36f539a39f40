package httpserver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"steamshots/internal/fsutil"
	"steamshots/internal/logging"
	"steamshots/internal/metrics"
)

// serveThumbnail answers a request for a missing Steam thumbnail by scaling
// the full screenshot next to it. Nothing is written to disk. It reports
// false when the request is not a thumbnail path or no original exists.
func (s *Server) serveThumbnail(w http.ResponseWriter, r *http.Request, root, rel string) bool {
	if !s.cfg.Thumbnails.Generate {
		return false
	}
	src, ok := thumbnailSource(rel)
	if !ok {
		return false
	}
	abs, err := fsutil.JoinWithinRoot(root, src)
	if err != nil {
		return false
	}
	real, err := fsutil.ResolveWithinRoot(root, abs, s.cfg.FollowSymlinks)
	if err != nil {
		return false
	}
	st, err := os.Stat(real)
	if err != nil || !st.Mode().IsRegular() {
		return false
	}

	maxEdge := s.cfg.Thumbnails.MaxEdge
	b, err := makeThumb(real, maxEdge)
	if err != nil {
		logging.WithContext(r.Context()).Warn("thumbnail generation failed",
			zap.String("source", src), zap.Error(err))
		return false
	}
	metrics.RecordThumbnailGenerated()
	metrics.RecordImageRequest("thumbnail")

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("ETag", fmt.Sprintf(`W/"t%d-%x-%x"`, maxEdge, st.Size(), st.ModTime().UnixNano()))
	http.ServeContent(w, r, path.Base(rel), st.ModTime(), bytes.NewReader(b))
	return true
}

func makeThumb(absPath string, maxEdge int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := jpeg.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, os.ErrInvalid
	}
	nw, nh := fitWithin(b.Dx(), b.Dy(), maxEdge)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fitWithin scales w x h down so the longer edge is at most maxEdge, keeping
// the aspect ratio. Images already small enough keep their size.
func fitWithin(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 {
		maxEdge = 256
	}
	long := max(w, h)
	if long <= maxEdge {
		return w, h
	}
	scale := float64(maxEdge) / float64(long)
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))
	return nw, nh
}
